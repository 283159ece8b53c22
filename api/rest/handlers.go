package rest

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// healthCheck handles GET /health.
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// createTask handles POST /api/tasks.
func (s *Server) createTask(c *fiber.Ctx) error {
	var req types.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Task name is required",
		})
	}
	for platform, image := range req.Images {
		if platform == "" || image == "" {
			return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
				Error:   "invalid_request",
				Message: fmt.Sprintf("Image for platform %q must not be empty", platform),
			})
		}
	}

	s.state.AddTask(req.Task())
	logger.Info("Task registered", zap.String("task", req.Name), zap.String("image", req.Image), zap.Int("platform_images", len(req.Images)))

	return c.SendStatus(fiber.StatusCreated)
}

// listTasks handles GET /api/tasks.
func (s *Server) listTasks(c *fiber.Ctx) error {
	return c.JSON(s.state.ListTasks())
}

// nextTask handles POST /api/tasks/next.
func (s *Server) nextTask(c *fiber.Ctx) error {
	prev, cur, err := s.state.Advance()
	if errors.Is(err, hub.ErrQueueExhausted) {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "queue_exhausted",
			Message: "No more tasks available",
		})
	}
	if err != nil {
		return err
	}

	logger.Info("Switched task", zap.String("previous", prev), zap.String("current", cur))
	return c.JSON(types.NextTaskResponse{Previous: prev, Current: cur})
}

// listNodes handles GET /api/nodes.
func (s *Server) listNodes(c *fiber.Ctx) error {
	return c.JSON(s.state.ListNodes())
}

// stopNode handles POST /api/nodes/:id/stop.
func (s *Server) stopNode(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.state.RequestStop(id); err != nil {
		return nodeNotFound(c, id)
	}

	logger.Info("Stop requested for node", zap.String("node_id", id))
	return c.SendStatus(fiber.StatusAccepted)
}

// resumeNode handles DELETE /api/nodes/:id/stop.
func (s *Server) resumeNode(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.state.ClearStop(id); err != nil {
		return nodeNotFound(c, id)
	}

	logger.Info("Stop request cleared for node", zap.String("node_id", id))
	return c.SendStatus(fiber.StatusOK)
}

// registerNode handles POST /gridnode/register.
func (s *Server) registerNode(c *fiber.Ctx) error {
	var req types.RegisterNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	resp := s.state.RegisterNode(req)
	logger.Info("Node registered",
		zap.String("node_id", resp.NodeID),
		zap.String("hostname", req.Hostname),
		zap.String("architecture", req.Architecture),
		zap.Int("cpu_count", req.CPUCount),
		zap.String("task", resp.CurrentTask.Name()),
	)

	return c.JSON(resp)
}

// heartbeat handles POST /gridnode/heartbeat.
func (s *Server) heartbeat(c *fiber.Ctx) error {
	var req types.HeartbeatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}
	if !req.Status.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Unknown runtime status: " + string(req.Status),
		})
	}

	stop, err := s.state.Heartbeat(req)
	if err != nil {
		logger.Warn("Heartbeat from unknown node", zap.String("node_id", req.NodeID))
		return nodeNotFound(c, req.NodeID)
	}

	return c.JSON(types.HeartbeatResponse{StopRequested: stop})
}

// currentTask handles GET /gridnode/task.
func (s *Server) currentTask(c *fiber.Ctx) error {
	platform := c.Query("platform", types.DefaultPlatform)
	return c.JSON(s.state.TaskFor(platform))
}

func nodeNotFound(c *fiber.Ctx, id string) error {
	return c.Status(fiber.StatusNotFound).JSON(types.ErrorResponse{
		Error:   "not_found",
		Message: "Node not found: " + id,
	})
}
