// Package rest provides the hub's HTTP API: the admin task and node endpoints
// and the gridnode registration, heartbeat and task-poll endpoints.
package rest

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// Server is the hub HTTP server.
type Server struct {
	app    *fiber.App
	state  *hub.State
	config *Config
}

// Config holds the configuration for the hub HTTP server.
type Config struct {
	// Address is the address to listen on (e.g., "0.0.0.0:8080").
	Address string

	// Token is the shared bearer token required on every route except /health.
	Token string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// AccessLog enables the per-request log line.
	AccessLog bool
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		AccessLog:    true,
	}
}

// NewServer creates the hub HTTP server over state.
func NewServer(state *hub.State, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "idm-gridcore hub",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	server := &Server{
		app:    app,
		state:  state,
		config: config,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	if s.config.AccessLog {
		s.app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}

	s.app.Use(s.authMiddleware())
}

// authMiddleware rejects requests without the shared bearer token.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(types.ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header is required",
			})
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(types.ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid token",
			})
		}

		return c.Next()
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	// Admin routes
	api := s.app.Group("/api")
	api.Post("/tasks", s.createTask)
	api.Get("/tasks", s.listTasks)
	api.Post("/tasks/next", s.nextTask)
	api.Get("/nodes", s.listNodes)
	api.Post("/nodes/:id/stop", s.stopNode)
	api.Delete("/nodes/:id/stop", s.resumeNode)

	// Gridnode routes
	node := s.app.Group("/gridnode")
	node.Post("/register", s.registerNode)
	node.Post("/heartbeat", s.heartbeat)
	node.Get("/task", s.currentTask)
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the server and shuts it down when ctx is done.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(10 * time.Second)
	case err := <-errCh:
		return err
	}
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
