package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/duke-git/lancet/v2/maputil"
	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
)

// ManagedLabel marks every unit created by gridcore.
const ManagedLabel = "io.gridcore.managed"

// DockerDriver implements Driver against a Docker Engine.
type DockerDriver struct {
	cli *client.Client
}

// ConnectDocker connects to the Docker Engine configured by the environment,
// retrying up to attempts times with interval between tries.
func ConnectDocker(ctx context.Context, attempts int, interval time.Duration) (*DockerDriver, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		d, err := newDockerDriver(ctx)
		if err == nil {
			logger.Info("Connected to Docker", zap.Int("attempt", attempt))
			return d, nil
		}
		lastErr = err

		logger.Warn("Docker connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("docker not available after %d attempts: %w", attempts, lastErr)
}

func newDockerDriver(ctx context.Context) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to ping docker: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

// Close releases the Docker client.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// PullImage pulls image for platform. A failed pull of an image that is already
// present locally is logged and treated as success.
func (d *DockerDriver) PullImage(ctx context.Context, ref, platform string) error {
	logger.Info("Pulling image", zap.String("image", ref), zap.String("platform", platform))

	err := d.pull(ctx, ref, platform)
	if err == nil {
		logger.Info("Image pull completed", zap.String("image", ref))
		return nil
	}

	if _, _, inspectErr := d.cli.ImageInspectWithRaw(ctx, ref); inspectErr == nil {
		logger.Warn("Image pull failed, using local copy", zap.String("image", ref), zap.Error(err))
		return nil
	}
	return fmt.Errorf("failed to pull image %s: %w", ref, err)
}

func (d *DockerDriver) pull(ctx context.Context, ref, platform string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{Platform: platform})
	if err != nil {
		return err
	}
	defer rc.Close()

	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

// StartUnit creates and starts a unit. An existing unit with the same name is
// force-removed and creation retried once.
func (d *DockerDriver) StartUnit(ctx context.Context, spec UnitSpec) (string, error) {
	id, err := d.create(ctx, spec)
	if errdefs.IsConflict(err) {
		logger.Warn("Unit already exists, removing and recreating", zap.String("unit", spec.Name))
		if rmErr := d.RemoveUnit(ctx, spec.Name); rmErr != nil {
			return "", fmt.Errorf("failed to remove existing unit %s: %w", spec.Name, rmErr)
		}
		id, err = d.create(ctx, spec)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create unit %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		_ = d.RemoveUnit(context.WithoutCancel(ctx), id)
		return "", fmt.Errorf("failed to start unit %s: %w", spec.Name, err)
	}

	logger.Info("Started unit", zap.String("unit", spec.Name), zap.String("id", shortID(id)))
	return id, nil
}

func (d *DockerDriver) create(ctx context.Context, spec UnitSpec) (string, error) {
	keys := maputil.Keys(spec.Env)
	slice.Sort(keys)
	env := slice.Map(keys, func(_ int, k string) string {
		return k + "=" + spec.Env[k]
	})

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	hostConfig := &container.HostConfig{}
	if spec.MemoryMB > 0 {
		hostConfig.Resources.Memory = spec.MemoryMB * 1024 * 1024
	}
	if spec.CPUs > 0 {
		hostConfig.Resources.NanoCPUs = int64(spec.CPUs * 1e9)
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: labels,
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		logger.Warn("Docker create warning", zap.String("unit", spec.Name), zap.String("warning", w))
	}
	return resp.ID, nil
}

// WaitUnit blocks until the unit stops and returns its exit code.
func (d *DockerDriver) WaitUnit(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-statusCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return resp.StatusCode, fmt.Errorf("wait on unit %s: %s", shortID(id), resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		if errdefs.IsNotFound(err) {
			return 0, fmt.Errorf("unit %s: %w", shortID(id), ErrNotFound)
		}
		return 0, fmt.Errorf("wait on unit %s: %w", shortID(id), err)
	}
}

// StopUnit stops a unit, killing it after grace.
func (d *DockerDriver) StopUnit(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop unit %s: %w", shortID(id), err)
	}
	return nil
}

// RemoveUnit force-removes a unit.
func (d *DockerDriver) RemoveUnit(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove unit %s: %w", shortID(id), err)
	}
	return nil
}

// RemoveExited removes exited units created by gridcore.
func (d *DockerDriver) RemoveExited(ctx context.Context) (int, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", ManagedLabel+"=true"),
			filters.Arg("status", "exited"),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list units: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := d.RemoveUnit(ctx, c.ID); err != nil {
			logger.Warn("Failed to remove exited unit", zap.String("id", shortID(c.ID)), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
