// Package container defines the execution-unit driver used by gridnode slots and
// its Docker Engine implementation.
package container

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned when a unit or image does not exist.
var ErrNotFound = errors.New("not found")

// UnitSpec describes one execution unit to create and start.
type UnitSpec struct {
	Name     string
	Image    string
	Platform string
	Env      map[string]string
	Labels   map[string]string
	MemoryMB int64
	CPUs     float64
}

// Driver pulls images and manages the lifecycle of execution units.
//
// PullImage is idempotent. StartUnit replaces an existing unit with the same
// name. WaitUnit blocks until the unit exits or ctx is done. StopUnit and
// RemoveUnit succeed when the unit is already gone.
type Driver interface {
	PullImage(ctx context.Context, image, platform string) error
	StartUnit(ctx context.Context, spec UnitSpec) (string, error)
	WaitUnit(ctx context.Context, id string) (int64, error)
	StopUnit(ctx context.Context, id string, grace time.Duration) error
	RemoveUnit(ctx context.Context, id string) error
}

// Janitor is implemented by drivers that can remove exited units left behind by
// an earlier run.
type Janitor interface {
	RemoveExited(ctx context.Context) (int, error)
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// UnitName returns the unit name for a slot: idm-<task>-<node>-<slot>.
// Characters the runtime rejects are replaced with '-'.
func UnitName(task, nodeID string, slot int) string {
	name := fmt.Sprintf("idm-%s-%s-%d", task, nodeID, slot)
	return invalidNameChars.ReplaceAllString(name, "-")
}
