// Package containertest provides an in-memory container.Driver for tests.
package containertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wolido/idm-gridcore/internal/container"
)

// StoppedExitCode is the exit code a unit reports after StopUnit.
const StoppedExitCode = 137

type unit struct {
	id       string
	spec     container.UnitSpec
	done     chan struct{}
	exitCode int64
	finished bool
	removed  bool
}

// Driver is an in-memory container.Driver. Units run until Finish or StopUnit.
type Driver struct {
	mu sync.Mutex

	nextID int
	units  map[string]*unit
	byName map[string]string

	// PullFailures makes the next N pulls fail.
	PullFailures int
	// StartFailures makes the next N starts fail.
	StartFailures int
	// AutoExit, when set, finishes every started unit immediately with that code.
	AutoExit *int64

	pulls   []string
	started []container.UnitSpec
	stopped []string
	removed []string
}

// New creates an empty fake driver.
func New() *Driver {
	return &Driver{
		units:  make(map[string]*unit),
		byName: make(map[string]string),
	}
}

// PullImage records the pull.
func (d *Driver) PullImage(ctx context.Context, image, platform string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pulls = append(d.pulls, image+"@"+platform)
	if d.PullFailures > 0 {
		d.PullFailures--
		return errors.New("pull failed")
	}
	return nil
}

// StartUnit creates a running unit, replacing one with the same name.
func (d *Driver) StartUnit(ctx context.Context, spec container.UnitSpec) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.StartFailures > 0 {
		d.StartFailures--
		return "", errors.New("start failed")
	}

	if old, ok := d.byName[spec.Name]; ok {
		d.finishLocked(d.units[old], StoppedExitCode)
		d.units[old].removed = true
	}

	d.nextID++
	u := &unit{
		id:   fmt.Sprintf("unit-%d", d.nextID),
		spec: spec,
		done: make(chan struct{}),
	}
	d.units[u.id] = u
	d.byName[spec.Name] = u.id
	d.started = append(d.started, spec)

	if d.AutoExit != nil {
		d.finishLocked(u, *d.AutoExit)
	}
	return u.id, nil
}

// WaitUnit blocks until the unit finishes or ctx is done.
func (d *Driver) WaitUnit(ctx context.Context, id string) (int64, error) {
	d.mu.Lock()
	u, ok := d.units[id]
	d.mu.Unlock()
	if !ok {
		return 0, container.ErrNotFound
	}

	select {
	case <-u.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return u.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// StopUnit finishes a running unit with StoppedExitCode.
func (d *Driver) StopUnit(ctx context.Context, id string, grace time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = append(d.stopped, id)
	if u, ok := d.units[id]; ok {
		d.finishLocked(u, StoppedExitCode)
	}
	return nil
}

// RemoveUnit marks a unit removed.
func (d *Driver) RemoveUnit(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removed = append(d.removed, id)
	if u, ok := d.units[id]; ok {
		d.finishLocked(u, StoppedExitCode)
		u.removed = true
		if d.byName[u.spec.Name] == id {
			delete(d.byName, u.spec.Name)
		}
	}
	return nil
}

// Finish makes the running unit with the given name exit with code.
// It reports whether such a unit was running.
func (d *Driver) Finish(name string, code int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byName[name]
	if !ok {
		return false
	}
	u := d.units[id]
	if u.finished {
		return false
	}
	d.finishLocked(u, code)
	return true
}

// Running returns the specs of units that have not finished.
func (d *Driver) Running() []container.UnitSpec {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []container.UnitSpec
	for _, u := range d.units {
		if !u.finished {
			out = append(out, u.spec)
		}
	}
	return out
}

// Started returns every started unit spec in order.
func (d *Driver) Started() []container.UnitSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]container.UnitSpec(nil), d.started...)
}

// Pulls returns every pull as image@platform in order.
func (d *Driver) Pulls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.pulls...)
}

// Stopped returns the ids passed to StopUnit.
func (d *Driver) Stopped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stopped...)
}

// Removed returns the ids passed to RemoveUnit.
func (d *Driver) Removed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.removed...)
}

// Spec returns the spec of a unit id.
func (d *Driver) Spec(id string) (container.UnitSpec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.units[id]
	if !ok {
		return container.UnitSpec{}, false
	}
	return u.spec, true
}

func (d *Driver) finishLocked(u *unit, code int64) {
	if u.finished {
		return
	}
	u.finished = true
	u.exitCode = code
	close(u.done)
}

var _ container.Driver = (*Driver)(nil)
