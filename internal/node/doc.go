// Package node implements the gridnode agent: the task feed that polls the hub,
// the per-slot controllers that keep one execution unit of the current task
// running, the liveness reporter, and the shutdown coordinator that ties them
// together.
//
// Slots share nothing but a broadcast TaskSignal, the Shutdown flag and the
// SlotStats counters.
package node
