// Package hub implements the authoritative side of the compute grid: the ordered
// task queue with its single current pointer, per-platform image resolution, and
// the heartbeat-driven node registry. All of it is owned by one State value guarded
// by a single reader/writer lock.
package hub
