// Package types defines the shared domain and wire types of the compute grid:
// tasks and their queue status, the per-platform task projection handed to nodes,
// node records held by the hub, and the request/response bodies of the HTTP surface.
package types
