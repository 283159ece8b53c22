// Package config loads hub and node configuration from YAML files, environment
// variables and command-line overrides, and persists the node identity.
package config
