// ABOUTME: Package config loads and validates the bridge configuration.
// ABOUTME: YAML with ${VAR} expansion, duration parsing, and an environment overlay.

// Package config implements configuration loading for loopgate.
//
// Configuration comes from a YAML file whose ${VAR} references are expanded
// from the environment, then a LOOPGATE_-prefixed environment overlay is
// applied on top for container deployments. Validation failures are loud and
// immediate: a bad config is an integration mistake, not a runtime condition.
package config
