// Package config provides the embedded default configuration for rlbridge.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration in YAML format.
// It is written out by "rlbridge config create".
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
