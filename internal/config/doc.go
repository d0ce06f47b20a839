// Package config provides configuration loading and validation for the
// streaming speech-to-text ingest service. It handles YAML-based
// configuration with per-section struct validation.
package config
