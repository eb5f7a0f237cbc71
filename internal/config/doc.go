// Package config provides configuration loading and validation for the
// hands-free VAD daemon. Values come from a YAML file layered over built-in
// defaults, with a small set of environment overrides that may also be
// supplied through a .env file.
package config
