// Package config loads application configuration from PULSE_* environment
// variables and validates it before the process starts serving traffic.
package config
