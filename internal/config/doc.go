// Package config provides environment-based configuration.
//
// Loads settings from environment variables into a Config struct,
// validates required fields, and applies heartbeat defaults.
package config
