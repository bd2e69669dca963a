// Package config loads coordinator configuration from YAML with ${VAR}
// environment expansion, applies defaults and validates it.
package config
