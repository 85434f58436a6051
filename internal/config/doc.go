// Package config provides configuration loading and validation for the relay.
// Values come from built-in defaults, an optional YAML file, a .env file and
// the process environment, applied in that order.
package config
