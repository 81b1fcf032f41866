// Package config resolves the worker configuration from an optional YAML
// file, optional .env files, the process environment and command-line
// overrides, in that order of increasing precedence.
package config
