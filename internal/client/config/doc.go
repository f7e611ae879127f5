// Package config loads settings for the registry admin CLI: defaults first,
// then an optional JSON file (comments allowed), then command-line flags.
package config
