// Package config loads, normalizes, and validates Photonix configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the dispatcher, batch processors and CLI need, so the database location,
// thumbnail variants and classifier endpoints are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
