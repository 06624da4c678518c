// Package config loads, normalizes, and validates Bhasha configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and GEMINI_API_KEY. The Config type centralizes every knob the
// worker daemon and CLI need, so curation thresholds, provider credentials, and
// scheduler timing are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
