// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Per-domain poll intervals are overrides: domains left out keep the
// session defaults and an interval of 0s disables polling that domain.
package config
