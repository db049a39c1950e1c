// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg, a pointer to a struct with `env` tags, from the process
// environment.
func Load(cfg any) error {
	return parse(cfg, env.Options{})
}

// LoadFrom is like Load but reads variables from environ instead of the
// process environment. Variables missing from environ take their envDefault.
func LoadFrom(cfg any, environ map[string]string) error {
	if environ == nil {
		environ = map[string]string{}
	}
	return parse(cfg, env.Options{Environment: environ})
}

func parse(cfg any, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
