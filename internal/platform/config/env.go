// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every variable this module reads.
const EnvPrefix = "EVENTCORE_"

// ParseEnv loads configuration from environment variables using the struct's
// env tags verbatim.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParsePrefixedEnv loads configuration with EnvPrefix prepended to every tag,
// so struct tags can stay short ("SNAPSHOT_THRESHOLD").
func ParsePrefixedEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
