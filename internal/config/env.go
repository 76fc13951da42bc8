package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. PRAYER_ALARMS_METHOD.
const EnvPrefix = "PRAYER_ALARMS_"

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given) without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with every PRAYER_ALARMS_<KEY> variable that is set.
// Each value goes through Set, so invalid values are reported rather than
// silently used.
func ApplyEnv(c *Config) error {
	var errs []error
	for _, key := range ValidKeys {
		value, ok := os.LookupEnv(EnvName(key))
		if !ok || value == "" {
			continue
		}
		if err := c.Set(key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(key), err))
		}
	}
	return errors.Join(errs...)
}
