package common

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EnvPrefix marks the variables that override settings
const EnvPrefix = "EA_STRESS_"

// EnvLoader loads .env files into the process environment
type EnvLoader struct {
	logger zerolog.Logger
}

// NewEnvLoader creates a new environment loader
func NewEnvLoader(logger zerolog.Logger) *EnvLoader {
	return &EnvLoader{logger: logger}
}

// LoadEnvFile loads environment variables from a file. A missing file is not
// an error; variables already set in the environment are kept.
func (e *EnvLoader) LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		e.logger.Debug().Str("path", path).Msg("Environment file not found, using system environment")
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load environment file %s: %w", path, err)
	}

	e.logger.Debug().Str("path", path).Strs("overrides", e.Overrides()).Msg("Environment loaded")
	return nil
}

// Overrides lists the names of the settings overrides present in the environment
func (e *EnvLoader) Overrides() []string {
	var names []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
