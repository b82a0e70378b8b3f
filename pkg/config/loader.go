package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// EnvVar is the environment variable naming the configuration file path.
const EnvVar = "INGEST_CORE_CONFIG"

// Load reads, env-expands, and parses the configuration file at path.
// Missing environment variables referenced in the file expand to the
// empty string; Validate() is responsible for catching fields that end
// up empty as a result. Load never applies defaults silently over a
// value the file set explicitly — it unmarshals onto DefaultConfig(),
// so only fields the file omits keep their default.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; dev convenience only

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	cfg.configPath = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads the configuration file path from EnvVar.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s not set", EnvVar)
	}
	return Load(path)
}
