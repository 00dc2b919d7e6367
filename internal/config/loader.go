package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	// EnvConfigFile overrides the YAML path.
	EnvConfigFile     = "SCHOOLCHAT_CONFIG_FILE"
	defaultConfigFile = "./config.yaml"
	dotEnvFile        = ".env"
)

// Load reads .env (if present), then the YAML file, then the environment.
// Priority: ENV > YAML > defaults. A missing default YAML file means env and
// defaults only; a missing explicit file is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(dotEnvFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "config: load %s", dotEnvFile)
	}

	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	} else if explicit {
		return nil, errors.Wrapf(err, "config: file %s", path)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: read env")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config: validate")
	}
	return &cfg, nil
}
