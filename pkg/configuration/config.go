// Package configuration loads the top level model.Cfg from a YAML file
// named by the MDOC_CONFIG_YAML environment variable.
package configuration

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"mdoccore/pkg/helpers"
	"mdoccore/pkg/logger"
	"mdoccore/pkg/model"

	"github.com/creasty/defaults"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type envVars struct {
	ConfigYAML string `envconfig:"MDOC_CONFIG_YAML" required:"true"`
}

// New parses the config file named by MDOC_CONFIG_YAML.
func New(ctx context.Context) (*model.Cfg, error) {
	log := logger.NewSimple("configuration")
	log.Info("reading environment variables")

	env := envVars{}
	if err := envconfig.Process("", &env); err != nil {
		return nil, err
	}

	cfg := &model.Cfg{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	configPath := filepath.Clean(env.ConfigYAML)

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, err
	}
	if fileInfo.IsDir() {
		return nil, errors.New("config path is a directory")
	}

	configFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(configFile, cfg); err != nil {
		return nil, err
	}

	if err := helpers.CheckSimple(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
