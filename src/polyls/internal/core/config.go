package core

import (
	"fmt"
	"os"
	"path/filepath"

	uberconfig "go.uber.org/config"
	"go.uber.org/fx"
)

// ConfigModule provides the configuration provider.
var ConfigModule = fx.Options(
	fx.Provide(NewConfig),
)

const (
	_configDirEnv = "POLYLS_CONFIG_DIR"
	_defaultDir   = "src/polyls/config"
	_baseFile     = "base.yaml"
	_overrideFile = "local.yaml"
)

// NewConfig loads YAML configuration with environment variable expansion.
// base.yaml is required; local.yaml overlays it when present.
func NewConfig() (uberconfig.Provider, error) {
	dir := configDir()

	basePath := filepath.Join(dir, _baseFile)
	if _, err := os.Stat(basePath); err != nil {
		return nil, fmt.Errorf("missing base configuration %q: %w", basePath, err)
	}

	options := []uberconfig.YAMLOption{uberconfig.File(basePath)}
	overridePath := filepath.Join(dir, _overrideFile)
	if _, err := os.Stat(overridePath); err == nil {
		options = append(options, uberconfig.File(overridePath))
	}
	options = append(options, uberconfig.Expand(os.LookupEnv))

	provider, err := uberconfig.NewYAML(options...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return provider, nil
}

func configDir() string {
	if dir := os.Getenv(_configDirEnv); dir != "" {
		return dir
	}
	return _defaultDir
}
