package main

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/compresr/dotnet-profile/internal/config"
)

//go:embed configs/*.yaml
var configsFS embed.FS

// getEmbeddedConfig returns the raw bytes of an embedded config file.
// name can be with or without the .yaml extension.
func getEmbeddedConfig(name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".yaml") {
		name += ".yaml"
	}
	return configsFS.ReadFile(path.Join("configs", name))
}

// loadConfig resolves and parses the tool settings.
// Checks: user flag -> ~/.config/dotnet-profile/config.yaml -> embedded default.
// Returns the settings and a source description.
func loadConfig(userConfig string) (*config.Config, string, error) {
	if userConfig != "" {
		cfg, err := config.Load(userConfig)
		return cfg, userConfig, err
	}

	if dir, err := config.Dir(); err == nil {
		p := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			return cfg, p, err
		}
	}

	data, err := getEmbeddedConfig("default")
	if err != nil {
		return nil, "", fmt.Errorf("no config file found. Specify --config path")
	}
	cfg, err := config.LoadFromBytes(data)
	return cfg, "(embedded) default.yaml", err
}
