package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// DefaultConfigFile is the configuration file name searched in the working
// directory.
const DefaultConfigFile = ".moodlegrab.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Load returns the defaults overlaid with the values from path. An empty
// path means "search the usual places"; not finding a file then is fine.
func Load(path string) (Config, error) {
	cfg := Default()
	found := FindConfigFile(path)
	if found == "" {
		if path != "" {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, nil
	}
	logger := utils.GetLogger("config")
	logger.Debug().Msgf("Using config file %s", found)
	data, err := os.ReadFile(found)
	if err != nil {
		return cfg, fmt.Errorf("error reading config %s: %v", found, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config %s: %v", found, err)
	}
	return cfg, nil
}

// FindConfigFile searches for the configuration file in order:
// explicit path, working directory, XDG config dir, home directory.
// Returns empty string if none exists.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	candidate := filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
