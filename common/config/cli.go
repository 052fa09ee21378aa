package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// configDir is $LEADCTL_CONFIG_DIR or $HOME/.leadctl.
func configDir() (string, error) {
	if dir := os.Getenv("LEADCTL_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".leadctl"), nil
}

// LoadCLI loads the leadctl configuration from path, or from config.yaml in
// the config directory when path is empty. A missing file yields defaults.
func LoadCLI(path string) (*CLIConfig, error) {
	v := viper.New()

	v.SetDefault("current_profile", "default")
	v.SetDefault("defaults.ingest_url", "http://localhost:8088")

	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LEADCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("defaults.ingest_url", "LEADCTL_INGEST_URL")

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultCLI()
	cfg.path = path

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*CLIProfile)
	}

	return cfg, nil
}
