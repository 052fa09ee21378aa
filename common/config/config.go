// Package config holds the leadctl profile configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig holds leadctl profiles.
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       *CLIDefaults           `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

// CLIProfile holds the endpoint and credentials for one environment.
type CLIProfile struct {
	IngestURL   string `yaml:"ingest_url" mapstructure:"ingest_url"`
	WorkspaceID string `yaml:"workspace_id" mapstructure:"workspace_id"`
	// AccessToken is a bearer JWT for the /api/v1 endpoints.
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	// WebhookSecret signs payloads sent with `leadctl send`.
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

type CLIDefaults struct {
	IngestURL string `yaml:"ingest_url" mapstructure:"ingest_url"`
}

// DefaultCLI returns a CLIConfig with default values
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults: &CLIDefaults{
			IngestURL: "http://localhost:8088",
		},
	}
}

// Path is where Save writes.
func (c *CLIConfig) Path() string {
	return c.path
}

// Save writes the CLI config to disk
func (c *CLIConfig) Save() error {
	if c.path == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(dir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name and makes it current.
func (c *CLIConfig) SaveProfile(name string, p *CLIProfile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

// SaveAccessToken sets the bearer token of a profile, creating it if needed.
func (c *CLIConfig) SaveAccessToken(name, token string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}

	profile, ok := c.Profiles[name]
	if !ok {
		profile = &CLIProfile{}
		c.Profiles[name] = profile
	}

	profile.AccessToken = token
	return c.Save()
}

// GetProfile retrieves a profile by name (or current profile if name is empty)
func (c *CLIConfig) GetProfile(name string) (*CLIProfile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

// RemoveProfile removes a profile from the configuration
func (c *CLIConfig) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// GetIngestURL returns the ingest URL from profile or defaults
func (c *CLIConfig) GetIngestURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.IngestURL != "" {
		return p.IngestURL
	}
	if c.Defaults == nil {
		return ""
	}
	return c.Defaults.IngestURL
}
