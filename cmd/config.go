package cmd

import (
	"fmt"
	"io"

	"github.com/officehub/officechat/internal/config"
	"gopkg.in/yaml.v3"
)

// effectiveConfig is what --show-config prints.
type effectiveConfig struct {
	ConfigFile string         `yaml:"config-file,omitempty"`
	AppID      string         `yaml:"app-id"`
	KeySource  string         `yaml:"api-key-source"`
	Settings   *config.Config `yaml:"settings"`
}

func printConfig(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key, source, err := config.ResolveAPIKey(cfg.APIKey)
	if err != nil {
		source = "unset"
	}
	cfg.APIKey = config.Redact(key)

	out, err := yaml.Marshal(effectiveConfig{
		ConfigFile: config.ConfigPath(),
		AppID:      config.AppID,
		KeySource:  source,
		Settings:   cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	_, err = w.Write(out)
	return err
}
