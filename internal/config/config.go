package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/officehub/officechat/internal/dashscope"
	"github.com/spf13/viper"
)

const (
	// APIKeyEnv names the environment variable that carries the DashScope
	// credential. It takes precedence over the config file.
	APIKeyEnv = "DASHSCOPE_API_KEY"

	// AppID identifies the hosted office-space assistant application.
	AppID = "c8159539b1194623b52be93606c4727d"

	// DefaultProviderURL is the public DashScope endpoint.
	DefaultProviderURL = dashscope.DefaultBaseURL

	envPrefix  = "OFFICECHAT"
	configName = ".officechat"
)

// ErrNoAPIKey is returned when neither the environment nor the config file
// provides a credential.
var ErrNoAPIKey = errors.New("no DashScope API key: set " + APIKeyEnv + " or api-key in the config file")

// Config is the effective runtime configuration after flags, environment and
// config file have been merged by viper.
type Config struct {
	APIKey        string        `mapstructure:"api-key" yaml:"api-key"`
	ProviderURL   string        `mapstructure:"provider-url" yaml:"provider-url"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TLSSkipVerify bool          `mapstructure:"tls-skip-verify" yaml:"tls-skip-verify"`
	Debug         bool          `mapstructure:"debug" yaml:"debug"`
	LogFormat     string        `mapstructure:"log-format" yaml:"log-format"`
}

var configPath string

// ConfigPath returns the config file that was loaded, or "" if none was.
func ConfigPath() string {
	return configPath
}

// SetDefaults registers viper defaults for every configuration key so that
// AutomaticEnv and Unmarshal see them even without a config file.
func SetDefaults() {
	viper.SetDefault("api-key", "")
	viper.SetDefault("provider-url", DefaultProviderURL)
	viper.SetDefault("timeout", time.Duration(0))
	viper.SetDefault("tls-skip-verify", false)
	viper.SetDefault("debug", false)
	viper.SetDefault("log-format", "text")
}

// Init loads configuration. An explicit configFile is loaded directly;
// otherwise .officechat.yml (or .json, .toml) is searched for in the working
// directory and then the home directory. A missing file is not an error.
func Init(configFile string) error {
	configPath = ""
	SetDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		return LoadWithEnvSubstitution(configFile)
	}

	finder := viper.New()
	finder.SetConfigName(configName)
	finder.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		finder.AddConfigPath(home)
	}
	if err := finder.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return LoadWithEnvSubstitution(finder.ConfigFileUsed())
}

// LoadWithEnvSubstitution reads configPath, expands ${env://...} references
// and merges the result into the global viper instance.
func LoadWithEnvSubstitution(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := string(raw)
	if HasEnvRefs(content) {
		if content, err = ExpandEnv(content); err != nil {
			return fmt.Errorf("error reading config file '%s': %w", path, err)
		}
	}

	viper.SetConfigType(configTypeOf(path))
	if err := viper.ReadConfig(strings.NewReader(content)); err != nil {
		return fmt.Errorf("error parsing config file '%s': %w", path, err)
	}
	configPath = path
	return nil
}

// configTypeOf maps a config file extension to a viper config type.
// Anything other than JSON or TOML is read as YAML.
func configTypeOf(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".toml":
		return ext[1:]
	default:
		return "yaml"
	}
}

// Load returns the merged configuration.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.ProviderURL == "" {
		cfg.ProviderURL = DefaultProviderURL
	}
	return &cfg, nil
}

// ResolveAPIKey returns the credential and where it came from. The
// environment variable wins over the configured value. There is no built-in
// fallback key.
func ResolveAPIKey(configured string) (key, source string, err error) {
	if v := os.Getenv(APIKeyEnv); v != "" {
		return v, "environment variable " + APIKeyEnv, nil
	}
	if configured != "" {
		return configured, "configuration", nil
	}
	return "", "", ErrNoAPIKey
}

// Redact hides all but the last four characters of a credential.
func Redact(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
