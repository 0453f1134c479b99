// Package config loads autoapprove's settings from ~/.autoapprove/config.yaml and AUTOAPPROVE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/spf13/viper"
)

const (
	ConfigFileName = "config"
	ConfigFileType = "yaml"
	DirName        = ".autoapprove"
	EnvPrefix      = "AUTOAPPROVE"
)

// ErrInvalid is returned (wrapped) by Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Server    ServerConfig    `mapstructure:"server"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`

	// File is the config file that was read, or "" if none was found.
	File string `mapstructure:"-"`
}

// LogConfig controls console logging.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Colored bool   `mapstructure:"colored"`
}

// PolicyConfig locates the command policy. An empty File means the built-in lists.
type PolicyConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// ServerConfig configures `autoapprove serve`.
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// EvaluatorConfig tunes the shell safety evaluator.
type EvaluatorConfig struct {
	// DisableTokenizer turns off decomposition of `bash -lc` lines, so only flat commands can be auto-approved.
	DisableTokenizer bool `mapstructure:"disable_tokenizer"`
}

// Dir returns the autoapprove config directory (~/.autoapprove).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.colored", true)

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.watch", false)

	v.SetDefault("server.addr", "127.0.0.1:7878")
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("evaluator.disable_tokenizer", false)
}

// Load reads configuration. If path is non-empty that file must exist; otherwise ~/.autoapprove/config.yaml is used if present. Environment variables
// override both (ex: AUTOAPPROVE_SERVER_ADDR overrides server.addr). The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName(ConfigFileName)
		v.SetConfigType(ConfigFileType)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	policyFile, err := expandHome(cfg.Policy.File)
	if err != nil {
		return nil, err
	}
	cfg.Policy.File = policyFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Policy.Watch && c.Policy.File == "" {
		return fmt.Errorf("%w: policy.watch requires policy.file", ErrInvalid)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: server.max_body_bytes must be positive", ErrInvalid)
	}
	return nil
}

// ApplyLogging configures the global logger from c.Log.
func (c *Config) ApplyLogging() error {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logger.SetGlobalLevel(level)
	logger.SetColored(c.Log.Colored)
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
