// Package config resolves tandem's tool configuration: built-in defaults,
// then $TANDEM_DATA_DIR/config.yaml, then TANDEM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TANDEM"

	keyDataDir      = "data_dir"
	keyLogLevel     = "log.level"
	keyLogFormat    = "log.format"
	keyClaudeBinary = "claude.binary"
	keyClaudeTurns  = "claude.max_turns"
	keyObserve      = "observe"
)

type Config struct {
	DataDir           string
	DBPath            string
	UserProfileDir    string
	ProjectProfileDir string

	LogLevel  string
	LogFormat string

	ClaudeBinary   string
	ClaudeMaxTurns int

	// Observe enables the on-disk event trail for each run.
	Observe bool
}

func New() (*Config, error) {
	return Load(viper.New())
}

// Load builds a Config from v so callers can pre-seed values or bind flags.
func Load(v *viper.Viper) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyDataDir, filepath.Join(homeDir, ".tandem"))
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
	v.SetDefault(keyClaudeBinary, "claude")
	v.SetDefault(keyClaudeTurns, 0)
	v.SetDefault(keyObserve, true)

	dataDir := v.GetString(keyDataDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	c := &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "tandem.db"),
		UserProfileDir:    filepath.Join(dataDir, "profiles"),
		ProjectProfileDir: filepath.Join(".tandem", "profiles"),
		LogLevel:          v.GetString(keyLogLevel),
		LogFormat:         v.GetString(keyLogFormat),
		ClaudeBinary:      v.GetString(keyClaudeBinary),
		ClaudeMaxTurns:    v.GetInt(keyClaudeTurns),
		Observe:           v.GetBool(keyObserve),
	}
	if c.ClaudeMaxTurns < 0 {
		return nil, fmt.Errorf("claude.max_turns must not be negative, got %d", c.ClaudeMaxTurns)
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.UserProfileDir, c.WorkspacesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// ProfileDirs lists profile directories in lookup order.
func (c *Config) ProfileDirs() []string {
	return []string{c.ProjectProfileDir, c.UserProfileDir}
}

// RuntimeOptions returns the factory options for a worker runtime provider.
// For the lua provider the model name is the script path.
func (c *Config) RuntimeOptions(provider, model string) map[string]string {
	switch provider {
	case "claude":
		return map[string]string{
			"binary":    c.ClaudeBinary,
			"max_turns": fmt.Sprint(c.ClaudeMaxTurns),
		}
	case "lua":
		return map[string]string{"script": model}
	default:
		return map[string]string{}
	}
}
