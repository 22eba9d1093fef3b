// Package config loads the hub configuration from
// .agenthub/config.yaml, searched upward from the working directory
// with a home-directory fallback.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".agenthub"
	configFileName = "config.yaml"
)

type Config struct {
	Version string       `mapstructure:"version"`
	Server  ServerConfig `mapstructure:"server"`
	Redis   RedisConfig  `mapstructure:"redis"`
	Log     LogConfig    `mapstructure:"log"`
	Agents  []Agent      `mapstructure:"agents"`
}

type ServerConfig struct {
	Listen        string `mapstructure:"listen"`
	InternalToken string `mapstructure:"internal_token"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Agent configures one backend adapter. Which fields are required
// depends on the kind: codex backends are dialed at a websocket URL,
// mcp backends are spawned as a command.
type Agent struct {
	ID                 string   `mapstructure:"id"`
	Kind               string   `mapstructure:"kind"`
	Label              string   `mapstructure:"label"`
	Enabled            bool     `mapstructure:"enabled"`
	URL                string   `mapstructure:"url"`
	Command            string   `mapstructure:"command"`
	Args               []string `mapstructure:"args"`
	ProjectDirectories []string `mapstructure:"project_directories"`
}

type LoadOptions struct {
	ConfigFile string
}

func Load(opts LoadOptions) (*Config, error) {
	path := ResolveConfigPath(opts.ConfigFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no config file at %s (searched up for %s/%s)", path, configDirName, configFileName)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("redis.key_prefix", "agenthub:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		switch a.Kind {
		case "codex":
			if a.URL == "" {
				return fmt.Errorf("config: agent %q: codex backends need a url", a.ID)
			}
		case "mcp":
			if a.Command == "" {
				return fmt.Errorf("config: agent %q: mcp backends need a command", a.ID)
			}
		default:
			return fmt.Errorf("config: agent %q: unknown kind %q", a.ID, a.Kind)
		}
	}
	return nil
}

// ResolveConfigPath returns the explicit path when given, otherwise the
// nearest .agenthub/config.yaml walking up from the working directory,
// otherwise the home-directory default (which may not exist yet).
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir, err := os.Getwd()
	if err != nil {
		return DefaultConfigPath()
	}
	for {
		candidate := filepath.Join(dir, configDirName, configFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return DefaultConfigPath()
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDirName, configFileName)
	}
	return filepath.Join(home, configDirName, configFileName)
}

// ApplyFile validates src and copies it to dst, creating the config
// directory as needed.
func ApplyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(src)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("validate %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
