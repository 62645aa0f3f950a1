package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/user/termharness/configs"
	"github.com/user/termharness/internal/resource"
)

const appName = "termharness"

// Duration reads and writes as a Go duration string such as "5s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type CustomLimits struct {
	TraceMB   uint64 `yaml:"trace_mb" toml:"trace_mb"`
	ScreenMB  uint64 `yaml:"screen_mb" toml:"screen_mb"`
	OutputMB  uint64 `yaml:"output_mb" toml:"output_mb"`
	Processes uint32 `yaml:"processes" toml:"processes"`
}

type LimitsConfig struct {
	// Preset is "default", "strict" or "lenient"; ignored when Custom is set.
	Preset         string        `yaml:"preset" toml:"preset"`
	Custom         *CustomLimits `yaml:"custom,omitempty" toml:"custom,omitempty"`
	CompareAndSwap bool          `yaml:"compare_and_swap" toml:"compare_and_swap"`
}

type TerminalConfig struct {
	Cols         uint16   `yaml:"cols" toml:"cols"`
	Rows         uint16   `yaml:"rows" toml:"rows"`
	CaptureBytes int      `yaml:"capture_bytes" toml:"capture_bytes"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
}

type UsageConfig struct {
	SampleInterval Duration `yaml:"sample_interval" toml:"sample_interval"`
	Keep           int      `yaml:"keep" toml:"keep"`
}

type Config struct {
	Listen    string         `yaml:"listen" toml:"listen"`
	Port      int            `yaml:"port" toml:"port"`
	Token     string         `yaml:"token" toml:"token"`
	DBPath    string         `yaml:"db_path" toml:"db_path"`
	LogLevel  string         `yaml:"log_level" toml:"log_level"`
	LogFormat string         `yaml:"log_format" toml:"log_format"`
	Limits    LimitsConfig   `yaml:"limits" toml:"limits"`
	Terminal  TerminalConfig `yaml:"terminal" toml:"terminal"`
	Usage     UsageConfig    `yaml:"usage" toml:"usage"`

	ConfigPath string `yaml:"-" toml:"-"`
	PrintToken bool   `yaml:"-" toml:"-"`
}

// Load builds the configuration from the embedded defaults, the user's
// config file and then args. A missing token is generated and saved back
// to the config file.
func Load(args []string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "config file (.yaml, .yml or .toml)")
	listen := fs.String("listen", cfg.Listen, "listen address")
	port := fs.Int("port", cfg.Port, "server port (1-65535)")
	token := fs.String("token", "", "authentication token (auto-generated if empty)")
	dbPath := fs.String("db", "", "SQLite database path")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", cfg.LogFormat, "log format: auto, text, json")
	preset := fs.String("limits", cfg.Limits.Preset, "resource limit preset: default, strict, lenient")
	cas := fs.Bool("cas", cfg.Limits.CompareAndSwap, "reserve resources with compare-and-swap")
	printToken := fs.Bool("print-token", false, "print token to stdout")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg.ConfigPath = *configPath
	if cfg.ConfigPath == "" {
		if cfg.ConfigPath, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "port":
			cfg.Port = *port
		case "token":
			cfg.Token = *token
		case "db":
			cfg.DBPath = *dbPath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "limits":
			cfg.Limits.Preset = *preset
			cfg.Limits.Custom = nil
		case "cas":
			cfg.Limits.CompareAndSwap = *cas
		}
	})
	cfg.PrintToken = *printToken

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfg.ConfigPath), appName+".db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(configs.Defaults, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}
	return cfg, nil
}

func defaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".config", appName)
	yamlPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	return yamlPath, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if _, err := c.ResourceLimits(); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: want auto, text or json", c.LogFormat)
	}
	if c.Terminal.Cols == 0 || c.Terminal.Rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", c.Terminal.Cols, c.Terminal.Rows)
	}
	if c.Terminal.CaptureBytes < 0 {
		return fmt.Errorf("invalid capture_bytes %d", c.Terminal.CaptureBytes)
	}
	return nil
}

// ResourceLimits resolves the preset or custom limits.
func (c *Config) ResourceLimits() (resource.Limits, error) {
	if custom := c.Limits.Custom; custom != nil {
		limits := resource.NewLimits(custom.TraceMB, custom.ScreenMB, custom.OutputMB, custom.Processes)
		if err := limits.Validate(); err != nil {
			return resource.Limits{}, fmt.Errorf("invalid custom limits: %w", err)
		}
		return limits, nil
	}
	limits, err := resource.LimitsFromPreset(c.Limits.Preset)
	if err != nil {
		return resource.Limits{}, fmt.Errorf("invalid limits preset: %w", err)
	}
	return limits, nil
}

func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if isTOML(c.ConfigPath) {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if isTOML(c.ConfigPath) {
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return os.WriteFile(c.ConfigPath, buf.Bytes(), 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
