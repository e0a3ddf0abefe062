package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/logger"
	"github.com/codefionn/scriptserve/internal/payload"
)

// Environment variables overriding file settings
const (
	EnvLogLevel = "SCRIPTSERVE_LOG_LEVEL"
	EnvLogPath  = "SCRIPTSERVE_LOG_PATH"
	EnvAddress  = "SCRIPTSERVE_ADDRESS"
	EnvFormat   = "SCRIPTSERVE_FORMAT"
)

// ErrInvalid is returned by Validate for an unusable configuration
var ErrInvalid = errors.New("invalid configuration")

// Config represents server configuration
type Config struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	PayloadFormat  string `json:"payload_format" yaml:"payload_format"` // json (A) or cbor (B)
	Engine         string `json:"engine" yaml:"engine"`                 // starlark or lua
	LogLevel       string `json:"log_level" yaml:"log_level"`           // debug, info, warn, error, none
	LogPath        string `json:"log_path,omitempty" yaml:"log_path,omitempty"`
	PollIntervalMS int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	MaxScriptSize  int    `json:"max_script_size" yaml:"max_script_size"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections"` // 0 = unlimited
	ExecTimeoutMS  int    `json:"exec_timeout_ms" yaml:"exec_timeout_ms"` // 0 = no timeout
	AdminAddress   string `json:"admin_address,omitempty" yaml:"admin_address,omitempty"`
	PidFile        string `json:"pid_file,omitempty" yaml:"pid_file,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "scriptserve")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "scriptserve")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "scriptserve")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "scriptserve")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:           consts.DefaultHost,
		Port:           consts.DefaultPort,
		PayloadFormat:  string(payload.FormatJSON),
		Engine:         engine.Default,
		LogLevel:       "info",
		PollIntervalMS: int(consts.PollInterval / time.Millisecond),
		MaxScriptSize:  consts.MaxScriptSize,
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load loads configuration from file. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := unmarshal(path, data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func unmarshal(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// ApplyEnv overrides settings from the environment
func (c *Config) ApplyEnv() error {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.LogLevel = level
	}
	if path := strings.TrimSpace(os.Getenv(EnvLogPath)); path != "" {
		c.LogPath = path
	}
	if format := strings.TrimSpace(os.Getenv(EnvFormat)); format != "" {
		c.PayloadFormat = format
	}
	if addr := strings.TrimSpace(os.Getenv(EnvAddress)); addr != "" {
		if err := c.SetAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", EnvAddress, err)
		}
	}
	return nil
}

// SetAddress sets host and port from a host:port address
func (c *Config) SetAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: address %q: %v", ErrInvalid, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: port %q is not a number", ErrInvalid, portStr)
	}
	c.Host = host
	c.Port = port
	return nil
}

// Address returns the listen address as host:port
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PollInterval returns the read poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ExecTimeout returns the per-script time limit, zero when unbounded
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutMS) * time.Millisecond
}

// Level returns the parsed log level
func (c *Config) Level() logger.Level {
	return logger.ParseLevel(c.LogLevel)
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	var problems []string

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if _, err := payload.ParseFormat(c.PayloadFormat); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := engine.New(c.Engine); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := logger.LookupLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.PollInterval() < consts.MinPollInterval {
		problems = append(problems, fmt.Sprintf("poll interval %s below %s", c.PollInterval(), consts.MinPollInterval))
	}
	if c.MaxScriptSize <= 0 {
		problems = append(problems, "max script size must be positive")
	}
	if c.MaxConnections < 0 {
		problems = append(problems, "max connections must not be negative")
	}
	if c.ExecTimeoutMS < 0 {
		problems = append(problems, "exec timeout must not be negative")
	}
	if c.AdminAddress != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddress); err != nil {
			problems = append(problems, fmt.Sprintf("admin address %q: %v", c.AdminAddress, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Save saves configuration to file, as YAML or JSON depending on the
// file extension
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
