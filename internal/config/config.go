// Package config loads the helper daemon's YAML configuration. Every
// value has a production default; the file exists so distributions and
// integration tests can relocate paths without patching the binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/plasma-setup/helper.yaml"

// Defaults applied by WithDefaults.
const (
	DefaultLogLevel      = "info"
	DefaultSetupUnit     = "plasma-setup.service"
	DefaultActionTimeout = 30 * time.Second

	DefaultLoginDefsPath = "/etc/login.defs"
	DefaultPasswdPath    = "/etc/passwd"
	DefaultSourceDir     = "/run/plasma-setup/.config"
	DefaultSetupConfPath = "/etc/plasma-setup.conf"
)

// Duration wraps time.Duration with YAML unmarshalling for human-readable strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Paths relocates the files the helper reads and writes.
type Paths struct {
	// LoginDefs supplies the UID_MIN/UID_MAX thresholds.
	LoginDefs string `yaml:"login_defs"`
	// Passwd is scanned for existing regular users.
	Passwd string `yaml:"passwd"`
	// SourceDir holds the configuration the setup session hands off.
	SourceDir string `yaml:"source_dir"`
	// Autologin overrides the display manager autologin fragment path.
	// Empty picks the fragment for the display manager in use.
	Autologin string `yaml:"autologin"`
	// Settings overrides the display manager settings file checked for
	// a stale autologin group. Empty picks the sddm default.
	Settings string `yaml:"settings"`
	// FlagFile is the setup-complete marker.
	FlagFile string `yaml:"flag_file"`
	// SetupConf carries the default group memberships for new users.
	SetupConf string `yaml:"setup_conf"`
}

// Config is the top-level configuration file structure.
type Config struct {
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
	BusAddress    string   `yaml:"bus_address"`
	SetupUnit     string   `yaml:"setup_unit"`
	ActionTimeout Duration `yaml:"action_timeout"`
	Paths         Paths    `yaml:"paths"`
}

// Load reads and parses a YAML config file. If the file does not exist,
// it returns an empty Config and a nil error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// WithDefaults returns a copy with every unset field filled in. The
// autologin and settings paths stay empty here; they depend on the
// display manager and are resolved at daemon startup.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.LogLevel == "" {
		out.LogLevel = DefaultLogLevel
	}
	if out.SetupUnit == "" {
		out.SetupUnit = DefaultSetupUnit
	}
	if out.ActionTimeout == 0 {
		out.ActionTimeout = Duration(DefaultActionTimeout)
	}
	if out.Paths.LoginDefs == "" {
		out.Paths.LoginDefs = DefaultLoginDefsPath
	}
	if out.Paths.Passwd == "" {
		out.Paths.Passwd = DefaultPasswdPath
	}
	if out.Paths.SourceDir == "" {
		out.Paths.SourceDir = DefaultSourceDir
	}
	if out.Paths.SetupConf == "" {
		out.Paths.SetupConf = DefaultSetupConfPath
	}
	return &out
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error; got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json; got %q", c.LogFormat)
	}
	if time.Duration(c.ActionTimeout) < 0 {
		return fmt.Errorf("action_timeout must not be negative")
	}
	return nil
}
