package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/dropguard/pkg/dropguard/classify"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level        string            `mapstructure:"level"`
	Path         string            `mapstructure:"path"`
	ConsoleLevel string            `mapstructure:"console_level"`
	Rotation     RotationConfig    `mapstructure:"rotation"`
	Components   map[string]string `mapstructure:"components"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	AutoStart  bool   `mapstructure:"auto_start"`
	BinaryPath string `mapstructure:"binary_path"` // Path to dropguardd (auto-discovered if empty)
	SocketPath string `mapstructure:"socket_path"`
	PIDPath    string `mapstructure:"pid_path"`
}

// StabilityConfig tunes the write-stability detector.
type StabilityConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Required int           `mapstructure:"required"`
}

// StateConfig locates persisted state.
type StateConfig struct {
	DBPath       string `mapstructure:"db_path"`
	LegacyImport string `mapstructure:"legacy_import"`
	MaxAlerts    int    `mapstructure:"max_alerts"`
}

// Config represents the application configuration.
type Config struct {
	Roots         []string        `mapstructure:"roots"`
	QuarantineDir string          `mapstructure:"quarantine_dir"`
	PolicyMode    string          `mapstructure:"policy_mode"`
	Ignore        []string        `mapstructure:"ignore"`
	Rules         []classify.Rule `mapstructure:"rules"`
	RulesFile     string          `mapstructure:"rules_file"`
	Classify      struct {
		MaxBytes string `mapstructure:"max_bytes"`
	} `mapstructure:"classify"`
	Stability StabilityConfig `mapstructure:"stability"`
	Dedup     struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"dedup"`
	Pipeline struct {
		Workers    int           `mapstructure:"workers"`
		SettledAge time.Duration `mapstructure:"settled_age"`
	} `mapstructure:"pipeline"`
	State   StateConfig `mapstructure:"state"`
	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Load loads configuration from file and environment variables. An empty
// path searches, in order:
//   - $XDG_CONFIG_HOME/dropguard/config.yaml
//   - $HOME/.config/dropguard/config.yaml
//
// Environment variables are prefixed with DROPGUARD_ (e.g.
// DROPGUARD_POLICY_MODE, DROPGUARD_STABILITY_TIMEOUT).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "dropguard"))
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "dropguard"))
	}

	v.SetEnvPrefix("DROPGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	// Comma-separated env values arrive as a single element.
	cfg.Roots = splitList(cfg.Roots)
	cfg.Ignore = splitList(cfg.Ignore)

	for i, r := range cfg.Roots {
		expanded, err := ExpandPath(r)
		if err != nil {
			return nil, err
		}
		cfg.Roots[i] = expanded
	}
	for _, p := range []*string{&cfg.QuarantineDir, &cfg.State.DBPath, &cfg.State.LegacyImport, &cfg.RulesFile, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("roots", []string{DefaultRoot()})
	v.SetDefault("quarantine_dir", DefaultQuarantineDir())
	v.SetDefault("policy_mode", DefaultPolicyMode)
	v.SetDefault("ignore", DefaultIgnore)
	v.SetDefault("rules_file", "")
	v.SetDefault("classify.max_bytes", DefaultMaxBytes)

	v.SetDefault("stability.interval", DefaultInterval)
	v.SetDefault("stability.timeout", DefaultTimeout)
	v.SetDefault("stability.required", DefaultRequired)
	v.SetDefault("dedup.ttl", DefaultDedupTTL)
	v.SetDefault("pipeline.workers", DefaultWorkers)
	v.SetDefault("pipeline.settled_age", DefaultSettledAge)

	v.SetDefault("state.db_path", DefaultDBPath())
	v.SetDefault("state.legacy_import", "")
	v.SetDefault("state.max_alerts", DefaultMaxAlerts)
	v.SetDefault("metrics.listen", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.console_level", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"daemon":  "info",
		"router":  "info",
		"watcher": "warn",
	})

	// Daemon defaults
	v.SetDefault("daemon.auto_start", true)
	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.socket_path", "") // Empty means use default XDG path
	v.SetDefault("daemon.pid_path", "")    // Empty means use default XDG path
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the constraints the pipeline depends on.
func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return fmt.Errorf("%w: at least one root is required", ErrInvalid)
	}
	if c.QuarantineDir == "" {
		return fmt.Errorf("%w: quarantine_dir is required", ErrInvalid)
	}
	q := filepath.Clean(c.QuarantineDir)
	for _, r := range c.Roots {
		if filepath.Clean(r) == q {
			return fmt.Errorf("%w: quarantine_dir must not be a watched root (%s)", ErrInvalid, r)
		}
	}
	if _, err := types.ParseMode(c.PolicyMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Stability.Required < DefaultRequired {
		return fmt.Errorf("%w: stability.required must be at least %d", ErrInvalid, DefaultRequired)
	}
	if c.Stability.Interval <= 0 || c.Stability.Timeout <= 0 {
		return fmt.Errorf("%w: stability.interval and stability.timeout must be positive", ErrInvalid)
	}
	if c.Dedup.TTL < 2*c.Stability.Timeout {
		return fmt.Errorf("%w: dedup.ttl (%s) must be at least twice stability.timeout (%s)",
			ErrInvalid, c.Dedup.TTL, c.Stability.Timeout)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("%w: pipeline.workers must be positive", ErrInvalid)
	}
	if _, err := c.MaxBytes(); err != nil {
		return fmt.Errorf("%w: classify.max_bytes: %w", ErrInvalid, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalid, err)
	}
	return nil
}

// MaxBytes parses classify.max_bytes.
func (c *Config) MaxBytes() (int64, error) {
	return types.ParseSize(c.Classify.MaxBytes)
}

// ClassifierRules resolves the ordered rule list: rules_file, then inline
// rules, then the defaults. Inline rules without a pattern name a built-in.
func (c *Config) ClassifierRules() ([]classify.Rule, error) {
	if c.RulesFile != "" {
		return classify.LoadRules(c.RulesFile)
	}
	if len(c.Rules) > 0 {
		return c.Rules, nil
	}
	return classify.DefaultRules(), nil
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() logging.Config {
	rot := logging.DefaultRotationConfig()
	if size, err := types.ParseSize(c.Logging.Rotation.MaxSize); err == nil && size > 0 {
		rot.MaxSize = size
	}
	rot.MaxAge = c.Logging.Rotation.MaxAge
	rot.MaxBackups = c.Logging.Rotation.MaxBackups
	rot.Daily = c.Logging.Rotation.Daily

	path := c.Logging.Path
	if path == "" {
		path = logging.DefaultLogPath()
	}
	return logging.Config{
		Level:        c.Logging.Level,
		Path:         path,
		Rotation:     rot,
		Components:   c.Logging.Components,
		ConsoleLevel: c.Logging.ConsoleLevel,
	}
}

// SocketPath returns the configured socket path or the default.
func (c *Config) SocketPath() string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return DefaultSocketPath()
}

// PIDPath returns the configured PID file path or the default.
func (c *Config) PIDPath() string {
	if c.Daemon.PIDPath != "" {
		return c.Daemon.PIDPath
	}
	return DefaultPIDPath()
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "dropguard"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "dropguard"), nil
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# dropguard configuration

# Directories to watch. The first is the primary root and receives restored
# files whose original directory no longer exists.
roots:
  - %s

# Where quarantined files are held. Must not be a watched root.
quarantine_dir: %s

# block quarantines matching files; warn only records an alert.
policy_mode: %s

# Glob patterns matched against base names and root-relative paths.
ignore:
  - "*.swp"
  - "*.crdownload"
  - "*.part"
  - .DS_Store

# Ordered classification rules; the first match wins. A rule with only a
# label refers to a built-in (Aadhaar, Email, Credit Card, Confidential,
# AWS Access Key, Private Key). rules_file takes precedence when set.
# rules:
#   - label: Email
#   - label: Employee ID
#     pattern: '\bEMP-\d{6}\b'
rules_file: ""

classify:
  max_bytes: %s

stability:
  interval: %s
  timeout: %s
  required: %d

dedup:
  # Must be at least twice stability.timeout.
  ttl: %s

pipeline:
  workers: %d
  settled_age: %s

state:
  db_path: %s
  # Original JSON state file to import on first start.
  legacy_import: ""
  max_alerts: %d

metrics:
  # e.g. 127.0.0.1:9477; empty disables the endpoint.
  listen: ""

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/dropguard/dropguard.log)
  path: ""
  console_level: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    daemon: info
    router: info
    watcher: warn

daemon:
  # Automatically start the daemon when running dropguard commands
  auto_start: true
  binary_path: ""
  # Unix socket path (empty means use default: $XDG_DATA_HOME/dropguard/dropguard.sock)
  socket_path: ""
  # PID file path (empty means use default: $XDG_DATA_HOME/dropguard/dropguard.pid)
  pid_path: ""
`, DefaultRoot(), DefaultQuarantineDir(), DefaultPolicyMode, DefaultMaxBytes,
		DefaultInterval, DefaultTimeout, DefaultRequired, DefaultDedupTTL,
		DefaultWorkers, DefaultSettledAge, DefaultDBPath(), DefaultMaxAlerts)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return configPath, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/dropguard/ for the database, quarantine,
// socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "dropguard")
}

// StateDir returns $XDG_STATE_HOME/dropguard/ for log and status files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "dropguard")
}

// DefaultRoot returns the user's download directory.
func DefaultRoot() string {
	if xdg.UserDirs.Download != "" {
		return xdg.UserDirs.Download
	}
	return filepath.Join(xdg.Home, "Downloads")
}

// DefaultQuarantineDir returns the default quarantine directory.
func DefaultQuarantineDir() string {
	return filepath.Join(DataDir(), "quarantine")
}

// DefaultSocketPath returns the default Unix socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "dropguard.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "dropguard.pid")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "state.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
