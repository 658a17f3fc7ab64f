package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment.
const EnvPrefix = "CP_XHPROF"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EmptyLogsPolicy decides whether per-run logs with an empty body are written.
type EmptyLogsPolicy string

const (
	EmptyLogsSkip  EmptyLogsPolicy = "skip"
	EmptyLogsWrite EmptyLogsPolicy = "write"
)

// Run-storage backends accepted by ProfilerLibPath.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the profiler configuration. It is loaded once and not mutated afterwards.
type Config struct {
	// MinQueryTime is in seconds. Faster queries are counted but not listed.
	MinQueryTime float64         `mapstructure:"min_query_time"`
	LogLocation  string          `mapstructure:"log_location"`
	EmptyLogs    EmptyLogsPolicy `mapstructure:"empty_logs"`

	// ProfilerLibPath names the run-storage backend, ProfilerRunsPath its location.
	ProfilerLibPath  string `mapstructure:"lib_path"`
	ProfilerRunsPath string `mapstructure:"runs_path"`

	HTTPLogSuffix string `mapstructure:"http_log_suffix"`
	DBLogSuffix   string `mapstructure:"db_log_suffix"`
	CLIBaseLink   string `mapstructure:"cli_base_link"`
	RelativePath  string `mapstructure:"relative_path"`

	LogLevel          string `mapstructure:"log_level"`
	LogPretty         bool   `mapstructure:"log_pretty"`
	CollectFromTraces bool   `mapstructure:"collect_from_traces"`
	CaptureBodyLimit  int64  `mapstructure:"capture_body_limit"`

	// RepeatedQueryThreshold warns when a request runs one statement this
	// many times. Values below 2 disable the check.
	RepeatedQueryThreshold int `mapstructure:"repeated_query_threshold"`
}

var defaults = map[string]any{
	"min_query_time":      0.1,
	"log_location":        "/tmp/xhprof/",
	"empty_logs":          string(EmptyLogsSkip),
	"lib_path":            BackendFile,
	"runs_path":           "/tmp/xhprof/runs",
	"http_log_suffix":     "_http.log",
	"db_log_suffix":       "_db.log",
	"cli_base_link":       "",
	"relative_path":       "/xhprof/",
	"log_level":           "info",
	"log_pretty":          false,
	"collect_from_traces": false,
	"capture_body_limit":  64 << 10,

	"repeated_query_threshold": 10,
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := load(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// Load reads the configuration from the environment and, when path is not
// empty, from the config file at path. Environment values win over the file.
func Load(path string) (*Config, error) {
	v := newViper()
	if err := v.BindEnv("min_query_time", EnvPrefix+"_MIN_QUERY_TIME", EnvPrefix+"_WPDB_MIN_QUERY_TIME"); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.EmptyLogs = EmptyLogsPolicy(strings.ToLower(string(cfg.EmptyLogs)))
	return &cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.EmptyLogs {
	case EmptyLogsSkip, EmptyLogsWrite:
	default:
		return fmt.Errorf("%w: empty_logs must be %q or %q, got %q", ErrInvalid, EmptyLogsSkip, EmptyLogsWrite, c.EmptyLogs)
	}
	if c.MinQueryTime < 0 {
		return fmt.Errorf("%w: min_query_time must not be negative", ErrInvalid)
	}
	if c.LogLocation == "" {
		return fmt.Errorf("%w: log_location is empty", ErrInvalid)
	}
	if !strings.HasPrefix(c.RelativePath, "/") {
		return fmt.Errorf("%w: relative_path must start with /, got %q", ErrInvalid, c.RelativePath)
	}
	switch c.ProfilerLibPath {
	case BackendFile, BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown run storage backend %q", ErrInvalid, c.ProfilerLibPath)
	}
	if c.RepeatedQueryThreshold < 0 {
		return fmt.Errorf("%w: repeated_query_threshold must not be negative", ErrInvalid)
	}
	if c.CaptureBodyLimit < 0 {
		return fmt.Errorf("%w: capture_body_limit must not be negative", ErrInvalid)
	}
	return nil
}

// IsViewerPath reports whether path targets the profile viewer. Such requests are never profiled.
func (c *Config) IsViewerPath(path string) bool {
	prefix := strings.TrimSuffix(c.RelativePath, "/")
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(path, prefix)
}

// IsViewerRoute reports whether path is served by the profile viewer: the
// relative path itself, with or without its trailing slash, or anything below it.
// It is stricter than IsViewerPath, which also matches /xhprofile.
func (c *Config) IsViewerRoute(path string) bool {
	prefix := strings.TrimSuffix(c.RelativePath, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// SkipEmptyLogs reports whether per-run logs without content are skipped.
func (c *Config) SkipEmptyLogs() bool {
	return c.EmptyLogs == EmptyLogsSkip
}
