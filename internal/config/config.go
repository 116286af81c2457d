// Package config loads hooklog settings from defaults, an optional config
// file and HOOKLOG_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/spf13/viper"
)

// Transport names accepted in Config.Transports.
const (
	TransportConsole  = "console"
	TransportFile     = "file"
	TransportMemory   = "memory"
	TransportDatabase = "database"
)

// EnvPrefix is the prefix for environment overrides, e.g. HOOKLOG_FILE_DIRECTORY.
const EnvPrefix = "HOOKLOG"

var knownTransports = map[string]bool{
	TransportConsole:  true,
	TransportFile:     true,
	TransportMemory:   true,
	TransportDatabase: true,
}

type MemoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type FileConfig struct {
	Directory    string        `mapstructure:"directory"`
	Filename     string        `mapstructure:"filename"`
	MaxSizeMB    int           `mapstructure:"max_size_mb"`
	MaxFiles     int           `mapstructure:"max_files"`
	MaxAgeDays   int           `mapstructure:"max_age_days"`
	Compress     bool          `mapstructure:"compress"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MaxSizeBytes converts MaxSizeMB to bytes.
func (f FileConfig) MaxSizeBytes() int64 { return int64(f.MaxSizeMB) << 20 }

// MaxAge converts MaxAgeDays to a duration.
func (f FileConfig) MaxAge() time.Duration {
	return time.Duration(f.MaxAgeDays) * 24 * time.Hour
}

type CriticalConfig struct {
	Filename string `mapstructure:"filename"`
	// StoreDir enables the embedded store for critical entries when set.
	StoreDir string        `mapstructure:"store_dir"`
	Workers  int           `mapstructure:"workers"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full logger configuration.
type Config struct {
	Level        string         `mapstructure:"level"`
	Transports   []string       `mapstructure:"transports"`
	PrettyPrint  bool           `mapstructure:"pretty_print"`
	IncludeStack bool           `mapstructure:"include_stack"`
	Memory       MemoryConfig   `mapstructure:"memory"`
	File         FileConfig     `mapstructure:"file"`
	Critical     CriticalConfig `mapstructure:"critical"`
	Server       ServerConfig   `mapstructure:"server"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("level", "INFO")
	v.SetDefault("transports", []string{TransportConsole, TransportFile, TransportMemory, TransportDatabase})
	v.SetDefault("pretty_print", true)
	v.SetDefault("include_stack", true)
	v.SetDefault("memory.capacity", 1000)
	v.SetDefault("file.directory", "logs")
	v.SetDefault("file.filename", "hooks")
	v.SetDefault("file.max_size_mb", 10)
	v.SetDefault("file.max_files", 10)
	v.SetDefault("file.max_age_days", 30)
	v.SetDefault("file.compress", true)
	v.SetDefault("file.queue_size", 1024)
	v.SetDefault("file.write_timeout", "250ms")
	v.SetDefault("critical.filename", "critical.log")
	v.SetDefault("critical.store_dir", "")
	v.SetDefault("critical.workers", 4)
	v.SetDefault("critical.timeout", "2s")
	v.SetDefault("server.addr", ":8080")
}

// Bind enables HOOKLOG_* environment overrides on v.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := Load(v)
	return cfg
}

// Load decodes v into a Config and normalizes it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize lower-cases transport names and drops unknown ones, returning
// the names it dropped.
func (c *Config) Normalize() []string {
	var kept, dropped []string
	seen := map[string]bool{}
	for _, raw := range c.Transports {
		for _, t := range strings.Split(raw, ",") {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			if !knownTransports[t] {
				dropped = append(dropped, t)
				continue
			}
			seen[t] = true
			kept = append(kept, t)
		}
	}
	c.Transports = kept
	return dropped
}

// MinLevel returns the configured threshold. Unknown names fall back to INFO.
func (c Config) MinLevel() model.Level {
	return model.ParseLevelOr(c.Level, model.LevelInfo)
}

// Enabled reports whether transport t is switched on.
func (c Config) Enabled(t string) bool {
	for _, have := range c.Transports {
		if have == t {
			return true
		}
	}
	return false
}
