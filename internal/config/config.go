package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/publish"
	"github.com/jcdickinson/ferrisindex/internal/source"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EmbeddedSource names the search index bundled with the binary.
const EmbeddedSource = "embedded"

type PublishConfig struct {
	Mode publish.Mode `mapstructure:"mode"`
}

type IndexConfig struct {
	Sources             []string `mapstructure:"sources"`
	FetchTimeoutSeconds int      `mapstructure:"fetch_timeout_seconds"`
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type LogConfig struct {
	Level slog.Level `mapstructure:"level"`
}

type Config struct {
	Publish PublishConfig `mapstructure:"publish"`
	Index   IndexConfig   `mapstructure:"index"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Log     LogConfig     `mapstructure:"log"`

	// File is the absolute path of the config file that was read, if any.
	File string `mapstructure:"-"`
}

// IndexSources returns the configured sources, defaulting to the bundled
// index. Relative paths are taken relative to the config file, so the
// daemon resolves them the same way wherever it was spawned.
func (c *Config) IndexSources() []string {
	if len(c.Index.Sources) == 0 {
		return []string{EmbeddedSource}
	}
	if c.File == "" {
		return c.Index.Sources
	}
	return source.Resolve(filepath.Dir(c.File), c.Index.Sources)
}

// cacheBase returns the base cache directory for ferrisindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/ferrisindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "ferrisindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "ferrisindex")
	}
	return filepath.Join(os.TempDir(), "ferrisindex")
}

// DBPath returns the path to the DuckDB export database.
func DBPath() string {
	return filepath.Join(cacheBase(), "index.db")
}

// SourceCacheDir returns the directory holding compressed copies of fetched
// search indexes.
func SourceCacheDir() string {
	return filepath.Join(cacheBase(), "sources")
}

// ExportDBPath returns the default target of export-db. It is separate from
// DBPath because the daemon holds DuckDB's exclusive lock on that file.
func ExportDBPath() string {
	return filepath.Join(cacheBase(), "export.db")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "ferrisindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "ferrisindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "ferrisindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "ferrisindex"))
	}

	viper.SetDefault("publish.mode", string(publish.ModeAuto))
	viper.SetDefault("index.sources", []string{})
	viper.SetDefault("index.fetch_timeout_seconds", 60)
	viper.SetDefault("daemon.expiration_seconds", 600)
	viper.SetDefault("log.level", "info")

	viper.SetEnvPrefix("FERRISINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func stringToPublishModeHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(publish.Mode("")) || f.Kind() != reflect.String {
			return data, nil
		}
		return publish.ParseMode(reflect.ValueOf(data).String())
	}
}

func stringToLogLevelHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(slog.Level(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(reflect.ValueOf(data).String())); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", data, err)
		}
		return level, nil
	}
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file in place of the search
// paths. An empty path searches as Load does.
func LoadFile(path string) (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg, err := decode(viper.AllSettings())
	if err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		if cfg.File, err = filepath.Abs(used); err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
	}
	return cfg, nil
}

func decode(settings map[string]interface{}) (*Config, error) {
	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToPublishModeHookFunc(),
			stringToLogLevelHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Publish.Mode == "" {
		config.Publish.Mode = publish.ModeAuto
	}
	return &config, nil
}
