// Package config loads client settings from a TOML file, TOUCHFISH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "TOUCHFISH"
	appDirName = "touchfish"
)

// Keys shared with flag bindings.
const (
	KeyServerAddress       = "server.address"
	KeyServerTransport     = "server.transport"
	KeyServerUsername      = "server.username"
	KeyTransferChunkSize   = "transfer.chunk_size"
	KeyTransferPacing      = "transfer.pacing"
	KeyTransferDownloadDir = "transfer.download_dir"
	KeyTransferAutoAccept  = "transfer.auto_accept"
	KeyPluginsRoot         = "plugins.root"
	KeyPluginsStore        = "plugins.store"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
	KeyUpdateReleaseURL    = "update.release_url"
	KeyUpdateNoticeURL     = "update.notice_url"
)

const (
	DefaultReleaseURL = "https://api.github.com/repos/pztsdy/touchfish_ui_remake/releases/latest"
	DefaultNoticeURL  = "https://www.piaoztsdy.cn/tfurnotice.txt"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ErrExists is returned by Write when the file exists and force is off.
var ErrExists = errors.New("config file already exists")

type Config struct {
	Server   Server   `mapstructure:"server"`
	Transfer Transfer `mapstructure:"transfer"`
	Plugins  Plugins  `mapstructure:"plugins"`
	Log      Log      `mapstructure:"log"`
	Update   Update   `mapstructure:"update"`
}

type Server struct {
	Address   string `mapstructure:"address"`
	Transport string `mapstructure:"transport"`
	Username  string `mapstructure:"username"`
}

type Transfer struct {
	ChunkSize   int           `mapstructure:"chunk_size"`
	Pacing      time.Duration `mapstructure:"pacing"`
	DownloadDir string        `mapstructure:"download_dir"`
	AutoAccept  bool          `mapstructure:"auto_accept"`
}

type Plugins struct {
	Root  string `mapstructure:"root"`
	Store string `mapstructure:"store"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Update struct {
	ReleaseURL string `mapstructure:"release_url"`
	NoticeURL  string `mapstructure:"notice_url"`
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName+"."+configType), nil
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper, dir string) {
	v.SetDefault(KeyServerAddress, "127.0.0.1:8080")
	v.SetDefault(KeyServerTransport, "tcp")
	v.SetDefault(KeyServerUsername, "")
	v.SetDefault(KeyTransferChunkSize, 8192)
	v.SetDefault(KeyTransferPacing, "10ms")
	v.SetDefault(KeyTransferDownloadDir, defaultDownloadDir())
	v.SetDefault(KeyTransferAutoAccept, false)
	v.SetDefault(KeyPluginsRoot, filepath.Join(dir, "plugins"))
	v.SetDefault(KeyPluginsStore, filepath.Join(dir, "plugin-data.db"))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyUpdateReleaseURL, DefaultReleaseURL)
	v.SetDefault(KeyUpdateNoticeURL, DefaultNoticeURL)
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	downloads := filepath.Join(home, "Downloads")
	if info, err := os.Stat(downloads); err == nil && info.IsDir() {
		return downloads
	}
	return home
}

// Load reads the configuration into v. Flags should already be bound to v.
// An empty path looks for config.toml in Dir and tolerates its absence; an
// explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	SetDefaults(v, dir)

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	switch c.Server.Transport {
	case "tcp", "ws":
	default:
		return fmt.Errorf("%w: server.transport must be tcp or ws, got %q", ErrInvalid, c.Server.Transport)
	}
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("%w: transfer.chunk_size must be positive, got %d", ErrInvalid, c.Transfer.ChunkSize)
	}
	if c.Transfer.Pacing < 0 {
		return fmt.Errorf("%w: transfer.pacing must not be negative, got %s", ErrInvalid, c.Transfer.Pacing)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// fileSchema is the on-disk layout written by Write.
type fileSchema struct {
	Server struct {
		Address   string `toml:"address"`
		Transport string `toml:"transport"`
		Username  string `toml:"username"`
	} `toml:"server"`
	Transfer struct {
		ChunkSize   int    `toml:"chunk_size"`
		Pacing      string `toml:"pacing"`
		DownloadDir string `toml:"download_dir"`
		AutoAccept  bool   `toml:"auto_accept"`
	} `toml:"transfer"`
	Plugins struct {
		Root  string `toml:"root"`
		Store string `toml:"store"`
	} `toml:"plugins"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Update struct {
		ReleaseURL string `toml:"release_url"`
		NoticeURL  string `toml:"notice_url"`
	} `toml:"update"`
}

// Marshal encodes cfg as TOML.
func Marshal(cfg Config) ([]byte, error) {
	var f fileSchema
	f.Server.Address = cfg.Server.Address
	f.Server.Transport = cfg.Server.Transport
	f.Server.Username = cfg.Server.Username
	f.Transfer.ChunkSize = cfg.Transfer.ChunkSize
	f.Transfer.Pacing = cfg.Transfer.Pacing.String()
	f.Transfer.DownloadDir = cfg.Transfer.DownloadDir
	f.Transfer.AutoAccept = cfg.Transfer.AutoAccept
	f.Plugins.Root = cfg.Plugins.Root
	f.Plugins.Store = cfg.Plugins.Store
	f.Log.Level = cfg.Log.Level
	f.Log.Format = cfg.Log.Format
	f.Update.ReleaseURL = cfg.Update.ReleaseURL
	f.Update.NoticeURL = cfg.Update.NoticeURL

	data, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Write saves cfg to path, creating parent directories. It refuses to
// replace an existing file unless force is set.
func Write(path string, cfg Config, force bool) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
