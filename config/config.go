// Package config carries monogit's process-wide configuration and the
// global logger, threaded explicitly through every subsystem constructor
// rather than read from package-level state, per the teacher's config.G()
// convention.
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/monogit/monogit/pkgs/logger"
)

// Mode identifies the runtime environment.
const (
	ModeProd = iota
	ModeDev
	ModeTest
)

// ObjectStoreConfig configures the L0 object store.
type ObjectStoreConfig struct {
	// BlobOffloadThreshold is the size in bytes above which a blob's bytes
	// are stored in the BlobBackend instead of inline in the row.
	BlobOffloadThreshold int64 `mapstructure:"blobOffloadThreshold"`
}

// RemoteConfig configures the smart-HTTP / LFS protocol engine.
type RemoteConfig struct {
	Addr               string `mapstructure:"addr"`
	GitBinPath         string `mapstructure:"gitBinPath"`
	MaxPushFileSize    int64  `mapstructure:"maxPushFileSize"`
	LFSSignedURLExpiry int    `mapstructure:"lfsSignedUrlExpirySeconds"`
}

// ScorpioConfig configures the FUSE overlay daemon.
type ScorpioConfig struct {
	Addr              string `mapstructure:"addr"`
	DirTTLSeconds     int    `mapstructure:"dirTtlSeconds"`
	ReplyTTLSeconds   int    `mapstructure:"replyTtlSeconds"`
	OpenBuffMaxBytes  int64  `mapstructure:"openBuffMaxBytes"`
	OpenBuffMaxFiles  int    `mapstructure:"openBuffMaxFiles"`
	FetchTimeoutMS    int    `mapstructure:"fetchTimeoutMs"`
	FetchMaxRetries   int    `mapstructure:"fetchMaxRetries"`
	AccurateStatByDef bool   `mapstructure:"accurateStatByDefault"`
	// GitServerURL is the protocol.Server a mount reads trees and blobs
	// from over HTTP; it is not assumed to be the same process as the
	// mount itself.
	GitServerURL string `mapstructure:"gitServerUrl"`
}

// OrionConfig configures the build dispatcher.
type OrionConfig struct {
	Addr              string `mapstructure:"addr"`
	MaxQueueSize      int    `mapstructure:"maxQueueSize"`
	MaxWaitSeconds    int    `mapstructure:"maxWaitSeconds"`
	CleanupIntervalMS int    `mapstructure:"cleanupIntervalMs"`
	HeartbeatTimeoutS int    `mapstructure:"heartbeatTimeoutSeconds"`
	MaxRetries        int    `mapstructure:"maxRetries"`
}

// AppConfig is monogit's root configuration object.
type AppConfig struct {
	Mode        int `mapstructure:"-"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectStore"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Scorpio     ScorpioConfig     `mapstructure:"scorpio"`
	Orion       OrionConfig       `mapstructure:"orion"`

	dataDir string
	g       *Globals
}

// Globals holds process-wide singletons, threaded through AppConfig rather
// than accessed as package-level state.
type Globals struct {
	Log logger.Logger
}

// G returns the config's globals.
func (c *AppConfig) G() *Globals { return c.g }

// DataDir returns the root directory for persisted state.
func (c *AppConfig) DataDir() string { return c.dataDir }

// SetDataDir sets the root directory for persisted state.
func (c *AppConfig) SetDataDir(d string) { c.dataDir = d }

// GetRepoRoot returns where object/ref store data lives.
func (c *AppConfig) GetRepoRoot() string {
	return filepath.Join(c.dataDir, "repo")
}

// IsTest reports whether the config is running in test mode.
func (c *AppConfig) IsTest() bool { return c.Mode == ModeTest }

// Default returns an AppConfig populated with sane defaults, suitable as a
// viper unmarshal target.
func Default() *AppConfig {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	return &AppConfig{
		Mode: ModeProd,
		ObjectStore: ObjectStoreConfig{
			BlobOffloadThreshold: 1 << 20, // 1 MiB, per spec §4.1
		},
		Remote: RemoteConfig{
			Addr:               ":9004",
			GitBinPath:         "git",
			MaxPushFileSize:    1 << 30,
			LFSSignedURLExpiry: 3600,
		},
		Scorpio: ScorpioConfig{
			Addr:             ":9005",
			DirTTLSeconds:    30,
			ReplyTTLSeconds:  1,
			OpenBuffMaxBytes: 64 << 20,
			OpenBuffMaxFiles: 256,
			FetchTimeoutMS:   5000,
			FetchMaxRetries:  3,
			GitServerURL:     "http://localhost:9004",
		},
		Orion: OrionConfig{
			Addr:              ":9006",
			MaxQueueSize:      1000,
			MaxWaitSeconds:    300,
			CleanupIntervalMS: 30000,
			HeartbeatTimeoutS: 30,
			MaxRetries:        3,
		},
		dataDir: filepath.Join(home, ".monogit"),
		g:       &Globals{Log: logger.NewLogrus()},
	}
}

// Load reads configuration from a YAML file at path (if it exists),
// overlaying Default(). MONOGIT_-prefixed environment variables override
// only keys that the file itself sets; with no file, Default() is returned
// unchanged and the environment is not consulted.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MONOGIT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
