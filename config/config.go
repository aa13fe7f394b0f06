package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Gallery     GalleryConfig     `mapstructure:"gallery"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Embedder    EmbedderConfig    `mapstructure:"embedder"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds database settings (SQLite).
type DBConfig struct {
	File string `mapstructure:"file"`
}

// GalleryConfig selects the reference dataset used for recognition.
type GalleryConfig struct {
	ActiveDataset string `mapstructure:"active_dataset"`
}

// RecognitionConfig holds matching parameters. Threshold is the maximum
// Euclidean distance accepted as a match; recognition quality depends on
// enrollment photos and lighting, so it stays tunable rather than fixed.
type RecognitionConfig struct {
	Threshold    float64 `mapstructure:"threshold"`
	EmbeddingDim int     `mapstructure:"embedding_dim"`
	TieEpsilon   float64 `mapstructure:"tie_epsilon"`
}

// CameraConfig holds frame source settings. SnapshotURL points at an HTTP
// endpoint returning the current camera frame as JPEG.
type CameraConfig struct {
	SnapshotURL  string        `mapstructure:"snapshot_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// EmbedderConfig holds settings for the external face embedding service.
type EmbedderConfig struct {
	URL            string  `mapstructure:"url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	DetectionProb  float64 `mapstructure:"det_prob_threshold"`
}

// MQTTConfig holds settings for the optional MQTT event publisher.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("db.file", "data/attendance.db")
	v.SetDefault("gallery.active_dataset", "")
	v.SetDefault("recognition.threshold", 0.45)
	v.SetDefault("recognition.embedding_dim", 128)
	v.SetDefault("recognition.tie_epsilon", 1e-6)
	v.SetDefault("camera.snapshot_url", "")
	v.SetDefault("camera.poll_interval", 500*time.Millisecond)
	v.SetDefault("embedder.url", "http://localhost:18081")
	v.SetDefault("embedder.timeout_seconds", 30)
	v.SetDefault("embedder.det_prob_threshold", 0.8)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-attendance-go")
	v.SetDefault("mqtt.topic", "attendance/events")
}

// Load reads configuration from the given YAML file, applying defaults and
// FACEATTEND_* environment variable overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FACEATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				// The file exists but could not be parsed.
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			log.Warnf("Config file %s not found, using defaults and environment", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Make sure the database directory exists before GORM opens the file.
	if dir := filepath.Dir(cfg.DB.File); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	return &cfg, nil
}

// Validate checks configuration values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Recognition.Threshold <= 0 || c.Recognition.Threshold >= 1 {
		return fmt.Errorf("recognition.threshold must be in (0, 1), got %v", c.Recognition.Threshold)
	}
	if c.Recognition.EmbeddingDim <= 0 {
		return fmt.Errorf("recognition.embedding_dim must be positive, got %d", c.Recognition.EmbeddingDim)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
