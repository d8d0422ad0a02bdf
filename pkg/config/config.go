// Package config provides configuration management for faceattend.
// It loads configuration from YAML files with sensible defaults and lets
// FACEATTEND_* environment variables override individual settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all faceattend configuration.
type Config struct {
	Landmarks   LandmarksConfig   `yaml:"landmarks"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Storage     StorageConfig     `yaml:"storage"`
	Training    TrainingConfig    `yaml:"training"`
	Server      ServerConfig      `yaml:"server"`
	Stream      StreamConfig      `yaml:"stream"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LandmarksConfig describes the face mesh and the detector helper.
type LandmarksConfig struct {
	Count           int                 `yaml:"count"`
	Keypoints       landmarks.Keypoints `yaml:"keypoints"`
	DetectorCommand []string            `yaml:"detector_command"`
	DetectorTimeout int                 `yaml:"detector_timeout"`
}

// RecognitionConfig holds matching settings.
type RecognitionConfig struct {
	Threshold       float64 `yaml:"threshold"`
	SessionCooldown int     `yaml:"session_cooldown"`
}

// AttendanceConfig holds attendance log settings.
type AttendanceConfig struct {
	File     string `yaml:"file"`
	Cooldown int    `yaml:"cooldown"`
}

// StorageConfig holds reference storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// TrainingConfig holds offline builder settings.
type TrainingConfig struct {
	DataDir    string   `yaml:"data_dir"`
	Extensions []string `yaml:"extensions"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReloadInterval int      `yaml:"reload_interval"`
}

// StreamConfig holds MQTT frame stream settings.
type StreamConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	FramesTopic  string `yaml:"frames_topic"`
	ResultsTopic string `yaml:"results_topic"`
	QoS          int    `yaml:"qos"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceattend")
	return &Config{
		Landmarks: LandmarksConfig{
			Count:           landmarks.DefaultCount,
			Keypoints:       landmarks.DefaultKeypoints(),
			DetectorTimeout: 10,
		},
		Recognition: RecognitionConfig{
			Threshold:       0.5,
			SessionCooldown: 30,
		},
		Attendance: AttendanceConfig{
			File:     filepath.Join(dataDir, "attendance.json"),
			Cooldown: 60,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: false,
		},
		Training: TrainingConfig{
			DataDir:    filepath.Join(dataDir, "training"),
			Extensions: []string{".jpg", ".jpeg", ".png"},
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:8501"},
			ReloadInterval: 60,
		},
		Stream: StreamConfig{
			Broker:       "tcp://127.0.0.1:1883",
			ClientID:     "faceattend",
			FramesTopic:  "faceattend/frames",
			ResultsTopic: "faceattend/results",
			QoS:          1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(dataDir, "faceattend.log"),
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceattend/faceattend.yaml"); err == nil {
		return Load("/etc/faceattend/faceattend.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceattend/faceattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given). Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from FACEATTEND_* environment variables.
// Unset or unparsable values leave the current setting unchanged.
func (c *Config) ApplyEnv() {
	envString("FACEATTEND_DATA_DIR", &c.Storage.DataDir)
	envBool("FACEATTEND_ENCRYPTION", &c.Storage.EncryptionEnabled)
	envString("FACEATTEND_TRAINING_DIR", &c.Training.DataDir)
	envString("FACEATTEND_ATTENDANCE_FILE", &c.Attendance.File)
	envInt("FACEATTEND_ATTENDANCE_COOLDOWN", &c.Attendance.Cooldown)
	envFloat("FACEATTEND_THRESHOLD", &c.Recognition.Threshold)
	envInt("FACEATTEND_SESSION_COOLDOWN", &c.Recognition.SessionCooldown)
	if v := os.Getenv("FACEATTEND_DETECTOR"); v != "" {
		c.Landmarks.DetectorCommand = strings.Fields(v)
	}
	envString("FACEATTEND_HOST", &c.Server.Host)
	envInt("FACEATTEND_PORT", &c.Server.Port)
	if v := os.Getenv("FACEATTEND_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	envString("FACEATTEND_MQTT_BROKER", &c.Stream.Broker)
	envString("FACEATTEND_MQTT_CLIENT_ID", &c.Stream.ClientID)
	envString("FACEATTEND_LOG_LEVEL", &c.Logging.Level)
	envString("FACEATTEND_LOG_FILE", &c.Logging.File)
	envString("FACEATTEND_LOG_FORMAT", &c.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func envBool(key string, dst *bool) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Landmarks.Count <= 0 {
		return fmt.Errorf("landmark count must be positive, got %d", c.Landmarks.Count)
	}
	if err := c.Landmarks.Keypoints.Validate(c.Landmarks.Count); err != nil {
		return err
	}
	if c.Landmarks.DetectorTimeout < 0 {
		return fmt.Errorf("detector_timeout must not be negative, got %d", c.Landmarks.DetectorTimeout)
	}

	if c.Recognition.Threshold < -1 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("threshold must be between -1 and 1, got %f", c.Recognition.Threshold)
	}
	if c.Recognition.SessionCooldown < 0 {
		return fmt.Errorf("session_cooldown must not be negative, got %d", c.Recognition.SessionCooldown)
	}

	if c.Attendance.File == "" {
		return fmt.Errorf("attendance file must be set")
	}
	if c.Attendance.Cooldown < 0 {
		return fmt.Errorf("attendance cooldown must not be negative, got %d", c.Attendance.Cooldown)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReloadInterval < 0 {
		return fmt.Errorf("reload_interval must not be negative, got %d", c.Server.ReloadInterval)
	}

	if c.Stream.QoS < 0 || c.Stream.QoS > 2 {
		return fmt.Errorf("stream qos must be 0, 1 or 2, got %d", c.Stream.QoS)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Attendance.File = ExpandPath(c.Attendance.File)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Training.DataDir = ExpandPath(c.Training.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.ReferencesDir(), 0700); err != nil {
		return fmt.Errorf("failed to create references directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Attendance.File), 0755); err != nil {
		return fmt.Errorf("failed to create attendance directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// ReferencesDir returns the directory holding reference files.
func (c *Config) ReferencesDir() string {
	return filepath.Join(c.Storage.DataDir, "embeddings")
}

// DetectorTimeout returns the detector timeout as a duration.
func (c *Config) DetectorTimeout() time.Duration {
	return time.Duration(c.Landmarks.DetectorTimeout) * time.Second
}

// SessionCooldown returns the in-memory recognition cool-down.
func (c *Config) SessionCooldown() time.Duration {
	return time.Duration(c.Recognition.SessionCooldown) * time.Second
}

// AttendanceCooldown returns the persisted attendance cool-down.
func (c *Config) AttendanceCooldown() time.Duration {
	return time.Duration(c.Attendance.Cooldown) * time.Second
}

// ReloadInterval returns the reference reload period of the server.
func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.Server.ReloadInterval) * time.Second
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
