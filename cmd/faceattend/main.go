// Command faceattend runs face-mesh based attendance: the HTTP API, the MQTT
// frame worker and the offline tools for references and the attendance log.
package main

import (
	"fmt"
	"os"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	cfg        *config.Config
	configFile string
	envFile    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "faceattend",
	Short: "Face recognition attendance from face-mesh landmarks",
	Long: `faceattend recognizes registered people from face-mesh landmarks and
keeps an attendance log. It serves an HTTP API for capture clients, consumes
landmark frames from MQTT, and builds references from folders of photos.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with FACEATTEND_* overrides")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	cfg.ApplyEnv()
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("faceattend v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)
	return nil
}

func openStore() (*storage.FileStorage, error) {
	return storage.NewFileStorage(cfg.ReferencesDir(), cfg.Storage.EncryptionEnabled)
}

func openAttendance() (*attendance.Log, error) {
	return attendance.Open(cfg.Attendance.File, cfg.AttendanceCooldown())
}

func newExtractor() (*recognition.Extractor, error) {
	return recognition.NewExtractor(cfg.Landmarks.Count, cfg.Landmarks.Keypoints)
}

func newMatcher() *recognition.Matcher {
	return recognition.NewMatcher(cfg.Recognition.Threshold)
}

// newDetector returns the configured detector helper, or nil when none is
// configured.
func newDetector() landmarks.Detector {
	det, err := landmarks.NewCommandDetector(cfg.Landmarks.DetectorCommand, cfg.Landmarks.Count, cfg.DetectorTimeout())
	if err != nil {
		logging.Debugf("No landmark detector: %v", err)
		return nil
	}
	return det
}

func requireDetector() (landmarks.Detector, error) {
	det := newDetector()
	if det == nil {
		return nil, fmt.Errorf("%w: set landmarks.detector_command or FACEATTEND_DETECTOR", landmarks.ErrDetectorNotConfigured)
	}
	return det, nil
}

// newSession wires the store, the attendance log and the matcher. The log
// may be nil for read-only recognition.
func newSession(store *storage.FileStorage, log *attendance.Log) (*session.Session, error) {
	ext, err := newExtractor()
	if err != nil {
		return nil, err
	}

	var rec session.Recorder
	if log != nil {
		rec = log
	}
	return session.New(ext, newMatcher(), store, rec, session.WithCooldown(cfg.SessionCooldown()))
}
