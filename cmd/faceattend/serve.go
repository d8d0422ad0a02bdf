package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/server"
	"github.com/MrCodeEU/faceattend/pkg/stream"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the faceattend HTTP API.
Capture clients post landmarks or images for registration and recognition;
recognized people are written to the attendance log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Recognize landmark frames from MQTT",
	Long: `Subscribe to the configured frames topic, recognize every frame in
arrival order and publish the results to the results topic.`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(streamCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	log, err := openAttendance()
	if err != nil {
		return err
	}
	sess, err := newSession(store, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:           cfg.Addr(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReloadInterval: cfg.ReloadInterval(),
	}, sess, store, log, newDetector())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Infof("Received %s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runStream(cmd *cobra.Command, args []string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	log, err := openAttendance()
	if err != nil {
		return err
	}
	sess, err := newSession(store, log)
	if err != nil {
		return err
	}

	worker := stream.NewWorker(stream.Options{
		Broker:       cfg.Stream.Broker,
		ClientID:     cfg.Stream.ClientID,
		FramesTopic:  cfg.Stream.FramesTopic,
		ResultsTopic: cfg.Stream.ResultsTopic,
		QoS:          byte(cfg.Stream.QoS),
	}, sess)

	if interval := cfg.ReloadInterval(); interval > 0 {
		scheduler := gocron.NewScheduler(time.UTC)
		if _, err := scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(func() {
			if err := sess.Reload(); err != nil {
				logging.WithError(err).Error("Reference reload failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule reference reload: %w", err)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
