// Package server exposes registration, recognition and the attendance log
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
)

// maxImageSize bounds uploaded image bodies.
const maxImageSize = 15 << 20

// ReferenceStore is the subset of the reference storage used by the API.
type ReferenceStore interface {
	Register(name string, vec recognition.Vector) (storage.Reference, error)
	DeleteReference(name string) error
	ListReferences() ([]string, error)
}

// AttendanceLog is the subset of the attendance log used by the API.
type AttendanceLog interface {
	List() []attendance.Record
	Clear() error
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	ReloadInterval time.Duration
}

// Server is the faceattend HTTP API.
type Server struct {
	opts       Options
	engine     *gin.Engine
	httpServer *http.Server
	scheduler  *gocron.Scheduler

	session    *session.Session
	references ReferenceStore
	attendance AttendanceLog
	detector   landmarks.Detector
}

// New creates the server. detector may be nil, in which case the image
// endpoints answer 503.
func New(opts Options, sess *session.Session, refs ReferenceStore, log AttendanceLog, detector landmarks.Detector) *Server {
	s := &Server{
		opts:       opts,
		session:    sess,
		references: refs,
		attendance: log,
		detector:   detector,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	if len(opts.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  opts.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}
	engine.MaxMultipartMemory = maxImageSize

	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "references": s.session.References()})
	})

	api := s.engine.Group("/api")
	{
		api.GET("/references", s.listReferences)
		api.POST("/references", s.registerLandmarks)
		api.POST("/references/:name/image", s.registerImage)
		api.DELETE("/references/:name", s.deleteReference)

		api.POST("/recognize", s.recognize)
		api.POST("/recognize/image", s.recognizeImage)

		api.GET("/attendance", s.listAttendance)
		api.DELETE("/attendance", s.clearAttendance)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s %s does not exist", c.Request.Method, c.Request.URL.Path)})
	})
}

// Router returns the gin engine for testing.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Start schedules the periodic reference reload and serves HTTP until
// Shutdown is called.
func (s *Server) Start() error {
	if s.opts.ReloadInterval > 0 {
		s.scheduler = gocron.NewScheduler(time.UTC)
		_, err := s.scheduler.Every(s.opts.ReloadInterval).WaitForSchedule().SingletonMode().Do(s.reload)
		if err != nil {
			return fmt.Errorf("failed to schedule reference reload: %w", err)
		}
		s.scheduler.StartAsync()
	}

	logging.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops the reload job and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down HTTP server...")

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func (s *Server) reload() {
	if err := s.session.Reload(); err != nil {
		logging.Component("server").WithError(err).Error("Reference reload failed")
	}
}

// requestLogger logs each request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logging.WithFields(logging.Fields{
			"component": "http",
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
