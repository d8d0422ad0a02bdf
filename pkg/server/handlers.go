package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/gin-gonic/gin"
)

// RegisterRequest registers a face from client-side landmarks.
type RegisterRequest struct {
	Name      string        `json:"name" binding:"required"`
	Landmarks landmarks.Set `json:"landmarks" binding:"required"`
}

// RecognizeRequest carries the landmark sets of one frame.
type RecognizeRequest struct {
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Faces  []landmarks.Set `json:"faces"`
}

// RecognizeResponse lists the identified faces of one frame.
type RecognizeResponse struct {
	Faces []session.Face `json:"faces"`
}

func (s *Server) listReferences(c *gin.Context) {
	names, err := s.references.ListReferences()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"references": names})
}

func (s *Server) registerLandmarks(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	s.register(c, req.Name, req.Landmarks)
}

func (s *Server) registerImage(c *gin.Context) {
	name := c.Param("name")
	if err := storage.ValidateName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	faces, ok := s.detect(c)
	if !ok {
		return
	}
	if len(faces) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": landmarks.ErrNoFace.Error()})
		return
	}
	s.register(c, name, faces[0])
}

// register extracts the vector of set and stores it under name.
func (s *Server) register(c *gin.Context, name string, set landmarks.Set) {
	if err := storage.ValidateName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vec, err := s.session.Extractor().Extract(set)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := s.references.Register(name, vec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload()

	c.JSON(http.StatusCreated, gin.H{"name": ref.Name, "saved_at": ref.SavedAt})
}

func (s *Server) deleteReference(c *gin.Context) {
	err := s.references.DeleteReference(c.Param("name"))
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, storage.ErrReferenceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.reload()

	c.Status(http.StatusNoContent)
}

func (s *Server) recognize(c *gin.Context) {
	var req RecognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	s.processFrame(c, req.Faces, req.Width, req.Height)
}

func (s *Server) recognizeImage(c *gin.Context) {
	faces, ok := s.detect(c)
	if !ok {
		return
	}

	// The body was already read by detect.
	width, height, err := landmarks.ImageSize(c.MustGet(imageKey).([]byte))
	if err != nil {
		logging.Component("server").WithError(err).Debug("Could not read image size")
	}
	s.processFrame(c, faces, width, height)
}

func (s *Server) processFrame(c *gin.Context, sets []landmarks.Set, width, height int) {
	faces, err := s.session.ProcessFrame(sets, width, height)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recognition.ErrLandmarkCount) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, RecognizeResponse{Faces: faces})
}

func (s *Server) listAttendance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"records": s.attendance.List()})
}

func (s *Server) clearAttendance(c *gin.Context) {
	if err := s.attendance.Clear(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

const imageKey = "image"

// detect reads the image body and runs the detector on it. It writes the
// error response itself and reports whether the caller may continue.
func (s *Server) detect(c *gin.Context) ([]landmarks.Set, bool) {
	if s.detector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": landmarks.ErrDetectorNotConfigured.Error()})
		return nil, false
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxImageSize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty image body"})
		return nil, false
	}
	c.Set(imageKey, data)

	faces, err := s.detector.Detect(c.Request.Context(), data)
	if err != nil {
		logging.Component("server").WithError(err).Error("Landmark detection failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}
	return faces, true
}
