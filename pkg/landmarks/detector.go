package landmarks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// ErrDetectorNotConfigured is returned when no detector command is set.
var ErrDetectorNotConfigured = errors.New("landmark detector not configured")

// Detector finds faces in an encoded image and returns one landmark set per
// face. An image without faces yields an empty slice and no error.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Set, error)
}

// Result is the JSON document exchanged with detector helpers and clients.
type Result struct {
	Faces []Set `json:"faces"`
}

// ParseFaces decodes a detector result document.
func ParseFaces(data []byte) ([]Set, error) {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode landmarks: %w", err)
	}
	return res.Faces, nil
}

// CommandDetector runs an external face-mesh helper. The encoded image is
// written to the helper's stdin and a Result document is read from stdout.
type CommandDetector struct {
	args    []string
	count   int
	timeout time.Duration
}

// NewCommandDetector creates a detector around the given command line.
// Every returned set must have exactly count points.
func NewCommandDetector(args []string, count int, timeout time.Duration) (*CommandDetector, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, ErrDetectorNotConfigured
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandDetector{
		args:    append([]string(nil), args...),
		count:   count,
		timeout: timeout,
	}, nil
}

// Detect implements Detector.
func (d *CommandDetector) Detect(ctx context.Context, image []byte) ([]Set, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.args[0], d.args[1:]...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			return nil, fmt.Errorf("landmark detector timed out after %v: %w", d.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("landmark detector failed: %w: %s", err, msg)
	}

	faces, err := ParseFaces(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	for i, f := range faces {
		if len(f) != d.count {
			return nil, fmt.Errorf("landmark detector returned %d points for face %d, expected %d", len(f), i, d.count)
		}
	}

	logging.Component("landmarks").Debugf("Detected %d face(s) in %v", len(faces), time.Since(start))
	return faces, nil
}
