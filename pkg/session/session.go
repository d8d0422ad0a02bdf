// Package session runs live recognition: each frame's faces are identified
// against the loaded references and accepted matches are written to the
// attendance log, throttled by an in-memory per-name cool-down.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// DefaultCooldown is the in-memory interval between log attempts per name.
const DefaultCooldown = 30 * time.Second

// Recorder writes attendance entries.
type Recorder interface {
	Record(name string, confidence float64) (attendance.Record, bool, error)
}

// ReferenceSource provides the reference vectors keyed by name.
type ReferenceSource interface {
	LoadAll() (map[string]recognition.Vector, error)
}

// Face is the outcome for one detected face in a frame.
type Face struct {
	Box      landmarks.Box `json:"box"`
	Name     string        `json:"name"`
	Score    float64       `json:"score"`
	Accepted bool          `json:"accepted"`
	Logged   bool          `json:"logged"`
}

// Session holds the recognition state shared across frames.
type Session struct {
	extractor *recognition.Extractor
	matcher   *recognition.Matcher
	source    ReferenceSource
	recorder  Recorder
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	refs     map[string]recognition.Vector
	lastSeen map[string]time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithCooldown sets the in-memory cool-down.
func WithCooldown(d time.Duration) Option {
	return func(s *Session) {
		s.cooldown = d
	}
}

// WithClock replaces the clock used for the cool-down.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a session and loads the initial references from source.
func New(extractor *recognition.Extractor, matcher *recognition.Matcher, source ReferenceSource, recorder Recorder, opts ...Option) (*Session, error) {
	s := &Session{
		extractor: extractor,
		matcher:   matcher,
		source:    source,
		recorder:  recorder,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		refs:      map[string]recognition.Vector{},
		lastSeen:  map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Extractor returns the feature extractor used by the session.
func (s *Session) Extractor() *recognition.Extractor {
	return s.extractor
}

// Reload replaces the in-memory references with the current store contents.
func (s *Session) Reload() error {
	refs, err := s.source.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load references: %w", err)
	}

	s.mu.Lock()
	s.refs = refs
	s.mu.Unlock()

	logging.Component("session").Debugf("Loaded %d reference(s)", len(refs))
	return nil
}

// References returns the number of loaded references.
func (s *Session) References() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Identify matches a single landmark set without touching the log.
func (s *Session) Identify(set landmarks.Set) (recognition.Result, error) {
	vec, err := s.extractor.Extract(set)
	if err != nil {
		return recognition.Result{}, err
	}

	s.mu.Lock()
	refs := s.refs
	s.mu.Unlock()

	return s.matcher.Identify(vec, refs), nil
}

// ProcessFrame identifies every face of one frame. All sets are validated
// before any is matched, so a malformed frame has no side effects. Failures
// to write the log are reported through the logger only.
func (s *Session) ProcessFrame(sets []landmarks.Set, width, height int) ([]Face, error) {
	vecs := make([]recognition.Vector, len(sets))
	for i, set := range sets {
		vec, err := s.extractor.Extract(set)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		vecs[i] = vec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := logging.Component("session")
	faces := make([]Face, len(sets))
	for i, vec := range vecs {
		res := s.matcher.Identify(vec, s.refs)
		face := Face{
			Box:      sets[i].BoundingBox(width, height),
			Name:     res.Name,
			Score:    res.Score,
			Accepted: res.Accepted,
		}

		if res.Accepted && s.due(res.Name) {
			s.lastSeen[res.Name] = s.now()
			logged, err := s.record(res.Name, res.Score)
			if err != nil {
				log.WithError(err).Errorf("Failed to log attendance for %s", res.Name)
			}
			face.Logged = logged
		}

		faces[i] = face
	}

	return faces, nil
}

// due reports whether name is outside the in-memory cool-down.
func (s *Session) due(name string) bool {
	last, ok := s.lastSeen[name]
	if !ok {
		return true
	}
	return s.now().Sub(last) > s.cooldown
}

func (s *Session) record(name string, score float64) (bool, error) {
	if s.recorder == nil {
		return false, nil
	}
	_, logged, err := s.recorder.Record(name, score)
	return logged, err
}
