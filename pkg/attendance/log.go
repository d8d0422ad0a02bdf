// Package attendance keeps the persistent attendance log: a single JSON
// document of records with a per-name cool-down between entries.
package attendance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/isotime"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

// DefaultCooldown is the minimum time between two records for one name.
const DefaultCooldown = 60 * time.Second

// Record is one attendance entry.
type Record struct {
	ID         int          `json:"id"`
	Name       string       `json:"name"`
	Timestamp  isotime.Time `json:"timestamp"`
	Confidence float64      `json:"confidence"`
	CreatedAt  isotime.Time `json:"created_at"`
	StartTime  isotime.Time `json:"start_time"`
}

// Document is the on-disk form of the log.
type Document struct {
	Records []Record `json:"records"`
	NextID  int      `json:"next_id"`
}

func emptyDocument() Document {
	return Document{Records: []Record{}, NextID: 1}
}

// Log appends records to an attendance file.
type Log struct {
	mu       sync.Mutex
	path     string
	cooldown time.Duration
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces the clock used for timestamps and cool-down checks.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Open prepares the log at path, creating the parent directory and an empty
// document if the file does not exist yet.
func Open(path string, cooldown time.Duration, opts ...Option) (*Log, error) {
	l := &Log{
		path:     path,
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create attendance directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.write(emptyDocument()); err != nil {
			return nil, err
		}
		logging.Debugf("Initialized attendance log at %s", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat attendance log: %w", err)
	}

	return l, nil
}

// Path returns the location of the attendance file.
func (l *Log) Path() string {
	return l.path
}

// Cooldown returns the minimum interval between records for one name.
func (l *Log) Cooldown() time.Duration {
	return l.cooldown
}

// Record appends an entry for name unless the last entry for that name is
// younger than the cool-down. The boolean reports whether a record was
// written.
func (l *Log) Record(name string, confidence float64) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := l.read()
	now := l.now()

	for i := len(doc.Records) - 1; i >= 0; i-- {
		if doc.Records[i].Name != name {
			continue
		}
		if now.Sub(doc.Records[i].Timestamp.Time) < l.cooldown {
			return Record{}, false, nil
		}
		break
	}

	ts := isotime.New(now)
	rec := Record{
		ID:         doc.NextID,
		Name:       name,
		Timestamp:  ts,
		Confidence: confidence,
		CreatedAt:  ts,
		StartTime:  ts,
	}
	doc.Records = append(doc.Records, rec)
	doc.NextID++

	if err := l.write(doc); err != nil {
		return Record{}, false, err
	}

	logging.WithFields(logging.Fields{
		"id":         rec.ID,
		"name":       name,
		"confidence": confidence,
	}).Info("Attendance recorded")
	return rec, true, nil
}

// Document returns the current contents of the log.
func (l *Log) Document() Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// List returns all records, newest first.
func (l *Log) List() []Record {
	doc := l.Document()
	out := make([]Record, len(doc.Records))
	for i, rec := range doc.Records {
		out[len(doc.Records)-1-i] = rec
	}
	return out
}

// Clear removes every record and resets the id counter.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(emptyDocument()); err != nil {
		return err
	}
	logging.Infof("Cleared attendance log %s", l.path)
	return nil
}

// read loads the document. Missing or malformed files yield an empty one.
func (l *Log) read() Document {
	data, err := os.ReadFile(l.path)
	if err != nil {
		logging.WithError(err).Warnf("Could not read attendance log %s, starting empty", l.path)
		return emptyDocument()
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.WithError(err).Warnf("Malformed attendance log %s, starting empty", l.path)
		return emptyDocument()
	}
	if doc.Records == nil {
		doc.Records = []Record{}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc
}

func (l *Log) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attendance log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write attendance log: %w", err)
	}
	return nil
}
