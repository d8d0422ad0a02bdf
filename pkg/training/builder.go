// Package training builds reference vectors offline from directories of
// labelled photos and evaluates stored references against them.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/isotime"
	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
	"github.com/schollz/progressbar/v3"
)

// DefaultExtensions are the image file extensions picked up by the builder.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

var (
	// ErrNoPeople is returned when the data directory has no person folders.
	ErrNoPeople = errors.New("no person directories found")
	// ErrNoImages is returned when a person folder has no usable image files.
	ErrNoImages = errors.New("no images found")
)

// Saver persists built references.
type Saver interface {
	SaveReference(ref storage.Reference) error
}

// ImageResult describes what happened to one training image.
type ImageResult struct {
	File  string `json:"file"`
	Used  bool   `json:"used"`
	Error string `json:"error,omitempty"`
}

// PersonResult is the outcome of building one person's reference.
type PersonResult struct {
	Name   string        `json:"name"`
	Images []ImageResult `json:"images"`
	Used   int           `json:"used"`
	Saved  bool          `json:"saved"`
}

// Summary is the outcome of a full build.
type Summary struct {
	People  []PersonResult `json:"people"`
	Trained int            `json:"trained"`
}

// Builder turns photo folders into averaged reference vectors.
type Builder struct {
	detector   landmarks.Detector
	extractor  *recognition.Extractor
	saver      Saver
	extensions []string
	progress   io.Writer
	now        func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithExtensions overrides the accepted image extensions.
func WithExtensions(exts []string) Option {
	return func(b *Builder) {
		if len(exts) > 0 {
			b.extensions = exts
		}
	}
}

// WithProgress renders a progress bar to w while images are processed.
func WithProgress(w io.Writer) Option {
	return func(b *Builder) {
		b.progress = w
	}
}

// WithClock replaces the clock used for saved_at.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a builder. The saver may be nil when only Evaluate is
// used.
func NewBuilder(detector landmarks.Detector, extractor *recognition.Extractor, saver Saver, opts ...Option) *Builder {
	b := &Builder{
		detector:   detector,
		extractor:  extractor,
		saver:      saver,
		extensions: DefaultExtensions,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build processes every sub-directory of dataDir as one person.
func (b *Builder) Build(ctx context.Context, dataDir string) (Summary, error) {
	people, err := personDirs(dataDir)
	if err != nil {
		return Summary{}, err
	}
	if len(people) == 0 {
		return Summary{}, fmt.Errorf("%w in %s", ErrNoPeople, dataDir)
	}

	log := logging.Component("training")
	log.Infof("Found %d people to train in %s", len(people), dataDir)

	var summary Summary
	for _, name := range people {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res, err := b.BuildPerson(ctx, name, filepath.Join(dataDir, name))
		if err != nil && !errors.Is(err, ErrNoImages) {
			return summary, err
		}
		if res.Saved {
			summary.Trained++
		}
		summary.People = append(summary.People, res)
	}

	log.Infof("Training complete: %d/%d people trained", summary.Trained, len(people))
	return summary, nil
}

// BuildPerson averages the vectors of every usable image in dir and saves
// them as name's reference. Images without a face are skipped. When no
// image is usable nothing is saved.
func (b *Builder) BuildPerson(ctx context.Context, name, dir string) (PersonResult, error) {
	res := PersonResult{Name: name, Images: []ImageResult{}}
	log := logging.Component("training").WithField("person", name)

	files, err := b.imageFiles(dir)
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		log.Warn("No images found")
		return res, fmt.Errorf("%w for %s", ErrNoImages, name)
	}

	bar := b.newProgressBar(len(files), name)

	var vecs []recognition.Vector
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		vec, err := b.vectorFromFile(ctx, filepath.Join(dir, file))
		img := ImageResult{File: file, Used: err == nil}
		if err != nil {
			img.Error = err.Error()
			log.WithError(err).Debugf("Skipping %s", file)
		} else {
			vecs = append(vecs, vec)
		}
		res.Images = append(res.Images, img)

		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	res.Used = len(vecs)
	if res.Used == 0 {
		log.Warn("No valid faces found")
		return res, nil
	}

	avg, err := recognition.AverageVectors(vecs)
	if err != nil {
		return res, err
	}

	ref := storage.Reference{
		Name:      name,
		Embedding: avg,
		SavedAt:   isotime.New(b.now().UTC()),
		NumImages: res.Used,
	}
	if err := b.saver.SaveReference(ref); err != nil {
		return res, fmt.Errorf("failed to save reference for %s: %w", name, err)
	}
	res.Saved = true

	log.Infof("Saved reference from %d/%d images", res.Used, len(files))
	return res, nil
}

// vectorFromFile detects the first face in an image file and extracts its
// vector.
func (b *Builder) vectorFromFile(ctx context.Context, path string) (recognition.Vector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	faces, err := b.detector.Detect(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, landmarks.ErrNoFace
	}

	return b.extractor.Extract(faces[0])
}

// imageFiles lists image files in dir by name, matching extensions without
// regard to case.
func (b *Builder) imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range b.extensions {
			if ext == strings.ToLower(want) {
				files = append(files, entry.Name())
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (b *Builder) newProgressBar(count int, name string) *progressbar.ProgressBar {
	if b.progress == nil {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetWriter(b.progress),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
}

// personDirs returns the sorted names of the sub-directories of dataDir.
func personDirs(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
