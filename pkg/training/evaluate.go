package training

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// Status is the outcome of evaluating one person.
type Status string

// Evaluation statuses.
const (
	StatusPass          Status = "pass"
	StatusWrongMatch    Status = "wrong_match"
	StatusNotRecognized Status = "not_recognized"
	StatusNoFace        Status = "no_face"
)

// EvalResult is the evaluation of one person's first image.
type EvalResult struct {
	Name   string  `json:"name"`
	Image  string  `json:"image"`
	Status Status  `json:"status"`
	Match  string  `json:"match,omitempty"`
	Score  float64 `json:"score"`
}

// Evaluation collects the results of Evaluate.
type Evaluation struct {
	Results []EvalResult `json:"results"`
	Passed  int          `json:"passed"`
}

// AllPassed reports whether every evaluated person passed.
func (e Evaluation) AllPassed() bool {
	return e.Passed == len(e.Results)
}

// Evaluate identifies the first image of each person folder in dataDir
// against refs. Folders without images are skipped.
func (b *Builder) Evaluate(ctx context.Context, dataDir string, matcher *recognition.Matcher, refs map[string]recognition.Vector) (Evaluation, error) {
	people, err := personDirs(dataDir)
	if err != nil {
		return Evaluation{}, err
	}

	log := logging.Component("training")
	eval := Evaluation{Results: []EvalResult{}}

	for _, name := range people {
		if err := ctx.Err(); err != nil {
			return eval, err
		}

		dir := filepath.Join(dataDir, name)
		files, err := b.imageFiles(dir)
		if err != nil {
			return eval, err
		}
		if len(files) == 0 {
			continue
		}

		res := EvalResult{Name: name, Image: files[0]}
		vec, err := b.vectorFromFile(ctx, filepath.Join(dir, files[0]))
		switch {
		case errors.Is(err, landmarks.ErrNoFace):
			res.Status = StatusNoFace
		case err != nil:
			log.WithError(err).Warnf("Could not process %s", res.Image)
			res.Status = StatusNoFace
		default:
			res.Status, res.Match, res.Score = classify(name, vec, matcher, refs)
		}

		if res.Status == StatusPass {
			eval.Passed++
		}
		log.WithFields(logging.Fields{
			"person": name,
			"image":  res.Image,
			"status": res.Status,
			"match":  res.Match,
			"score":  res.Score,
		}).Info("Evaluated")
		eval.Results = append(eval.Results, res)
	}

	return eval, nil
}

func classify(name string, vec recognition.Vector, matcher *recognition.Matcher, refs map[string]recognition.Vector) (Status, string, float64) {
	match, ok := recognition.FindBestMatch(vec, refs)
	if !ok {
		return StatusNotRecognized, "", 0
	}
	if match.Score < matcher.Threshold {
		return StatusNotRecognized, match.Name, match.Score
	}
	if match.Name != name {
		return StatusWrongMatch, match.Name, match.Score
	}
	return StatusPass, match.Name, match.Score
}
