package recognition

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Unknown is the name reported for faces below the acceptance threshold.
const Unknown = "Unknown"

// ErrNoVectors is returned when averaging an empty list of vectors.
var ErrNoVectors = errors.New("no vectors to average")

// ErrDimensionMismatch is returned when vectors of different lengths are combined.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Match is the closest reference found for a probe vector.
type Match struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is a thresholded identification.
type Result struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Accepted bool    `json:"accepted"`
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|). Vectors of different
// length or with zero norm have similarity 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// FindBestMatch returns the reference with the highest cosine similarity to
// probe. Names are scanned in ascending order and only a strictly greater
// score replaces the current best, so ties go to the first name. The boolean
// is false when refs is empty.
func FindBestMatch(probe Vector, refs map[string]Vector) (Match, bool) {
	if len(refs) == 0 {
		return Match{}, false
	}

	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	best := Match{Name: names[0], Score: CosineSimilarity(probe, refs[names[0]])}
	for _, name := range names[1:] {
		if sim := CosineSimilarity(probe, refs[name]); sim > best.Score {
			best = Match{Name: name, Score: sim}
		}
	}
	return best, true
}

// Matcher applies an acceptance threshold to the best match.
type Matcher struct {
	Threshold float64
}

// NewMatcher creates a matcher accepting scores at or above threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{Threshold: threshold}
}

// Identify finds the best reference for probe. Rejected results are named
// Unknown but keep the best raw score for display.
func (m *Matcher) Identify(probe Vector, refs map[string]Vector) Result {
	match, ok := FindBestMatch(probe, refs)
	if !ok {
		return Result{Name: Unknown}
	}
	if match.Score >= m.Threshold {
		return Result{Name: match.Name, Score: match.Score, Accepted: true}
	}
	return Result{Name: Unknown, Score: match.Score}
}

// AverageVectors returns the element-wise mean of vs.
func AverageVectors(vs []Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, ErrNoVectors
	}

	avg := make(Vector, len(vs[0]))
	for i, v := range vs {
		if len(v) != len(avg) {
			return nil, fmt.Errorf("%w: vector %d has %d values, expected %d", ErrDimensionMismatch, i, len(v), len(avg))
		}
		floats.Add(avg, v)
	}
	floats.Scale(1/float64(len(vs)), avg)
	return avg, nil
}
