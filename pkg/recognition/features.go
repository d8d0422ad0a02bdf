// Package recognition turns face-mesh landmarks into geometric feature
// vectors and matches them against named reference vectors.
package recognition

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"gonum.org/v1/gonum/floats"
)

// NumDistances is the number of pairwise keypoint distances in a vector.
const NumDistances = 7

// ErrLandmarkCount is returned when a landmark set does not have the number
// of points the extractor was built for.
var ErrLandmarkCount = errors.New("unexpected landmark count")

// Vector is a feature vector: the normalized raw coordinate block followed by
// the normalized distance block.
type Vector []float64

// Extractor computes feature vectors for landmark sets of a fixed size.
// It is shared by live recognition, registration and the offline builder so
// that all of them produce vectors in the same feature space.
type Extractor struct {
	count     int
	keypoints landmarks.Keypoints
}

// NewExtractor creates an extractor for meshes of count points.
func NewExtractor(count int, keypoints landmarks.Keypoints) (*Extractor, error) {
	if count <= 0 {
		return nil, fmt.Errorf("landmark count must be positive, got %d", count)
	}
	if err := keypoints.Validate(count); err != nil {
		return nil, err
	}
	return &Extractor{count: count, keypoints: keypoints}, nil
}

// Count returns the expected number of landmarks per face.
func (e *Extractor) Count() int {
	return e.count
}

// Dim returns the length of every vector produced by the extractor.
func (e *Extractor) Dim() int {
	return e.count*3 + NumDistances
}

// Extract computes the feature vector of one face.
func (e *Extractor) Extract(set landmarks.Set) (Vector, error) {
	if len(set) != e.count {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrLandmarkCount, len(set), e.count)
	}

	vec := make(Vector, e.Dim())

	raw := vec[:e.count*3]
	for i, p := range set {
		raw[3*i] = p.X
		raw[3*i+1] = p.Y
		raw[3*i+2] = p.Z
	}

	dist := vec[e.count*3:]
	for i, pair := range e.keypoints.Pairs() {
		dist[i] = floats.Distance(set[pair[0]].Coords(), set[pair[1]].Coords(), 2)
	}

	normalize(raw)
	normalize(dist)
	return vec, nil
}

// normalize scales v to unit L2 norm in place. A zero vector is left as is.
func normalize(v []float64) {
	n := floats.Norm(v, 2)
	if n == 0 {
		return
	}
	floats.Scale(1/n, v)
}

// RawBlock returns the coordinate block of a vector produced for meshes of
// count points.
func (v Vector) RawBlock(count int) []float64 {
	return v[:count*3]
}

// DistanceBlock returns the distance block of a vector produced for meshes
// of count points.
func (v Vector) DistanceBlock(count int) []float64 {
	return v[count*3:]
}
