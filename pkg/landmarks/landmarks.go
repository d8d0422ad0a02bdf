// Package landmarks defines the face-mesh landmark data consumed by faceattend
// and the detector interface that produces it.
//
// Landmark detection itself is delegated to an external face-mesh model.
// This package only describes its output: one ordered list of normalized
// (x, y, z) points per detected face.
package landmarks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultCount is the number of points produced by a refined face mesh.
const DefaultCount = 478

// ErrNoFace is returned when an image contains no detectable face.
var ErrNoFace = errors.New("no face detected")

// ErrInvalidKeypoints is returned when a keypoint index falls outside the mesh.
var ErrInvalidKeypoints = errors.New("invalid keypoint index")

// Point is a landmark in normalized image coordinates.
type Point struct {
	X, Y, Z float64
}

// MarshalJSON writes the point as [x, y, z].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.X, p.Y, p.Z})
}

// UnmarshalJSON accepts either [x, y, z] or {"x":…, "y":…, "z":…}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var triple []float64
	if err := json.Unmarshal(data, &triple); err == nil {
		if len(triple) != 3 {
			return fmt.Errorf("landmark point must have 3 coordinates, got %d", len(triple))
		}
		p.X, p.Y, p.Z = triple[0], triple[1], triple[2]
		return nil
	}

	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid landmark point: %w", err)
	}
	p.X, p.Y, p.Z = obj.X, obj.Y, obj.Z
	return nil
}

// Coords returns the point as a coordinate slice.
func (p Point) Coords() []float64 {
	return []float64{p.X, p.Y, p.Z}
}

// Set is the ordered landmark list of one face.
type Set []Point

// Keypoints holds the mesh indices of the six semantic points used for the
// distance features.
type Keypoints struct {
	LeftEye    int `yaml:"left_eye" json:"left_eye"`
	RightEye   int `yaml:"right_eye" json:"right_eye"`
	Nose       int `yaml:"nose" json:"nose"`
	Chin       int `yaml:"chin" json:"chin"`
	LeftMouth  int `yaml:"left_mouth" json:"left_mouth"`
	RightMouth int `yaml:"right_mouth" json:"right_mouth"`
}

// DefaultKeypoints returns the face-mesh indices of the semantic points.
func DefaultKeypoints() Keypoints {
	return Keypoints{
		LeftEye:    33,
		RightEye:   263,
		Nose:       1,
		Chin:       152,
		LeftMouth:  61,
		RightMouth: 291,
	}
}

// Pairs returns the seven index pairs whose distances form the distance
// features, in their fixed order.
func (k Keypoints) Pairs() [7][2]int {
	return [7][2]int{
		{k.LeftEye, k.RightEye},
		{k.LeftEye, k.Nose},
		{k.RightEye, k.Nose},
		{k.Nose, k.Chin},
		{k.LeftMouth, k.RightMouth},
		{k.LeftEye, k.Chin},
		{k.RightEye, k.Chin},
	}
}

// Validate checks that every keypoint addresses a point of a mesh with count
// points.
func (k Keypoints) Validate(count int) error {
	named := []struct {
		name string
		idx  int
	}{
		{"left_eye", k.LeftEye},
		{"right_eye", k.RightEye},
		{"nose", k.Nose},
		{"chin", k.Chin},
		{"left_mouth", k.LeftMouth},
		{"right_mouth", k.RightMouth},
	}
	for _, kp := range named {
		if kp.idx < 0 || kp.idx >= count {
			return fmt.Errorf("%w: %s=%d outside mesh of %d points", ErrInvalidKeypoints, kp.name, kp.idx, count)
		}
	}
	return nil
}

// Box is a bounding box in pixel coordinates.
type Box struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Width returns the box width.
func (b Box) Width() int { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() int { return b.MaxY - b.MinY }

// BoundingBox returns the pixel extents of the set in an image of the given
// size. An empty set yields the zero box.
func (s Set) BoundingBox(width, height int) Box {
	if len(s) == 0 {
		return Box{}
	}

	box := Box{MinX: width, MinY: height, MaxX: 0, MaxY: 0}
	for _, p := range s {
		x, y := int(p.X*float64(width)), int(p.Y*float64(height))
		box.MinX = min(box.MinX, x)
		box.MaxX = max(box.MaxX, x)
		box.MinY = min(box.MinY, y)
		box.MaxY = max(box.MaxY, y)
	}
	return box
}
