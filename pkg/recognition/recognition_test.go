package recognition

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"gonum.org/v1/gonum/floats"
)

const tolerance = 1e-9

// testMesh returns a pseudo-random face mesh of count points.
func testMesh(count int, seed int64) landmarks.Set {
	rng := rand.New(rand.NewSource(seed))
	set := make(landmarks.Set, count)
	for i := range set {
		set[i] = landmarks.Point{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()*0.1 - 0.05}
	}
	return set
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	ext, err := NewExtractor(landmarks.DefaultCount, landmarks.DefaultKeypoints())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	return ext
}

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		kp      landmarks.Keypoints
		wantErr bool
	}{
		{name: "refined mesh", count: 478, kp: landmarks.DefaultKeypoints()},
		{name: "zero count", count: 0, kp: landmarks.DefaultKeypoints(), wantErr: true},
		{name: "keypoint outside mesh", count: 100, kp: landmarks.DefaultKeypoints(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(tt.count, tt.kp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExtractor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && ext.Dim() != tt.count*3+NumDistances {
				t.Errorf("Dim() = %d, want %d", ext.Dim(), tt.count*3+NumDistances)
			}
		})
	}
}

func TestExtract_FixedLength(t *testing.T) {
	ext := newTestExtractor(t)

	for seed := int64(1); seed <= 5; seed++ {
		vec, err := ext.Extract(testMesh(landmarks.DefaultCount, seed))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(vec) != 478*3+7 {
			t.Errorf("seed %d: vector length %d, want %d", seed, len(vec), 478*3+7)
		}
	}
}

func TestExtract_BlocksAreUnitNorm(t *testing.T) {
	ext := newTestExtractor(t)

	vec, err := ext.Extract(testMesh(landmarks.DefaultCount, 42))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if n := floats.Norm(vec.RawBlock(ext.Count()), 2); math.Abs(n-1) > tolerance {
		t.Errorf("raw block norm = %f, want 1", n)
	}
	if n := floats.Norm(vec.DistanceBlock(ext.Count()), 2); math.Abs(n-1) > tolerance {
		t.Errorf("distance block norm = %f, want 1", n)
	}
}

func TestExtract_ZeroBlocksLeftUnnormalized(t *testing.T) {
	ext := newTestExtractor(t)

	vec, err := ext.Extract(make(landmarks.Set, landmarks.DefaultCount))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i, v := range vec {
		if v != 0 || math.IsNaN(v) {
			t.Fatalf("value %d = %f, expected 0", i, v)
		}
	}
}

func TestExtract_DistanceOrder(t *testing.T) {
	kp := landmarks.Keypoints{LeftEye: 0, RightEye: 1, Nose: 2, Chin: 3, LeftMouth: 4, RightMouth: 5}
	ext, err := NewExtractor(6, kp)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	set := landmarks.Set{
		{X: 0, Y: 0, Z: 0}, // left eye
		{X: 2, Y: 0, Z: 0}, // right eye
		{X: 1, Y: 1, Z: 0}, // nose
		{X: 1, Y: 3, Z: 0}, // chin
		{X: 0, Y: 2, Z: 0}, // left mouth
		{X: 3, Y: 2, Z: 0}, // right mouth
	}
	vec, err := ext.Extract(set)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := []float64{
		2,             // leftEye-rightEye
		math.Sqrt2,    // leftEye-nose
		math.Sqrt2,    // rightEye-nose
		2,             // nose-chin
		3,             // leftMouth-rightMouth
		math.Sqrt(10), // leftEye-chin
		math.Sqrt(10), // rightEye-chin
	}
	norm := floats.Norm(want, 2)
	dist := vec.DistanceBlock(6)
	for i := range want {
		if math.Abs(dist[i]-want[i]/norm) > tolerance {
			t.Errorf("distance %d = %f, want %f", i, dist[i], want[i]/norm)
		}
	}
}

func TestExtract_WrongCount(t *testing.T) {
	ext := newTestExtractor(t)

	_, err := ext.Extract(testMesh(468, 1))
	if !errors.Is(err, ErrLandmarkCount) {
		t.Errorf("expected ErrLandmarkCount, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{name: "identical", a: Vector{1, 2, 3}, b: Vector{1, 2, 3}, want: 1},
		{name: "scaled", a: Vector{1, 2, 3}, b: Vector{2, 4, 6}, want: 1},
		{name: "orthogonal", a: Vector{1, 0}, b: Vector{0, 1}, want: 0},
		{name: "opposite", a: Vector{1, 1}, b: Vector{-1, -1}, want: -1},
		{name: "zero vector", a: Vector{0, 0}, b: Vector{1, 1}, want: 0},
		{name: "length mismatch", a: Vector{1, 2}, b: Vector{1, 2, 3}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > tolerance {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	ext := newTestExtractor(t)
	vec, err := ext.Extract(testMesh(landmarks.DefaultCount, 7))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if sim := CosineSimilarity(vec, vec); math.Abs(sim-1) > tolerance {
		t.Errorf("self similarity = %f, want 1", sim)
	}
}

func TestFindBestMatch(t *testing.T) {
	ext := newTestExtractor(t)
	v1, _ := ext.Extract(testMesh(landmarks.DefaultCount, 1))
	v2, _ := ext.Extract(testMesh(landmarks.DefaultCount, 2))

	match, ok := FindBestMatch(v1, map[string]Vector{"alice": v1, "bob": v2})
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Name != "alice" {
		t.Errorf("expected alice, got %s", match.Name)
	}
	if math.Abs(match.Score-1) > tolerance {
		t.Errorf("expected score 1, got %f", match.Score)
	}
}

func TestFindBestMatch_Empty(t *testing.T) {
	for _, refs := range []map[string]Vector{nil, {}} {
		if _, ok := FindBestMatch(Vector{1, 2, 3}, refs); ok {
			t.Error("expected no match for empty references")
		}
	}
}

func TestFindBestMatch_TiesGoToFirstName(t *testing.T) {
	v := Vector{1, 0, 0}
	refs := map[string]Vector{"zoe": v, "adam": v, "mia": v}

	for i := 0; i < 20; i++ {
		match, _ := FindBestMatch(v, refs)
		if match.Name != "adam" {
			t.Fatalf("expected adam on tie, got %s", match.Name)
		}
	}
}

func TestMatcher_Identify(t *testing.T) {
	refs := map[string]Vector{
		"alice": {1, 0},
		"bob":   {0, 1},
	}

	tests := []struct {
		name      string
		threshold float64
		probe     Vector
		refs      map[string]Vector
		want      Result
	}{
		{
			name:      "accepted",
			threshold: 0.5,
			probe:     Vector{1, 0},
			refs:      refs,
			want:      Result{Name: "alice", Score: 1, Accepted: true},
		},
		{
			name:      "at threshold",
			threshold: 1,
			probe:     Vector{0, 3},
			refs:      refs,
			want:      Result{Name: "bob", Score: 1, Accepted: true},
		},
		{
			name:      "below threshold keeps score",
			threshold: 0.9,
			probe:     Vector{1, 1},
			refs:      refs,
			want:      Result{Name: Unknown, Score: 1 / math.Sqrt2},
		},
		{
			name:      "no references",
			threshold: 0.1,
			probe:     Vector{1, 1},
			refs:      nil,
			want:      Result{Name: Unknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMatcher(tt.threshold).Identify(tt.probe, tt.refs)
			if got.Name != tt.want.Name || got.Accepted != tt.want.Accepted || math.Abs(got.Score-tt.want.Score) > tolerance {
				t.Errorf("Identify = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAverageVectors(t *testing.T) {
	avg, err := AverageVectors([]Vector{{1, 2, 3}, {3, 4, 5}})
	if err != nil {
		t.Fatalf("AverageVectors failed: %v", err)
	}
	want := Vector{2, 3, 4}
	for i := range want {
		if avg[i] != want[i] {
			t.Errorf("avg[%d] = %f, want %f", i, avg[i], want[i])
		}
	}

	if _, err := AverageVectors(nil); !errors.Is(err, ErrNoVectors) {
		t.Errorf("expected ErrNoVectors, got %v", err)
	}
	if _, err := AverageVectors([]Vector{{1, 2}, {1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func BenchmarkFindBestMatch(b *testing.B) {
	ext, _ := NewExtractor(landmarks.DefaultCount, landmarks.DefaultKeypoints())
	refs := make(map[string]Vector)
	for i := 0; i < 50; i++ {
		v, _ := ext.Extract(testMesh(landmarks.DefaultCount, int64(i)))
		refs[string(rune('a'+i%26))+string(rune('a'+i/26))] = v
	}
	probe, _ := ext.Extract(testMesh(landmarks.DefaultCount, 99))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FindBestMatch(probe, refs)
	}
}
