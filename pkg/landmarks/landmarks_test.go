package landmarks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"
)

func TestKeypoints_Validate(t *testing.T) {
	tests := []struct {
		name    string
		kp      Keypoints
		count   int
		wantErr bool
	}{
		{name: "defaults fit refined mesh", kp: DefaultKeypoints(), count: DefaultCount},
		{name: "defaults fit base mesh", kp: DefaultKeypoints(), count: 468},
		{name: "mesh too small", kp: DefaultKeypoints(), count: 200, wantErr: true},
		{name: "negative index", kp: Keypoints{LeftEye: -1}, count: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kp.Validate(tt.count)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKeypoints) {
				t.Errorf("expected ErrInvalidKeypoints, got %v", err)
			}
		})
	}
}

func TestKeypoints_Pairs(t *testing.T) {
	pairs := DefaultKeypoints().Pairs()
	want := [7][2]int{
		{33, 263}, {33, 1}, {263, 1}, {1, 152}, {61, 291}, {33, 152}, {263, 152},
	}
	if pairs != want {
		t.Errorf("Pairs() = %v, want %v", pairs, want)
	}
}

func TestPoint_JSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Point
		wantErr bool
	}{
		{name: "triple", input: `[0.1, 0.2, -0.3]`, want: Point{0.1, 0.2, -0.3}},
		{name: "object", input: `{"x":0.5,"y":0.25,"z":0.01}`, want: Point{0.5, 0.25, 0.01}},
		{name: "short triple", input: `[0.1, 0.2]`, wantErr: true},
		{name: "string", input: `"nope"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			err := json.Unmarshal([]byte(tt.input), &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && p != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.input, p, tt.want)
			}
		})
	}

	out, err := json.Marshal(Point{1, 2, 3})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != "[1,2,3]" {
		t.Errorf("Marshal = %s, want [1,2,3]", out)
	}
}

func TestParseFaces(t *testing.T) {
	faces, err := ParseFaces([]byte(`{"faces":[[[0,0,0],[1,1,1]],[[0.5,0.5,0]]]}`))
	if err != nil {
		t.Fatalf("ParseFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if len(faces[0]) != 2 || faces[0][1] != (Point{1, 1, 1}) {
		t.Errorf("unexpected first face %+v", faces[0])
	}

	if _, err := ParseFaces([]byte(`{"faces": 3}`)); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestSet_BoundingBox(t *testing.T) {
	set := Set{{0.25, 0.5, 0}, {0.75, 0.1, 0}, {0.5, 0.9, 0}}
	box := set.BoundingBox(200, 100)

	want := Box{MinX: 50, MinY: 10, MaxX: 150, MaxY: 90}
	if box != want {
		t.Errorf("BoundingBox = %+v, want %+v", box, want)
	}
	if box.Width() != 100 || box.Height() != 80 {
		t.Errorf("unexpected size %dx%d", box.Width(), box.Height())
	}

	if (Set{}).BoundingBox(200, 100) != (Box{}) {
		t.Error("empty set should give the zero box")
	}
}

func TestImageSize(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}

	w, h, err := ImageSize(buf.Bytes())
	if err != nil {
		t.Fatalf("ImageSize failed: %v", err)
	}
	if w != 64 || h != 48 {
		t.Errorf("ImageSize = %dx%d, want 64x48", w, h)
	}

	if _, _, err := ImageSize([]byte("not an image")); err == nil {
		t.Error("expected error for non-image data")
	}
}

func TestNewCommandDetector_NotConfigured(t *testing.T) {
	if _, err := NewCommandDetector(nil, DefaultCount, time.Second); !errors.Is(err, ErrDetectorNotConfigured) {
		t.Errorf("expected ErrDetectorNotConfigured, got %v", err)
	}
}

func TestCommandDetector_Detect(t *testing.T) {
	script := `cat >/dev/null; echo '{"faces":[[[0.1,0.2,0.3],[0.4,0.5,0.6]]]}'`
	det, err := NewCommandDetector([]string{"sh", "-c", script}, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandDetector failed: %v", err)
	}

	faces, err := det.Detect(context.Background(), []byte("image bytes"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 1 || len(faces[0]) != 2 {
		t.Fatalf("unexpected faces %+v", faces)
	}
	if faces[0][1] != (Point{0.4, 0.5, 0.6}) {
		t.Errorf("unexpected point %+v", faces[0][1])
	}
}

func TestCommandDetector_NoFaces(t *testing.T) {
	det, err := NewCommandDetector([]string{"sh", "-c", `cat >/dev/null; echo '{"faces":[]}'`}, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandDetector failed: %v", err)
	}

	faces, err := det.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
}

func TestCommandDetector_WrongCount(t *testing.T) {
	det, err := NewCommandDetector([]string{"sh", "-c", `cat >/dev/null; echo '{"faces":[[[0,0,0]]]}'`}, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandDetector failed: %v", err)
	}

	if _, err := det.Detect(context.Background(), nil); err == nil {
		t.Error("expected error for wrong landmark count")
	}
}

func TestCommandDetector_Failure(t *testing.T) {
	det, err := NewCommandDetector([]string{"sh", "-c", `cat >/dev/null; echo 'model missing' >&2; exit 3`}, 2, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandDetector failed: %v", err)
	}

	_, err = det.Detect(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from failing helper")
	}
	if !strings.Contains(err.Error(), "model missing") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
