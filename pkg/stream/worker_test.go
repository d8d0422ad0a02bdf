package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrCodeEU/faceattend/pkg/landmarks"
	"github.com/MrCodeEU/faceattend/pkg/session"
)

type recordingProcessor struct {
	frames [][]landmarks.Set
	sizes  [][2]int
	err    error
}

func (p *recordingProcessor) ProcessFrame(sets []landmarks.Set, width, height int) ([]session.Face, error) {
	p.frames = append(p.frames, sets)
	p.sizes = append(p.sizes, [2]int{width, height})
	if p.err != nil {
		return nil, p.err
	}
	faces := make([]session.Face, len(sets))
	for i := range sets {
		faces[i] = session.Face{Name: "alice", Score: 0.9, Accepted: true}
	}
	return faces, nil
}

func TestHandleFrame(t *testing.T) {
	proc := &recordingProcessor{}
	w := NewWorker(Options{}, proc)

	payload := `{"frame_id": "cam1-0042", "width": 640, "height": 480, "faces": [[[0.1, 0.2, 0.0], {"x": 0.3, "y": 0.4, "z": 0.01}]]}`
	out, err := w.HandleFrame([]byte(payload))
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	if len(proc.frames) != 1 || len(proc.frames[0]) != 1 || len(proc.frames[0][0]) != 2 {
		t.Fatalf("unexpected frames passed to processor: %+v", proc.frames)
	}
	if proc.frames[0][0][1].Y != 0.4 {
		t.Errorf("object point not decoded: %+v", proc.frames[0][0][1])
	}
	if proc.sizes[0] != [2]int{640, 480} {
		t.Errorf("unexpected frame size %v", proc.sizes[0])
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if res.FrameID != "cam1-0042" || len(res.Faces) != 1 || res.Faces[0].Name != "alice" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Error != "" {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestHandleFrame_EmptyFrame(t *testing.T) {
	w := NewWorker(Options{}, &recordingProcessor{})

	out, err := w.HandleFrame([]byte(`{"frame_id": "f1", "width": 10, "height": 10, "faces": []}`))
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if string(raw["faces"]) != "[]" {
		t.Errorf("expected empty faces array, got %s", raw["faces"])
	}
	if _, ok := raw["error"]; ok {
		t.Error("error should be omitted on success")
	}
}

func TestHandleFrame_ProcessingError(t *testing.T) {
	w := NewWorker(Options{}, &recordingProcessor{err: errors.New("unexpected landmark count")})

	out, err := w.HandleFrame([]byte(`{"frame_id": "f2", "faces": [[[0, 0, 0]]]}`))
	if err != nil {
		t.Fatalf("processing errors should be reported in the result: %v", err)
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if res.FrameID != "f2" || res.Error == "" || len(res.Faces) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandleFrame_MalformedPayload(t *testing.T) {
	proc := &recordingProcessor{}
	w := NewWorker(Options{}, proc)

	if _, err := w.HandleFrame([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	if len(proc.frames) != 0 {
		t.Error("processor should not be called for malformed payloads")
	}
}
