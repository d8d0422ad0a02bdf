package isotime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "rfc3339 with zone",
			input: "2025-03-01T08:30:00Z",
			want:  time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 with nanoseconds and offset",
			input: "2025-03-01T08:30:00.123456789+02:00",
			want:  time.Date(2025, 3, 1, 6, 30, 0, 123456789, time.UTC),
		},
		{
			name:  "naive microseconds",
			input: "2025-03-01T08:30:00.250000",
			want:  time.Date(2025, 3, 1, 8, 30, 0, 250000000, time.Local),
		},
		{
			name:  "naive seconds",
			input: "2025-03-01T08:30:00",
			want:  time.Date(2025, 3, 1, 8, 30, 0, 0, time.Local),
		},
		{
			name:    "garbage",
			input:   "yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTime_JSON(t *testing.T) {
	ts := New(time.Date(2025, 3, 1, 8, 30, 0, 5, time.UTC))

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2025-03-01T08:30:00.000000005Z"` {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded Time
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.Equal(ts.Time) {
		t.Errorf("decoded %v, want %v", decoded, ts)
	}
}

func TestTime_UnmarshalEmpty(t *testing.T) {
	var decoded Time
	if err := json.Unmarshal([]byte(`""`), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.IsZero() {
		t.Errorf("expected zero time, got %v", decoded)
	}
}
