package types

import (
	"encoding/json"
	"testing"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if id1.IsZero() {
		t.Error("NewID() returned zero ID")
	}
	if id1 == id2 {
		t.Error("NewID() returned duplicate IDs")
	}
	if err := id1.Validate(); err != nil {
		t.Errorf("NewID() produced invalid ID: %v", err)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid uuid", "550e8400-e29b-41d4-a716-446655440000", false},
		{"valid uppercase uuid", "550E8400-E29B-41D4-A716-446655440000", false},
		{"empty string", "", true},
		{"not a uuid", "not-a-uuid", true},
		{"truncated uuid", "550e8400-e29b-41d4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id.IsZero() {
				t.Errorf("ParseID(%q) returned zero ID without error", tt.input)
			}
		})
	}
}

func TestID_Validate(t *testing.T) {
	tests := []struct {
		name    string
		id      ID
		wantErr bool
	}{
		{"valid", ID("550e8400-e29b-41d4-a716-446655440000"), false},
		{"empty", ID(""), true},
		{"garbage", ID("zzz"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.id.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	original := NewID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded != original {
		t.Errorf("round trip changed ID: got %v, want %v", decoded, original)
	}
}
