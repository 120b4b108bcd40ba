package link

import (
	"math"
	"testing"

	"github.com/voltscope/voltscope/pkg/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		wantV int
		wantH int
		ok    bool
	}{
		{"valid", "512,1023", 512, 1023, true},
		{"valid with spaces", "  10 , 20 \r", 10, 20, true},
		{"zero values", "0,0", 0, 0, true},
		{"vertical out of range", "2000,500", 0, 0, false},
		{"horizontal out of range", "500,1024", 0, 0, false},
		{"negative", "-1,500", 0, 0, false},
		{"one field", "500", 0, 0, false},
		{"three fields", "1,2,3", 0, 0, false},
		{"non-numeric", "abc,500", 0, 0, false},
		{"empty", "", 0, 0, false},
		{"float rejected", "1.5,2", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, h, ok := parseLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && (v != tt.wantV || h != tt.wantH) {
				t.Errorf("parseLine(%q) = (%d, %d), want (%d, %d)",
					tt.line, v, h, tt.wantV, tt.wantH)
			}
		})
	}
}

func TestVoltageFromRaw(t *testing.T) {
	if got := model.VoltageFromRaw(0); got != 0 {
		t.Errorf("VoltageFromRaw(0) = %v, want 0", got)
	}
	if got := model.VoltageFromRaw(1023); math.Abs(got-5.0) > 1e-12 {
		t.Errorf("VoltageFromRaw(1023) = %v, want 5.0", got)
	}
	want := 512 * 5.0 / 1023.0
	if got := model.VoltageFromRaw(512); math.Abs(got-want) > 1e-12 {
		t.Errorf("VoltageFromRaw(512) = %v, want %v", got, want)
	}
}
