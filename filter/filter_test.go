package filter

import (
	"testing"

	"github.com/voltscope/voltscope/pkg/model"
)

func TestCompileAndMatch(t *testing.T) {
	match, err := Compile("va > 2.5 && vb < 1.0")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		sample model.Sample
		want   bool
	}{
		{model.Sample{Vertical: 3.0, Horizontal: 0.5}, true},
		{model.Sample{Vertical: 2.0, Horizontal: 0.5}, false},
		{model.Sample{Vertical: 3.0, Horizontal: 1.5}, false},
	}
	for i, tt := range tests {
		if got := match(tt.sample); got != tt.want {
			t.Errorf("case %d: match = %v, want %v", i, got, tt.want)
		}
	}
}

func TestElapsedField(t *testing.T) {
	match, err := Compile("elapsed >= 1.0")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if match(model.Sample{Elapsed: 0.5}) {
		t.Error("elapsed 0.5 should not match")
	}
	if !match(model.Sample{Elapsed: 1.5}) {
		t.Error("elapsed 1.5 should match")
	}
}

func TestCompileRejectsNonBool(t *testing.T) {
	if _, err := Compile("va + vb"); err == nil {
		t.Error("non-boolean expression should fail to compile")
	}
}

func TestCompileRejectsUnknownField(t *testing.T) {
	if _, err := Compile("watts > 1"); err == nil {
		t.Error("unknown field should fail to compile")
	}
}
