package processing

import (
	"slices"
	"testing"
)

func TestEnvMap(t *testing.T) {
	env := EnvMap([]string{"A=1", "B=x=y", "broken", "=nokey", "A=2"})

	if env["A"] != "2" {
		t.Errorf("expected A=2, got %q", env["A"])
	}
	if env["B"] != "x=y" {
		t.Errorf("expected B=x=y, got %q", env["B"])
	}
	if len(env) != 2 {
		t.Errorf("expected 2 entries, got %d: %v", len(env), env)
	}
}

func TestMergeEnv(t *testing.T) {
	base := map[string]string{"PATH": "/bin", "COLOR": "0"}
	pipeline := map[string]string{"COLOR": "1"}
	step := map[string]string{"STEP": "lint"}

	merged := MergeEnv(base, pipeline, step)

	if merged["COLOR"] != "1" {
		t.Errorf("expected COLOR=1, got %q", merged["COLOR"])
	}
	if merged["PATH"] != "/bin" || merged["STEP"] != "lint" {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if base["COLOR"] != "0" {
		t.Error("merge must not modify its inputs")
	}
}

func TestEnviron_Sorted(t *testing.T) {
	got := Environ(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
