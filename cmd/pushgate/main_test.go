package main

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestWorkspaceExcludes(t *testing.T) {
	src := t.TempDir()

	tests := []struct {
		name  string
		state string
		want  []string
	}{
		{"inside source", filepath.Join(src, ".pushgate"), []string{".git", ".git/**", ".pushgate", ".pushgate/**"}},
		{"nested", filepath.Join(src, "var", "state"), []string{".git", ".git/**", "var/state", "var/state/**"}},
		{"outside source", t.TempDir(), []string{".git", ".git/**"}},
		{"source itself", src, []string{".git", ".git/**"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sourceDir, stateDir = src, tt.state

			got := workspaceExcludes()
			if !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
