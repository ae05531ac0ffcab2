package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		logType   string
		level     string
		wantError bool
	}{
		{"json/info", JSON, "info", false},
		{"text/debug", Text, "debug", false},
		{"tint/warn", Tint, "warn", false},
		{"json/error", JSON, "error", false},
		{"invalid level", JSON, "bogus", true},
		{"unknown type", "unknown", "info", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Initialize(tt.logType, tt.level)
			if (err != nil) != tt.wantError {
				t.Errorf("Initialize(%q, %q) error = %v, wantError = %v", tt.logType, tt.level, err, tt.wantError)
			}
		})
	}
}

func TestNew_WritesStructuredAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, JSON, "info")
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("run finished", "run", "r-1", "status", "failed")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `"run":"r-1"`) || !strings.Contains(out, `"status":"failed"`) {
		t.Errorf("missing attributes in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
}
