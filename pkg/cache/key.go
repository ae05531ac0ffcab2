package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/crypto/blake2b"
)

// KeyData is the data available to a cache key template.
type KeyData struct {
	OS          string
	Arch        string
	Pipeline    string
	Toolchain   string
	Fingerprint string
}

// NewKeyData fills in the host platform.
func NewKeyData(pipeline, toolchain, fingerprint string) KeyData {
	return KeyData{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		Pipeline:    pipeline,
		Toolchain:   toolchain,
		Fingerprint: fingerprint,
	}
}

// RenderKey executes the key template and sanitizes the result so it can be
// used as a file name. When sanitizing changes the key, a short hash of the
// rendered text is appended so distinct keys stay distinct.
func RenderKey(tmpl string, data KeyData) (string, error) {
	t, err := template.New("key").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing key template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing key template: %w", err)
	}

	raw := strings.TrimSpace(buf.String())
	key := sanitizeKey(raw)
	if key == "" {
		return "", fmt.Errorf("key template %q rendered an empty key", tmpl)
	}
	if key != raw {
		sum := blake2b.Sum256([]byte(raw))
		key += "-" + hex.EncodeToString(sum[:4])
	}
	return key, nil
}

func sanitizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), ".")
}
