package api

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Environment resolves the pipeline-wide variables: the optional envFile first,
// then env on top. ${VAR} references are expanded against base.
func (p *Pipeline) Environment(base map[string]string) (map[string]string, error) {
	env := make(map[string]string)

	if p.EnvFile != "" {
		path := p.EnvFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Dir, path)
		}
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
		maps.Copy(env, fileEnv)
	}

	declared, err := resolveValues(p.Env, base)
	if err != nil {
		return nil, err
	}
	maps.Copy(env, declared)
	return env, nil
}

// Environment resolves the step-level overrides.
func (s StepConfig) Environment(base map[string]string) (map[string]string, error) {
	env, err := resolveValues(s.Env, base)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", s.Name, err)
	}
	return env, nil
}

func resolveValues(values map[string]any, base map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		out[k] = os.Expand(s, func(name string) string { return base[name] })
	}
	return out, nil
}
