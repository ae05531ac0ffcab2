package api

import (
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// Validate checks the pipeline configuration for errors.
// A pipeline without steps is valid and always succeeds.
func (p *Pipeline) Validate() error {
	if _, err := parseDuration(p.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}

	if err := validateCacheConfig(p.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	names := make(map[string]int)
	for i, step := range p.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if prev, exists := names[step.Name]; exists {
			return fmt.Errorf("step %d: duplicate step name %q (first defined at step %d)", i, step.Name, prev)
		}
		names[step.Name] = i

		if err := validateStepConfig(step); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	return nil
}

func validateStepConfig(step StepConfig) error {
	if step.Run == "" {
		return fmt.Errorf("run is required")
	}
	if _, err := parseDuration(step.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

func validateCacheConfig(cfg CacheConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	if len(cfg.Manifests) == 0 {
		return fmt.Errorf("manifests are required when paths are set")
	}
	if _, err := template.New("key").Funcs(sprig.TxtFuncMap()).Parse(cfg.Key); err != nil {
		return fmt.Errorf("key template: %w", err)
	}
	return nil
}

// StepTimeout returns the effective timeout for step; zero means none.
func (p *Pipeline) StepTimeout(step StepConfig) time.Duration {
	if d, err := parseDuration(step.Timeout); err == nil && d > 0 {
		return d
	}
	d, _ := parseDuration(p.Timeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
