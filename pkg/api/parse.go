package api

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoadPipeline reads a .pushgate.yaml file, sets Dir/FilePath, applies defaults and validates it.
func LoadPipeline(filename string) (*Pipeline, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	p, err := ParsePipeline(data)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	p.FilePath = absPath
	p.Dir = filepath.Dir(absPath)

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating pipeline %s: %w", filename, err)
	}

	return p, nil
}

// ParsePipeline unmarshals pipeline YAML and fills in defaults. It does not validate.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline file: %w", err)
	}

	if err := applyDefaults(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func applyDefaults(p *Pipeline) error {
	defaults := Pipeline{
		Toolchain: ToolchainConfig{Version: DefaultToolchainVersion},
		Cache: CacheConfig{
			Key:       DefaultCacheKey,
			Manifests: append([]string(nil), DefaultManifests...),
		},
	}
	if err := mergo.Merge(p, defaults); err != nil {
		return fmt.Errorf("applying pipeline defaults: %w", err)
	}
	return nil
}
