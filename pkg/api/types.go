package api

const (
	DefaultPipelineFile = ".pushgate.yaml"

	DefaultCacheKey         = "{{ .OS }}-deps-{{ .Fingerprint }}"
	DefaultToolchainVersion = "stable"

	// Variables injected into every run environment.
	EnvWorkspace = "PUSHGATE_WORKSPACE"
	EnvRunID     = "PUSHGATE_RUN_ID"
)

// DefaultManifests are hashed into the cache fingerprint when cache.manifests is empty.
var DefaultManifests = []string{"go.mod", "go.sum"}

// Pipeline is the .pushgate.yaml configuration format.
type Pipeline struct {
	Name      string          `yaml:"name"`
	Env       map[string]any  `yaml:"env"`
	EnvFile   string          `yaml:"envFile"`
	Timeout   string          `yaml:"timeout"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Cache     CacheConfig     `yaml:"cache"`
	Steps     []StepConfig    `yaml:"steps"`

	// Set by the loader, not from YAML.
	Dir      string `yaml:"-"`
	FilePath string `yaml:"-"`
}

// StepConfig defines a single step within a pipeline.
type StepConfig struct {
	Name            string         `yaml:"name"`
	Run             string         `yaml:"run"`
	Env             map[string]any `yaml:"env"`
	ContinueOnError bool           `yaml:"continueOnError"`
	Timeout         string         `yaml:"timeout"`
}

// ToolchainConfig pins the toolchain every step runs with.
type ToolchainConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"` // "stable" or a semver constraint
	Command string `yaml:"command"` // probe printing the installed version
}

// CacheConfig configures dependency caching between runs.
type CacheConfig struct {
	Key       string   `yaml:"key"`
	Manifests []string `yaml:"manifests"`
	Paths     []string `yaml:"paths"`
	Disabled  bool     `yaml:"disabled"`
}

// Enabled reports whether the pipeline has anything to cache.
func (c CacheConfig) Enabled() bool {
	return !c.Disabled && len(c.Paths) > 0
}
