package processing

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/systemstart/pushgate/pkg/api"
)

// ResolvePipeline loads the pipeline definition for a source tree. An empty
// file selects .pushgate.yaml in source; a relative file is resolved against source.
func ResolvePipeline(source, file string) (*api.Pipeline, error) {
	if file == "" {
		file = api.DefaultPipelineFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(source, file)
	}

	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("locating pipeline: %w", err)
	}

	p, err := api.LoadPipeline(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", file, err)
	}
	return p, nil
}
