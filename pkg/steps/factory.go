package steps

import (
	"fmt"
	"time"

	"github.com/systemstart/pushgate/pkg/api"
)

// NewStep creates a Step implementation from a StepConfig.
// A zero timeout lets the command run until it exits.
func NewStep(cfg api.StepConfig, timeout time.Duration) (Step, error) {
	if cfg.Run == "" {
		return nil, fmt.Errorf("step %q has no command", cfg.Name)
	}
	return NewCommandStep(cfg.Name, cfg.Run, timeout), nil
}

// NewSteps builds the ordered step list of a pipeline.
func NewSteps(p *api.Pipeline) ([]Step, error) {
	out := make([]Step, 0, len(p.Steps))
	for _, cfg := range p.Steps {
		step, err := NewStep(cfg, p.StepTimeout(cfg))
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}
