// Package toolchain resolves the pinned toolchain a pipeline runs with.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/systemstart/pushgate/pkg/api"
)

// Stable accepts any release version without a prerelease tag.
const Stable = "stable"

// Toolchain is a provisioned toolchain.
type Toolchain struct {
	Name    string
	Version string
}

func (t Toolchain) String() string {
	if t.Name == "" {
		return t.Version
	}
	if t.Version == "" {
		return t.Name
	}
	return t.Name + t.Version
}

// ProvisioningError reports that the required toolchain is unavailable.
// It is fatal to the run.
type ProvisioningError struct {
	Toolchain string
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning toolchain %q: %v", e.Toolchain, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Provisioner makes the configured toolchain available to a run.
type Provisioner interface {
	Provision(ctx context.Context, cfg api.ToolchainConfig, env []string) (*Toolchain, error)
}

// ProvisionerFunc adapts a function to Provisioner.
type ProvisionerFunc func(ctx context.Context, cfg api.ToolchainConfig, env []string) (*Toolchain, error)

func (f ProvisionerFunc) Provision(ctx context.Context, cfg api.ToolchainConfig, env []string) (*Toolchain, error) {
	return f(ctx, cfg, env)
}

// Matches "1.22.3", "v1.22", "1.23rc1" and "1.2.3-beta.1".
var versionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)(?:-?((?:alpha|beta|rc)\.?\d*)|-([0-9A-Za-z.]+))?`)

// CommandProvisioner verifies the toolchain already installed on the host by
// running cfg.Command and matching the reported version against cfg.Version.
// Without a command only the constraint syntax is checked.
type CommandProvisioner struct{}

// NewCommandProvisioner creates a CommandProvisioner.
func NewCommandProvisioner() *CommandProvisioner {
	return &CommandProvisioner{}
}

func (p *CommandProvisioner) Provision(ctx context.Context, cfg api.ToolchainConfig, env []string) (*Toolchain, error) {
	want := cfg.Version
	if want == "" {
		want = Stable
	}
	label := strings.TrimSpace(cfg.Name + " " + want)

	var constraint *semver.Constraints
	if want != Stable {
		c, err := semver.NewConstraint(want)
		if err != nil {
			return nil, &ProvisioningError{Toolchain: label, Err: fmt.Errorf("invalid version constraint: %w", err)}
		}
		constraint = c
	}

	if cfg.Command == "" {
		slog.Debug("no toolchain probe configured", "toolchain", label)
		return &Toolchain{Name: cfg.Name, Version: want}, nil
	}

	out, err := probe(ctx, cfg.Command, env)
	if err != nil {
		return nil, &ProvisioningError{Toolchain: label, Err: err}
	}

	version, err := parseVersion(out)
	if err != nil {
		return nil, &ProvisioningError{Toolchain: label, Err: err}
	}

	if constraint == nil {
		if version.Prerelease() != "" {
			return nil, &ProvisioningError{Toolchain: label, Err: fmt.Errorf("version %s is a prerelease", version)}
		}
	} else if ok, errs := constraint.Validate(version); !ok {
		return nil, &ProvisioningError{Toolchain: label, Err: errors.Join(errs...)}
	}

	slog.Info("toolchain provisioned", "toolchain", cfg.Name, "version", version.String())
	return &Toolchain{Name: cfg.Name, Version: version.String()}, nil
}

func probe(ctx context.Context, command string, env []string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("probe %q failed: %w\noutput: %s", command, err, out.String())
	}
	return out.String(), nil
}

func parseVersion(output string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("no version found in %q", strings.TrimSpace(output))
	}
	raw := m[1]
	if pre := m[2] + m[3]; pre != "" {
		raw += "-" + pre
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing version %q: %w", raw, err)
	}
	return v, nil
}
