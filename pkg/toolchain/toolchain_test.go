package toolchain

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/pushgate/pkg/api"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not in PATH")
	}
}

func TestParseVersion(t *testing.T) {
	tcs := map[string]struct {
		output string
		want   string
	}{
		"go":         {output: "go version go1.22.3 linux/amd64", want: "1.22.3"},
		"go rc":      {output: "go version go1.23rc1 linux/amd64", want: "1.23.0-rc1"},
		"rustc":      {output: "rustc 1.75.0 (82e1608df 2023-12-21)", want: "1.75.0"},
		"node":       {output: "v20.11.0\n", want: "20.11.0"},
		"prerelease": {output: "tool 2.0.0-beta.1", want: "2.0.0-beta.1"},
		"two parts":  {output: "python 3.12", want: "3.12.0"},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			v, err := parseVersion(tc.output)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v.String())
		})
	}

	_, err := parseVersion("no digits here")
	assert.ErrorContains(t, err, "no version found")
}

func TestCommandProvisioner(t *testing.T) {
	skipWithoutShell(t)

	tcs := map[string]struct {
		cfg         api.ToolchainConfig
		wantVersion string
		wantErr     string
	}{
		"stable release": {
			cfg:         api.ToolchainConfig{Name: "go", Version: "stable", Command: "echo go version go1.22.3 linux/amd64"},
			wantVersion: "1.22.3",
		},
		"default is stable": {
			cfg:         api.ToolchainConfig{Name: "go", Command: "echo go1.21.0"},
			wantVersion: "1.21.0",
		},
		"constraint satisfied": {
			cfg:         api.ToolchainConfig{Name: "go", Version: ">= 1.21", Command: "echo go1.22.3"},
			wantVersion: "1.22.3",
		},
		"constraint violated": {
			cfg:     api.ToolchainConfig{Name: "go", Version: ">= 1.23", Command: "echo go1.22.3"},
			wantErr: "provisioning toolchain",
		},
		"stable rejects prerelease": {
			cfg:     api.ToolchainConfig{Name: "go", Version: "stable", Command: "echo go1.23rc1"},
			wantErr: "prerelease",
		},
		"probe fails": {
			cfg:     api.ToolchainConfig{Name: "go", Command: "exit 127"},
			wantErr: "probe",
		},
		"invalid constraint": {
			cfg:     api.ToolchainConfig{Name: "go", Version: "not a version"},
			wantErr: "invalid version constraint",
		},
		"no probe": {
			cfg:         api.ToolchainConfig{Name: "go", Version: "~1.22"},
			wantVersion: "~1.22",
		},
	}

	p := NewCommandProvisioner()
	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			tc2, err := p.Provision(context.Background(), tc.cfg, nil)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorContains(t, err, tc.wantErr)
				var perr *ProvisioningError
				assert.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantVersion, tc2.Version)
			assert.Equal(t, tc.cfg.Name, tc2.Name)
		})
	}
}

func TestProvisionerFunc(t *testing.T) {
	var called bool
	p := ProvisionerFunc(func(context.Context, api.ToolchainConfig, []string) (*Toolchain, error) {
		called = true
		return &Toolchain{Name: "go", Version: "1.22.0"}, nil
	})

	tc, err := p.Provision(context.Background(), api.ToolchainConfig{}, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "go1.22.0", tc.String())
}
