package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/systemstart/pushgate/pkg/api"
	"github.com/systemstart/pushgate/pkg/cache"
	"github.com/systemstart/pushgate/pkg/toolchain"
)

// Cache restores and saves dependency state. A Restore problem is a miss.
type Cache interface {
	Restore(ctx context.Context, key, dir string) bool
	Save(ctx context.Context, key, dir string, paths []string) error
}

// Prepared is the immutable execution context shared by every step of a run.
type Prepared struct {
	WorkDir   string
	Toolchain *toolchain.Toolchain
	CacheKey  string
	CacheHit  bool

	env map[string]string
}

// Env returns a copy of the pipeline-wide environment.
func (p *Prepared) Env() map[string]string {
	return MergeEnv(p.env)
}

// Environ renders the pipeline-wide environment with overrides applied on top.
func (p *Prepared) Environ(overrides map[string]string) []string {
	return Environ(MergeEnv(p.env, overrides))
}

// Preparer sets up the working directory of a run before its first step.
type Preparer struct {
	Cache       Cache
	Provisioner toolchain.Provisioner
	BaseEnv     map[string]string
}

// Prepare materializes the environment, restores the dependency cache and
// provisions the toolchain. Only environment and toolchain problems are
// returned; cache problems degrade to a miss.
func (pr *Preparer) Prepare(ctx context.Context, run *api.Run, p *api.Pipeline, workDir string) (*Prepared, error) {
	base := MergeEnv(pr.BaseEnv, map[string]string{
		"PWD":            workDir,
		api.EnvWorkspace: workDir,
		api.EnvRunID:     run.ID(),
	})
	declared, err := p.Environment(base)
	if err != nil {
		return nil, fmt.Errorf("resolving environment: %w", err)
	}

	prep := &Prepared{
		WorkDir: workDir,
		env:     MergeEnv(base, declared),
	}

	prep.CacheKey, prep.CacheHit = pr.restore(ctx, run, p, workDir)
	if err := run.SetCache(prep.CacheKey, prep.CacheHit); err != nil {
		return nil, err
	}

	tc, err := pr.provisioner().Provision(ctx, p.Toolchain, prep.Environ(nil))
	if err != nil {
		return nil, err
	}
	if tc == nil {
		tc = &toolchain.Toolchain{Name: p.Toolchain.Name, Version: p.Toolchain.Version}
	}
	prep.Toolchain = tc

	slog.Info("run prepared", "run", run.ID(), "workdir", workDir,
		"toolchain", tc.String(), "cacheKey", prep.CacheKey, "cacheHit", prep.CacheHit)
	return prep, nil
}

func (pr *Preparer) restore(ctx context.Context, run *api.Run, p *api.Pipeline, workDir string) (string, bool) {
	if pr.Cache == nil || !p.Cache.Enabled() {
		slog.Debug("caching disabled", "run", run.ID())
		return "", false
	}

	fingerprint, err := cache.Fingerprint(workDir, p.Cache.Manifests)
	if err != nil {
		if errors.Is(err, cache.ErrNoManifest) {
			slog.Warn("no dependency manifest found, caching skipped", "run", run.ID(), "manifests", p.Cache.Manifests)
		} else {
			slog.Warn("fingerprinting manifests failed, caching skipped", "run", run.ID(), "error", err)
		}
		return "", false
	}

	requested := toolchain.Toolchain{Name: p.Toolchain.Name, Version: p.Toolchain.Version}
	key, err := cache.RenderKey(p.Cache.Key, cache.NewKeyData(p.Name, requested.String(), fingerprint))
	if err != nil {
		slog.Warn("rendering cache key failed, caching skipped", "run", run.ID(), "error", err)
		return "", false
	}

	return key, pr.Cache.Restore(ctx, key, workDir)
}

func (pr *Preparer) provisioner() toolchain.Provisioner {
	if pr.Provisioner == nil {
		return toolchain.NewCommandProvisioner()
	}
	return pr.Provisioner
}
