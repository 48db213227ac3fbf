// Package statemanager brings a host's packages to the state described by
// params.Params, running at most one mutating apt command per call.
package statemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steelcutops/aptstate/aptstate"
	"github.com/steelcutops/aptstate/aptstate/cache"
	"github.com/steelcutops/aptstate/aptstate/filemanager"
	"github.com/steelcutops/aptstate/aptstate/hostmanager"
	"github.com/steelcutops/aptstate/aptstate/packagemanager"
	"github.com/steelcutops/aptstate/aptstate/params"
	"github.com/steelcutops/aptstate/aptstate/pkgspec"
	"github.com/steelcutops/aptstate/logger"
)

// StateManager applies a parameter set and reports what changed.
type StateManager interface {
	Ensure(ctx context.Context, p params.Params) (aptstate.Result, error)
}

type AptStateManager struct {
	Cache          cache.Cache
	PackageManager packagemanager.PackageManager
	FileManager    filemanager.FileManager
	HostManager    hostmanager.HostManager
	Logger         logger.Logger

	// Freshness paths; ValidFor is taken from the parameters.
	Freshness cache.Freshness
	Now       func() time.Time
}

func (m *AptStateManager) log() logger.Logger {
	if m.Logger == nil {
		return logger.Discard()
	}
	return m.Logger
}

func (m *AptStateManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// Ensure runs the module once. On failure the returned Result is already
// marked failed and carries the error message.
func (m *AptStateManager) Ensure(ctx context.Context, p params.Params) (aptstate.Result, error) {
	result, err := m.ensure(ctx, p, aptstate.Result{})
	if err != nil {
		m.log().Error("apt run failed", "error", err)
		return result.Fail(err), err
	}
	m.log().Info("apt run finished", "changed", result.Changed)
	return result, nil
}

func (m *AptStateManager) ensure(ctx context.Context, p params.Params, result aptstate.Result) (aptstate.Result, error) {
	if err := p.Validate(); err != nil {
		return result, err
	}
	specs, err := pkgspec.ParseList(p.Packages, p.State == params.StateLatest)
	if err != nil {
		return result, err
	}

	if p.Upgrade.NeedsAptitude() {
		if _, err := m.HostManager.BinPath(ctx, "aptitude"); err != nil {
			if errors.Is(err, hostmanager.ErrBinaryNotFound) {
				return result, aptstate.Validationf("Could not find aptitude. Please ensure it is installed.")
			}
			return result, err
		}
	}

	if err := m.Cache.Open(ctx, cache.Options{DefaultRelease: p.DefaultRelease}); err != nil {
		return result, err
	}

	if p.UpdateCache {
		result, err = m.updateCache(ctx, p, result)
		if err != nil {
			return result, err
		}
		if len(specs) == 0 && p.Upgrade == params.UpgradeNone {
			return result, nil
		}
	}

	if p.Upgrade != params.UpgradeNone {
		return m.upgrade(ctx, p, result)
	}

	switch p.State {
	case params.StateLatest:
		return m.install(ctx, p, specs, true, result)
	case params.StateInstalled, params.StatePresent:
		return m.install(ctx, p, specs, false, result)
	default:
		return m.remove(ctx, p, specs, result)
	}
}

func (m *AptStateManager) freshness(validFor time.Duration) cache.Freshness {
	f := m.Freshness
	if f.StampPath == "" {
		f.StampPath = cache.UpdateSuccessStampPath
	}
	if f.ListsPath == "" {
		f.ListsPath = cache.ListsPath
	}
	f.ValidFor = validFor
	return f
}

func (m *AptStateManager) updateCache(ctx context.Context, p params.Params, result aptstate.Result) (aptstate.Result, error) {
	f := m.freshness(p.CacheValidTime)

	if p.CacheValidTime > 0 && cache.IsFresh(ctx, m.FileManager, f, m.now()) {
		m.log().Info("apt cache is still valid, not updating", "valid_for", p.CacheValidTime)
		if mtime, ok := cache.LastUpdate(ctx, m.FileManager, f); ok {
			result.CacheUpdateTime = &mtime
		}
		return result, nil
	}

	if err := m.Cache.Update(ctx); err != nil {
		return result, err
	}

	updated := m.now()
	result.CacheUpdated = true
	result.CacheUpdateTime = &updated
	return result, nil
}

// status reports whether spec is satisfied as installed and whether it could
// be upgraded. A package missing from the cache is fatal only when it has
// to be installed.
func (m *AptStateManager) status(ctx context.Context, spec pkgspec.Spec, installing bool) (installed, upgradable bool, err error) {
	pkg, err := m.Cache.Package(ctx, spec.Name)
	if err != nil {
		if errors.Is(err, aptstate.ErrPackageNotFound) {
			if installing {
				return false, false, &aptstate.ValidationError{
					Msg: fmt.Sprintf("No package matching '%s' is available", spec.Name),
					Err: err,
				}
			}
			return false, false, nil
		}
		return false, false, err
	}

	if spec.HasVersion() {
		return pkg.IsInstalled() && spec.Matches(pkg.Installed), false, nil
	}
	return pkg.IsInstalled(), pkg.IsUpgradable(), nil
}

func (m *AptStateManager) install(ctx context.Context, p params.Params, specs []pkgspec.Spec, upgrade bool, result aptstate.Result) (aptstate.Result, error) {
	var pending []pkgspec.Spec
	for _, spec := range specs {
		installed, upgradable, err := m.status(ctx, spec, true)
		if err != nil {
			return result, err
		}
		if !installed || (upgrade && upgradable) {
			pending = append(pending, spec)
		}
	}

	if len(pending) == 0 {
		m.log().Debug("All packages already in the requested state", "packages", p.Packages)
		return result, nil
	}

	out, err := m.PackageManager.Install(ctx, pending, packagemanager.InstallOptions{
		Check:             p.CheckMode,
		Force:             p.Force,
		DefaultRelease:    p.DefaultRelease,
		InstallRecommends: p.InstallRecommends,
	})
	if err != nil {
		return result, err
	}

	result.Changed = true
	result.Stdout = out.STDOUT
	result.Stderr = out.STDERR
	return result, nil
}

func (m *AptStateManager) remove(ctx context.Context, p params.Params, specs []pkgspec.Spec, result aptstate.Result) (aptstate.Result, error) {
	var pending []pkgspec.Spec
	for _, spec := range specs {
		installed, _, err := m.status(ctx, spec, false)
		if err != nil {
			return result, err
		}
		if installed {
			pending = append(pending, spec)
		}
	}

	if len(pending) == 0 {
		return result, nil
	}

	result.Changed = true
	if p.CheckMode {
		m.log().Info("Check mode, not removing", "packages", pkgspec.Strings(pending))
		return result, nil
	}

	out, err := m.PackageManager.Remove(ctx, pending, packagemanager.RemoveOptions{Purge: p.Purge})
	if err != nil {
		result.Changed = false
		return result, err
	}
	result.Stdout = out.STDOUT
	result.Stderr = out.STDERR
	return result, nil
}

func (m *AptStateManager) upgrade(ctx context.Context, p params.Params, result aptstate.Result) (aptstate.Result, error) {
	out, err := m.PackageManager.Upgrade(ctx, p.Upgrade, packagemanager.UpgradeOptions{
		Check: p.CheckMode,
		Force: p.Force,
	})
	if err != nil {
		return result, err
	}

	result.Changed = out.Changed
	result.Msg = out.Command.STDOUT
	result.Stdout = out.Command.STDOUT
	result.Stderr = out.Command.STDERR
	return result, nil
}
