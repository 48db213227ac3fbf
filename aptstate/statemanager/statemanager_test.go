package statemanager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/steelcutops/aptstate/aptstate"
	"github.com/steelcutops/aptstate/aptstate/cache"
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/filemanager"
	"github.com/steelcutops/aptstate/aptstate/hostmanager"
	"github.com/steelcutops/aptstate/aptstate/packagemanager"
	"github.com/steelcutops/aptstate/aptstate/params"
	"github.com/steelcutops/aptstate/aptstate/pkgspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Open(ctx context.Context, opts cache.Options) error {
	return m.Called(opts).Error(0)
}

func (m *MockCache) Package(ctx context.Context, name string) (cache.Package, error) {
	args := m.Called(name)
	return args.Get(0).(cache.Package), args.Error(1)
}

func (m *MockCache) Update(ctx context.Context) error {
	return m.Called().Error(0)
}

type MockPackageManager struct {
	mock.Mock
}

func (m *MockPackageManager) Install(ctx context.Context, pkgs []pkgspec.Spec, opts packagemanager.InstallOptions) (cm.CommandResult, error) {
	args := m.Called(pkgspec.Strings(pkgs), opts)
	return args.Get(0).(cm.CommandResult), args.Error(1)
}

func (m *MockPackageManager) Remove(ctx context.Context, pkgs []pkgspec.Spec, opts packagemanager.RemoveOptions) (cm.CommandResult, error) {
	args := m.Called(pkgspec.Strings(pkgs), opts)
	return args.Get(0).(cm.CommandResult), args.Error(1)
}

func (m *MockPackageManager) Upgrade(ctx context.Context, mode params.UpgradeMode, opts packagemanager.UpgradeOptions) (packagemanager.UpgradeResult, error) {
	args := m.Called(mode, opts)
	return args.Get(0).(packagemanager.UpgradeResult), args.Error(1)
}

type fakeFileManager struct {
	files map[string]time.Time
}

func (f fakeFileManager) GetFileAttributes(ctx context.Context, path string) (filemanager.File, error) {
	if mtime, ok := f.files[path]; ok {
		return filemanager.File{Path: path, Modified: mtime}, nil
	}
	return filemanager.File{}, filemanager.ErrNotExist
}

func (f fakeFileManager) GetDirAttributes(ctx context.Context, path string) (filemanager.Directory, error) {
	return filemanager.Directory{}, filemanager.ErrNotExist
}

type fakeHostManager struct {
	bins map[string]string
}

func (f fakeHostManager) OSRelease(ctx context.Context) (hostmanager.OSRelease, error) {
	return hostmanager.OSRelease{ID: "debian", VersionID: "12"}, nil
}

func (f fakeHostManager) BinPath(ctx context.Context, name string) (string, error) {
	if p, ok := f.bins[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%s: %w", name, hostmanager.ErrBinaryNotFound)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	cache *MockCache
	pm    *MockPackageManager
	sm    *AptStateManager
}

func newFixture(stamp *time.Time, bins map[string]string) fixture {
	fm := fakeFileManager{files: map[string]time.Time{}}
	if stamp != nil {
		fm.files[cache.UpdateSuccessStampPath] = *stamp
	}
	f := fixture{cache: new(MockCache), pm: new(MockPackageManager)}
	f.sm = &AptStateManager{
		Cache:          f.cache,
		PackageManager: f.pm,
		FileManager:    fm,
		HostManager:    fakeHostManager{bins: bins},
		Now:            func() time.Time { return now },
	}
	return f
}

func (f fixture) assertNoMutation(t *testing.T) {
	t.Helper()
	f.pm.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
	f.pm.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
	f.pm.AssertNotCalled(t, "Upgrade", mock.Anything, mock.Anything)
	f.cache.AssertNotCalled(t, "Update")
}

func withPackages(state params.State, pkgs ...string) params.Params {
	p := params.Default()
	p.State = state
	p.Packages = pkgs
	return p
}

func TestEnsureAlreadyInstalled(t *testing.T) {
	f := newFixture(nil, nil)
	f.cache.On("Open", cache.Options{}).Return(nil)
	f.cache.On("Package", "nginx").Return(cache.Package{Name: "nginx", Installed: "1.22.1-9", Candidate: "1.22.1-9"}, nil)

	result, err := f.sm.Ensure(context.Background(), withPackages(params.StateInstalled, "nginx"))
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.False(t, result.Failed)
	f.assertNoMutation(t)
}

func TestEnsureInstallsMissing(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StatePresent, "nginx", "curl")
	p.DefaultRelease = "bookworm-backports"
	p.InstallRecommends = false
	p.Force = true

	f.cache.On("Open", cache.Options{DefaultRelease: "bookworm-backports"}).Return(nil).Once()
	f.cache.On("Package", "nginx").Return(cache.Package{Name: "nginx", Candidate: "1.22.1-9"}, nil)
	f.cache.On("Package", "curl").Return(cache.Package{Name: "curl", Installed: "7.88.1", Candidate: "7.88.1"}, nil)
	f.pm.On("Install", []string{"nginx"}, packagemanager.InstallOptions{
		Force:          true,
		DefaultRelease: "bookworm-backports",
	}).Return(cm.CommandResult{STDOUT: "Setting up nginx"}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "Setting up nginx", result.Stdout)
	f.cache.AssertExpectations(t)
	f.pm.AssertExpectations(t)
}

func TestEnsureVersionGlob(t *testing.T) {
	tests := []struct {
		name      string
		installed string
		spec      string
		changed   bool
	}{
		{"matching glob", "1.22.1-9", "nginx=1.22*", false},
		{"exact version", "1.22.1-9", "nginx=1.22.1-9", false},
		{"other version installed", "1.18.0-6", "nginx=1.22*", true},
		{"not installed", "", "nginx=1.22*", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil, nil)
			f.cache.On("Open", mock.Anything).Return(nil)
			f.cache.On("Package", "nginx").Return(cache.Package{Name: "nginx", Installed: tt.installed, Candidate: "1.22.1-9"}, nil)
			f.pm.On("Install", []string{tt.spec}, mock.Anything).Return(cm.CommandResult{}, nil)

			result, err := f.sm.Ensure(context.Background(), withPackages(params.StateInstalled, tt.spec))
			require.NoError(t, err)
			assert.Equal(t, tt.changed, result.Changed)
			if tt.changed {
				f.pm.AssertNumberOfCalls(t, "Install", 1)
			} else {
				f.pm.AssertNotCalled(t, "Install", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestEnsureLatest(t *testing.T) {
	f := newFixture(nil, nil)
	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Package", "openssl").Return(cache.Package{Name: "openssl", Installed: "3.0.11-1", Candidate: "3.0.13-1"}, nil)
	f.cache.On("Package", "curl").Return(cache.Package{Name: "curl", Installed: "7.88.1", Candidate: "7.88.1"}, nil)
	f.pm.On("Install", []string{"openssl"}, mock.Anything).Return(cm.CommandResult{}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), withPackages(params.StateLatest, "openssl", "curl"))
	require.NoError(t, err)
	assert.True(t, result.Changed)
	f.pm.AssertExpectations(t)
}

func TestEnsureLatestWithVersionRejected(t *testing.T) {
	f := newFixture(nil, nil)

	result, err := f.sm.Ensure(context.Background(), withPackages(params.StateLatest, "nginx=1.22*"))

	var valErr *aptstate.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Contains(t, err.Error(), "version number inconsistent with state=latest")
	assert.True(t, result.Failed)
	f.cache.AssertNotCalled(t, "Open", mock.Anything)
	f.cache.AssertNotCalled(t, "Package", mock.Anything)
	f.assertNoMutation(t)
}

func TestEnsureInvalidParams(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StateInstalled, "nginx")
	p.Upgrade = params.UpgradeDist

	result, err := f.sm.Ensure(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, "parameters are mutually exclusive: package|upgrade", result.Msg)
	f.cache.AssertNotCalled(t, "Open", mock.Anything)
	f.assertNoMutation(t)
}

func TestEnsureMissingPackage(t *testing.T) {
	notFound := fmt.Errorf("nginxx: %w", aptstate.ErrPackageNotFound)

	t.Run("install fails", func(t *testing.T) {
		f := newFixture(nil, nil)
		f.cache.On("Open", mock.Anything).Return(nil)
		f.cache.On("Package", "nginxx").Return(cache.Package{}, notFound)

		result, err := f.sm.Ensure(context.Background(), withPackages(params.StateInstalled, "nginxx"))
		assert.EqualError(t, err, "No package matching 'nginxx' is available")
		assert.True(t, result.Failed)
		f.assertNoMutation(t)
	})

	t.Run("remove is a no-op", func(t *testing.T) {
		f := newFixture(nil, nil)
		f.cache.On("Open", mock.Anything).Return(nil)
		f.cache.On("Package", "nginxx").Return(cache.Package{}, notFound)

		result, err := f.sm.Ensure(context.Background(), withPackages(params.StateAbsent, "nginxx"))
		require.NoError(t, err)
		assert.False(t, result.Changed)
		f.assertNoMutation(t)
	})
}

func TestEnsureRemove(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StateRemoved, "telnet", "rsh-client")
	p.Purge = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Package", "telnet").Return(cache.Package{Name: "telnet", Installed: "0.17-44", Candidate: "0.17-44"}, nil)
	f.cache.On("Package", "rsh-client").Return(cache.Package{Name: "rsh-client", Candidate: "0.17-24"}, nil)
	f.pm.On("Remove", []string{"telnet"}, packagemanager.RemoveOptions{Purge: true}).Return(cm.CommandResult{STDOUT: "Purging telnet"}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "Purging telnet", result.Stdout)
	f.pm.AssertExpectations(t)
}

func TestEnsureRemoveCheckMode(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StateAbsent, "telnet")
	p.CheckMode = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Package", "telnet").Return(cache.Package{Name: "telnet", Installed: "0.17-44"}, nil)

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	f.assertNoMutation(t)
}

func TestEnsureRemoveFails(t *testing.T) {
	f := newFixture(nil, nil)
	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Package", "telnet").Return(cache.Package{Name: "telnet", Installed: "0.17-44"}, nil)
	f.pm.On("Remove", mock.Anything, mock.Anything).Return(cm.CommandResult{ExitCode: 100}, &aptstate.ExecutionError{
		Msg:      "'apt-get remove telnet' failed: E: Could not get lock",
		ExitCode: 100,
		Stderr:   "E: Could not get lock",
		Err:      aptstate.ErrLocked,
	})

	result, err := f.sm.Ensure(context.Background(), withPackages(params.StateAbsent, "telnet"))
	assert.True(t, errors.Is(err, aptstate.ErrLocked))
	assert.True(t, result.Failed)
	assert.False(t, result.Changed)
	assert.Equal(t, "E: Could not get lock", result.Stderr)
}

func TestEnsureCacheFreshness(t *testing.T) {
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name      string
		stamp     *time.Time
		validFor  time.Duration
		wantFetch bool
	}{
		{"fresh stamp", &recent, time.Hour, false},
		{"stale stamp", &old, time.Hour, true},
		{"missing stamp", nil, time.Hour, true},
		{"no window always updates", &recent, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.stamp, nil)
			p := params.Default()
			p.UpdateCache = true
			p.CacheValidTime = tt.validFor

			f.cache.On("Open", mock.Anything).Return(nil)
			f.cache.On("Update").Return(nil)

			result, err := f.sm.Ensure(context.Background(), p)
			require.NoError(t, err)
			assert.False(t, result.Changed)
			assert.Equal(t, tt.wantFetch, result.CacheUpdated)
			require.NotNil(t, result.CacheUpdateTime)

			if tt.wantFetch {
				f.cache.AssertNumberOfCalls(t, "Update", 1)
				assert.Equal(t, now, *result.CacheUpdateTime)
			} else {
				f.cache.AssertNotCalled(t, "Update")
				assert.Equal(t, recent, *result.CacheUpdateTime)
			}
		})
	}
}

func TestEnsureUpdateThenInstall(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StateInstalled, "nginx")
	p.UpdateCache = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Update").Return(nil).Once()
	f.cache.On("Package", "nginx").Return(cache.Package{Name: "nginx", Candidate: "1.22.1-9"}, nil)
	f.pm.On("Install", []string{"nginx"}, mock.Anything).Return(cm.CommandResult{}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.True(t, result.CacheUpdated)
	f.cache.AssertExpectations(t)
	f.pm.AssertExpectations(t)
}

func TestEnsureUpdateFails(t *testing.T) {
	f := newFixture(nil, nil)
	p := params.Default()
	p.UpdateCache = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Update").Return(&aptstate.ExecutionError{Msg: "Failed to update apt cache: E: timeout", ExitCode: 100})

	result, err := f.sm.Ensure(context.Background(), p)
	assert.EqualError(t, err, "Failed to update apt cache: E: timeout")
	assert.True(t, result.Failed)
	assert.False(t, result.CacheUpdated)
}

func TestEnsureUpgrade(t *testing.T) {
	f := newFixture(nil, nil)
	p := params.Default()
	p.Upgrade = params.UpgradeDist
	p.CheckMode = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.pm.On("Upgrade", params.UpgradeDist, packagemanager.UpgradeOptions{Check: true}).Return(packagemanager.UpgradeResult{
		Changed: true,
		Command: cm.CommandResult{STDOUT: "3 upgraded, 0 newly installed"},
	}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "3 upgraded, 0 newly installed", result.Msg)
	f.pm.AssertExpectations(t)
}

func TestEnsureUpgradeNeedsAptitude(t *testing.T) {
	p := params.Default()
	p.Upgrade = params.UpgradeSafe

	t.Run("missing", func(t *testing.T) {
		f := newFixture(nil, nil)

		result, err := f.sm.Ensure(context.Background(), p)
		assert.EqualError(t, err, "Could not find aptitude. Please ensure it is installed.")
		assert.True(t, result.Failed)
		f.cache.AssertNotCalled(t, "Open", mock.Anything)
		f.assertNoMutation(t)
	})

	t.Run("present", func(t *testing.T) {
		f := newFixture(nil, map[string]string{"aptitude": "/usr/bin/aptitude"})
		f.cache.On("Open", mock.Anything).Return(nil)
		f.pm.On("Upgrade", params.UpgradeSafe, mock.Anything).Return(packagemanager.UpgradeResult{}, nil).Once()

		result, err := f.sm.Ensure(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, result.Changed)
		f.pm.AssertExpectations(t)
	})
}

func TestEnsureInstallCheckMode(t *testing.T) {
	f := newFixture(nil, nil)
	p := withPackages(params.StateInstalled, "nginx")
	p.CheckMode = true

	f.cache.On("Open", mock.Anything).Return(nil)
	f.cache.On("Package", "nginx").Return(cache.Package{Name: "nginx", Candidate: "1.22.1-9"}, nil)
	f.pm.On("Install", []string{"nginx"}, packagemanager.InstallOptions{
		Check:             true,
		InstallRecommends: true,
	}).Return(cm.CommandResult{STDOUT: "Inst nginx (1.22.1-9 Debian:12/stable [amd64])"}, nil).Once()

	result, err := f.sm.Ensure(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "Inst nginx (1.22.1-9 Debian:12/stable [amd64])", result.Stdout)
	f.pm.AssertExpectations(t)
	f.pm.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}
