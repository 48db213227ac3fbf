package packagemanager

import (
	"context"

	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/params"
	"github.com/steelcutops/aptstate/aptstate/pkgspec"
)

type InstallOptions struct {
	Check             bool
	Force             bool
	DefaultRelease    string
	InstallRecommends bool
}

type RemoveOptions struct {
	Purge bool
}

type UpgradeOptions struct {
	Check bool
	Force bool
}

// UpgradeResult reports a system upgrade. Changed is false when apt said
// nothing was upgraded or newly installed.
type UpgradeResult struct {
	Changed bool
	Command cm.CommandResult
}

// PackageManager carries out the mutating apt operations. Every method runs
// at most one external command; a non-zero exit comes back as an
// *aptstate.ExecutionError.
type PackageManager interface {
	Install(ctx context.Context, pkgs []pkgspec.Spec, opts InstallOptions) (cm.CommandResult, error)
	Remove(ctx context.Context, pkgs []pkgspec.Spec, opts RemoveOptions) (cm.CommandResult, error)
	Upgrade(ctx context.Context, mode params.UpgradeMode, opts UpgradeOptions) (UpgradeResult, error)
}
