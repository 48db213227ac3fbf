package packagemanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/steelcutops/aptstate/aptstate"
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/params"
	"github.com/steelcutops/aptstate/aptstate/pkgspec"
	"github.com/steelcutops/aptstate/logger"
)

const (
	aptGet   = "apt-get"
	aptitude = "aptitude"

	// what each tool prints when an upgrade had nothing to do
	aptGetZero   = "0 upgraded, 0 newly installed"
	aptitudeZero = "0 packages upgraded, 0 newly installed"
)

var dpkgOptions = []string{
	"-o", "Dpkg::Options::=--force-confdef",
	"-o", "Dpkg::Options::=--force-confold",
}

type AptPackageManager struct {
	CommandManager cm.CommandManager
	Logger         logger.Logger
	Sudo           bool
}

func (apm *AptPackageManager) log() logger.Logger {
	if apm.Logger == nil {
		return logger.Discard()
	}
	return apm.Logger
}

func (apm *AptPackageManager) Install(ctx context.Context, pkgs []pkgspec.Spec, opts InstallOptions) (cm.CommandResult, error) {
	names := pkgspec.Strings(pkgs)
	apm.log().Info("Installing packages", "packages", names, "check", opts.Check)

	return apm.run(ctx, aptGet, InstallArgs(pkgs, opts), "'apt-get install "+strings.Join(names, " ")+"'")
}

func (apm *AptPackageManager) Remove(ctx context.Context, pkgs []pkgspec.Spec, opts RemoveOptions) (cm.CommandResult, error) {
	names := pkgspec.Strings(pkgs)
	apm.log().Info("Removing packages", "packages", names, "purge", opts.Purge)

	return apm.run(ctx, aptGet, RemoveArgs(pkgs, opts), "'apt-get remove "+strings.Join(names, " ")+"'")
}

func (apm *AptPackageManager) Upgrade(ctx context.Context, mode params.UpgradeMode, opts UpgradeOptions) (UpgradeResult, error) {
	tool, args := UpgradeArgs(mode, opts)
	apm.log().Info("Upgrading system", "tool", tool, "mode", string(mode), "check", opts.Check)

	result, err := apm.run(ctx, tool, args, fmt.Sprintf("'%s %s'", tool, args[len(args)-1]))
	if err != nil {
		return UpgradeResult{Command: result}, err
	}

	zero := aptitudeZero
	if tool == aptGet {
		zero = aptGetZero
	}
	return UpgradeResult{
		Changed: !strings.Contains(result.STDOUT, zero),
		Command: result,
	}, nil
}

// InstallArgs builds the apt-get argument list for an install.
func InstallArgs(pkgs []pkgspec.Spec, opts InstallOptions) []string {
	args := []string{"-y"}
	args = append(args, dpkgOptions...)
	if opts.Force {
		args = append(args, "--force-yes")
	}
	if opts.Check {
		args = append(args, "--simulate")
	}
	args = append(args, "install")
	args = append(args, pkgspec.Strings(pkgs)...)
	if opts.DefaultRelease != "" {
		args = append(args, "-t", opts.DefaultRelease)
	}
	if !opts.InstallRecommends {
		args = append(args, "--no-install-recommends")
	}
	return args
}

// RemoveArgs builds the apt-get argument list for a remove.
func RemoveArgs(pkgs []pkgspec.Spec, opts RemoveOptions) []string {
	args := []string{"-q", "-y"}
	if opts.Purge {
		args = append(args, "--purge")
	}
	args = append(args, "remove")
	return append(args, pkgspec.Strings(pkgs)...)
}

// UpgradeArgs picks the tool for mode and builds its argument list. The
// subcommand is always the last argument.
func UpgradeArgs(mode params.UpgradeMode, opts UpgradeOptions) (tool string, args []string) {
	var subcommand string
	switch mode {
	case params.UpgradeDist:
		tool, subcommand = aptGet, "dist-upgrade"
	case params.UpgradeFull:
		tool, subcommand = aptitude, "full-upgrade"
	default:
		tool, subcommand = aptitude, "safe-upgrade"
	}

	args = []string{"-y"}
	args = append(args, dpkgOptions...)
	if opts.Force {
		args = append(args, "--force-yes")
	}
	if opts.Check {
		args = append(args, "--simulate")
	}
	return tool, append(args, subcommand)
}

func (apm *AptPackageManager) run(ctx context.Context, tool string, args []string, what string) (cm.CommandResult, error) {
	result, err := apm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: tool,
		Args:    args,
		Env:     aptstate.AptEnv,
		Sudo:    apm.Sudo,
	})
	if err != nil {
		return result, fmt.Errorf("%s: %w", what, err)
	}

	apm.log().Debug("Command finished", "command", result.Command, "exit_code", result.ExitCode, "duration", result.Duration)
	if result.ExitCode != 0 {
		execErr := &aptstate.ExecutionError{
			Msg:      fmt.Sprintf("%s failed: %s", what, strings.TrimSpace(result.STDERR)),
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Stderr:   result.STDERR,
		}
		if aptstate.IsLockMessage(result.STDERR) {
			execErr.Err = aptstate.ErrLocked
		}
		return result, execErr
	}
	return result, nil
}
