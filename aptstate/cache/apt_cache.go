package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/steelcutops/aptstate/aptstate"
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/logger"
)

// AptCache answers lookups with apt-cache policy and refreshes with
// apt-get update.
type AptCache struct {
	CommandManager cm.CommandManager
	Logger         logger.Logger
	// Sudo elevates apt-get update.
	Sudo bool

	opts     Options
	packages map[string]Package
}

func (c *AptCache) log() logger.Logger {
	if c.Logger == nil {
		return logger.Discard()
	}
	return c.Logger
}

func (c *AptCache) Open(ctx context.Context, opts Options) error {
	c.opts = opts
	c.packages = map[string]Package{}
	c.log().Debug("Opened package cache", "default_release", opts.DefaultRelease)
	return nil
}

func (c *AptCache) Package(ctx context.Context, name string) (Package, error) {
	if pkg, ok := c.packages[name]; ok {
		return pkg, nil
	}

	var args []string
	if c.opts.DefaultRelease != "" {
		args = append(args, "-o", "APT::Default-Release="+c.opts.DefaultRelease)
	}
	args = append(args, "policy", name)

	result, err := c.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "apt-cache",
		Args:    args,
		Env:     aptstate.AptEnv,
	})
	if err != nil {
		return Package{}, err
	}
	if result.ExitCode != 0 {
		return Package{}, &aptstate.ExecutionError{
			Msg:      fmt.Sprintf("apt-cache policy %s failed: %s", name, strings.TrimSpace(result.STDERR)),
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Stderr:   result.STDERR,
		}
	}

	pkg, ok := parsePolicy(result.STDOUT)[name]
	if !ok || (!pkg.IsInstalled() && pkg.Candidate == "") {
		return Package{}, fmt.Errorf("%s: %w", name, aptstate.ErrPackageNotFound)
	}

	if c.packages == nil {
		c.packages = map[string]Package{}
	}
	c.packages[name] = pkg
	c.log().Debug("Looked up package", "name", name, "installed", pkg.Installed, "candidate", pkg.Candidate)
	return pkg, nil
}

func (c *AptCache) Update(ctx context.Context) error {
	c.log().Info("Updating apt cache")
	result, err := c.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "apt-get",
		Args:    []string{"-q", "update"},
		Env:     aptstate.AptEnv,
		Sudo:    c.Sudo,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		execErr := &aptstate.ExecutionError{
			Msg:      fmt.Sprintf("Failed to update apt cache: %s", strings.TrimSpace(result.STDERR)),
			Command:  result.Command,
			ExitCode: result.ExitCode,
			Stderr:   result.STDERR,
		}
		if aptstate.IsLockMessage(result.STDERR) {
			execErr.Err = aptstate.ErrLocked
		}
		return execErr
	}

	return c.Open(ctx, c.opts)
}

// parsePolicy reads apt-cache policy output into packages keyed by name.
// "(none)" versions are left empty.
func parsePolicy(out string) map[string]Package {
	packages := map[string]Package{}

	var current *Package
	flush := func() {
		if current != nil {
			packages[current.Name] = *current
		}
	}

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if line[0] != ' ' && strings.HasSuffix(line, ":") {
			flush()
			current = &Package{Name: strings.TrimSuffix(line, ":")}
			continue
		}
		if current == nil {
			continue
		}

		field, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == noneVersion {
			value = ""
		}
		switch field {
		case "Installed":
			current.Installed = value
		case "Candidate":
			current.Candidate = value
		}
	}
	flush()

	return packages
}
