package commandmanager

import (
	"context"
	"time"
)

// CommandConfig describes one process invocation.
type CommandConfig struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE overrides
	Sudo    bool
}

// CommandResult encapsulates the results from a command execution.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// Credentials used to reach and elevate on a host.
type Credentials struct {
	User           string
	Password       string
	KeyPassphrase  string
	SudoPassword   string
	KnownHostsFile string
}

// CommandManager provides methods to execute commands, both locally and remotely.
// A command that starts and exits non-zero is not an error: the exit code is
// reported in CommandResult.ExitCode.
type CommandManager interface {
	// RunLocal executes a command on the local system.
	RunLocal(ctx context.Context, config CommandConfig) (CommandResult, error)

	// RunRemote executes a command on a remote system via SSH.
	RunRemote(ctx context.Context, config CommandConfig) (CommandResult, error)

	// Run picks local or remote execution for the manager's host.
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}
