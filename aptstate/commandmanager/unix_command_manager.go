package commandmanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/steelcutops/aptstate/logger"
	"golang.org/x/crypto/ssh"
	"mvdan.cc/sh/v3/syntax"
)

const defaultDialTimeout = 30 * time.Second

type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

type UnixCommandManager struct {
	Hostname  string
	SSHClient SSHDialer
	Logger    logger.Logger
	Credentials
}

func (u *UnixCommandManager) log() logger.Logger {
	if u.Logger == nil {
		return logger.Discard()
	}
	return u.Logger
}

func (u *UnixCommandManager) RunLocal(ctx context.Context, config CommandConfig) (CommandResult, error) {
	start := time.Now()

	var cmd *exec.Cmd
	if config.Sudo {
		cmd = exec.CommandContext(ctx, "sudo", sudoArgs(config)...)
		cmd.Stdin = strings.NewReader(u.SudoPassword + "\n")
	} else {
		cmd = exec.CommandContext(ctx, config.Command, config.Args...)
		if len(config.Env) > 0 {
			cmd.Env = append(os.Environ(), config.Env...)
		}
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	u.log().Debug("Executing local command", "command", config.Command, "args", config.Args, "sudo", config.Sudo)
	err := cmd.Run()

	result := CommandResult{
		Command:   strings.Join(cmd.Args, " "),
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		ExitCode:  getExitCode(err),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, err
	}
	if config.Sudo {
		if err := checkSudo(result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (u *UnixCommandManager) getSSHConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if u.Password != "" {
		u.log().Debug("Using password authentication", "hostname", u.Hostname)
		authMethod = ssh.Password(u.Password)
	} else {
		u.log().Debug("Using public key authentication", "hostname", u.Hostname)
		var keyManager SSHKeyManager
		if u.KeyPassphrase != "" {
			keyManager = FileSSHKeyManager{}
		} else {
			keyManager = AgentSSHKeyManager{}
		}

		keys, err := keyManager.ReadPrivateKeys(u.KeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	hostKeyCallback, err := hostKeyCallback(u.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            u.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (u *UnixCommandManager) RunRemote(ctx context.Context, config CommandConfig) (CommandResult, error) {
	u.log().Debug("Executing remote command", "hostname", u.Hostname, "command", config.Command, "args", config.Args)

	if u.SSHClient == nil {
		return CommandResult{}, errors.New("SSHClient is not initialized")
	}

	cmdStr, err := remoteCommandLine(config)
	if err != nil {
		return CommandResult{}, err
	}

	sshConfig, err := u.getSSHConfig()
	if err != nil {
		return CommandResult{}, err
	}
	dialTimeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	client, err := u.SSHClient.Dial("tcp", sshAddr(u.Hostname), sshConfig, dialTimeout)
	if err != nil {
		return CommandResult{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, err
	}
	defer session.Close()

	if config.Sudo {
		session.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}

	start := time.Now()

	type outcome struct {
		result CommandResult
		err    error
	}
	outputCh := make(chan outcome, 1)
	go func() {
		var stdout, stderr strings.Builder
		session.Stdout = &stdout
		session.Stderr = &stderr

		err := session.Run(cmdStr)
		res := CommandResult{
			STDOUT:   stdout.String(),
			STDERR:   stderr.String(),
			ExitCode: getExitCode(err),
		}

		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			outputCh <- outcome{result: res, err: err}
			return
		}
		outputCh <- outcome{result: res}
	}()

	select {
	case out := <-outputCh:
		out.result.Duration = time.Since(start)
		out.result.Timestamp = start
		out.result.Command = cmdStr
		if out.err != nil {
			u.log().Error("Failed to execute command over SSH", "command", cmdStr, "error", out.err)
			return out.result, out.err
		}
		if config.Sudo {
			if err := checkSudo(out.result); err != nil {
				return out.result, err
			}
		}
		return out.result, nil

	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		u.log().Error("Command over SSH timed out", "command", cmdStr)
		return CommandResult{Command: cmdStr, Timestamp: start}, ctx.Err()
	}
}

func (u *UnixCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if u.isLocal() {
		return u.RunLocal(ctx, config)
	}
	return u.RunRemote(ctx, config)
}

func (u *UnixCommandManager) isLocal() bool {
	return u.Hostname == "" || u.Hostname == "localhost" || u.Hostname == "127.0.0.1"
}

// sudoArgs builds the argument list following "sudo". Environment overrides
// go through env(1) since sudo resets the environment.
func sudoArgs(config CommandConfig) []string {
	args := []string{"-S"}
	if len(config.Env) > 0 {
		args = append(args, "env")
		args = append(args, config.Env...)
	}
	args = append(args, config.Command)
	return append(args, config.Args...)
}

// remoteCommandLine renders config as a single shell-quoted line for an SSH session.
func remoteCommandLine(config CommandConfig) (string, error) {
	var words []string
	if config.Sudo {
		words = append(words, "sudo")
		words = append(words, sudoArgs(config)...)
	} else {
		if len(config.Env) > 0 {
			words = append(words, "env")
			words = append(words, config.Env...)
		}
		words = append(words, config.Command)
		words = append(words, config.Args...)
	}

	quoted := make([]string, 0, len(words))
	for _, w := range words {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote %q for remote shell: %w", w, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

func sshAddr(hostname string) string {
	if _, _, err := net.SplitHostPort(hostname); err == nil {
		return hostname
	}
	return net.JoinHostPort(hostname, "22")
}

func checkSudo(result CommandResult) error {
	out := result.STDOUT + result.STDERR
	if strings.Contains(out, "incorrect password") {
		return errors.New("sudo: incorrect password provided")
	}
	if strings.Contains(out, "is not in the sudoers file") {
		return errors.New("sudo: user is not in the sudoers file")
	}
	return nil
}

func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var sshExitErr *ssh.ExitError
	if errors.As(err, &sshExitErr) {
		return sshExitErr.ExitStatus()
	}
	return -1
}
