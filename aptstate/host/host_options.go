package host

import (
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/hostmanager"
	"github.com/steelcutops/aptstate/logger"
)

type HostOption func(*Host)

// WithUser returns a HostOption that sets the SSH user for a Host.
func WithUser(user string) HostOption {
	return func(host *Host) {
		host.User = user
	}
}

// WithPassword returns a HostOption that sets the SSH password for a Host.
func WithPassword(password string) HostOption {
	return func(host *Host) {
		host.Password = password
	}
}

// WithKeyPassphrase returns a HostOption that sets the key passphrase for a Host.
func WithKeyPassphrase(keyPassphrase string) HostOption {
	return func(host *Host) {
		host.KeyPassphrase = keyPassphrase
	}
}

// WithSudo runs apt-get through sudo.
func WithSudo() HostOption {
	return func(host *Host) {
		host.Sudo = true
	}
}

// WithSudoPassword returns a HostOption that sets the sudo password for a
// Host. It implies WithSudo.
func WithSudoPassword(password string) HostOption {
	return func(host *Host) {
		host.Sudo = true
		host.SudoPassword = password
	}
}

func WithSSHClient(client cm.SSHDialer) HostOption {
	return func(host *Host) {
		host.SSHClient = client
	}
}

// WithKnownHosts verifies host keys against a known_hosts file.
func WithKnownHosts(path string) HostOption {
	return func(host *Host) {
		host.KnownHostsFile = path
	}
}

// WithOS skips probing /etc/os-release and trusts os instead.
func WithOS(os hostmanager.OSRelease) HostOption {
	return func(host *Host) {
		host.OS = os
		host.osPinned = true
	}
}

func WithLogger(l logger.Logger) HostOption {
	return func(host *Host) {
		host.Logger = l
	}
}

// WithCommandManager replaces the SSH/local command manager, e.g. with a
// recording fake.
func WithCommandManager(c cm.CommandManager) HostOption {
	return func(host *Host) {
		host.CommandManager = c
	}
}
