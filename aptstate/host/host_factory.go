package host

import (
	"context"
	"fmt"

	"github.com/steelcutops/aptstate/aptstate/cache"
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/filemanager"
	"github.com/steelcutops/aptstate/aptstate/hostmanager"
	"github.com/steelcutops/aptstate/aptstate/packagemanager"
	"github.com/steelcutops/aptstate/aptstate/statemanager"
	"github.com/steelcutops/aptstate/logger"
)

// UnsupportedOSError is returned by NewHost for hosts outside the Debian family.
type UnsupportedOSError struct {
	Hostname string
	OS       hostmanager.OSRelease
}

func (e *UnsupportedOSError) Error() string {
	return fmt.Sprintf("unsupported operating system on %s: %s", e.Hostname, e.OS)
}

func NewHost(ctx context.Context, hostname string, options ...HostOption) (*Host, error) {
	ch := &Host{Hostname: hostname}

	for _, option := range options {
		option(ch)
	}
	if ch.Logger == nil {
		ch.Logger = logger.Discard()
	}
	ch.Logger = ch.Logger.With("host", hostname)

	// The command manager is needed before the OS can be determined.
	if ch.CommandManager == nil {
		ch.CommandManager = &cm.UnixCommandManager{
			Hostname:    hostname,
			SSHClient:   ch.SSHClient,
			Logger:      ch.Logger,
			Credentials: ch.Credentials,
		}
	}
	ch.HostManager = &hostmanager.UnixHostManager{CommandManager: ch.CommandManager}

	if !ch.osPinned {
		osRelease, err := ch.DetermineOS(ctx)
		if err != nil {
			return nil, err
		}
		ch.OS = osRelease
	}
	if !ch.OS.IsDebianFamily() {
		return nil, &UnsupportedOSError{Hostname: hostname, OS: ch.OS}
	}

	configureAptHost(ch)
	return ch, nil
}

// DetermineOS reads /etc/os-release on the host.
func (h *Host) DetermineOS(ctx context.Context) (hostmanager.OSRelease, error) {
	osRelease, err := h.HostManager.OSRelease(ctx)
	if err != nil {
		return hostmanager.OSRelease{}, fmt.Errorf("determine OS of %s: %w", h.Hostname, err)
	}
	h.Logger.Debug("Determined OS", "os", osRelease.String())
	return osRelease, nil
}

func configureAptHost(ch *Host) {
	ch.FileManager = &filemanager.UnixFileManager{CommandManager: ch.CommandManager}
	ch.Cache = &cache.AptCache{
		CommandManager: ch.CommandManager,
		Logger:         ch.Logger,
		Sudo:           ch.Sudo,
	}
	ch.PackageManager = &packagemanager.AptPackageManager{
		CommandManager: ch.CommandManager,
		Logger:         ch.Logger,
		Sudo:           ch.Sudo,
	}
	ch.StateManager = &statemanager.AptStateManager{
		Cache:          ch.Cache,
		PackageManager: ch.PackageManager,
		FileManager:    ch.FileManager,
		HostManager:    ch.HostManager,
		Logger:         ch.Logger,
		Freshness:      cache.DefaultFreshness(0),
	}
}
