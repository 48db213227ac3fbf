// Package host binds the apt managers to one target machine.
package host

import (
	"github.com/steelcutops/aptstate/aptstate/cache"
	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
	"github.com/steelcutops/aptstate/aptstate/filemanager"
	"github.com/steelcutops/aptstate/aptstate/hostmanager"
	"github.com/steelcutops/aptstate/aptstate/packagemanager"
	"github.com/steelcutops/aptstate/aptstate/statemanager"
	"github.com/steelcutops/aptstate/logger"
)

type Host struct {
	Hostname string
	OS       hostmanager.OSRelease
	// Sudo elevates the mutating apt commands and the cache refresh.
	Sudo      bool
	SSHClient cm.SSHDialer
	Logger    logger.Logger
	cm.Credentials

	CommandManager cm.CommandManager
	FileManager    filemanager.FileManager
	HostManager    hostmanager.HostManager
	Cache          cache.Cache
	PackageManager packagemanager.PackageManager
	StateManager   statemanager.StateManager

	osPinned bool
}
