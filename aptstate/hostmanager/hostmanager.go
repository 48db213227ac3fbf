package hostmanager

import (
	"context"
	"errors"
	"strings"
)

// ErrBinaryNotFound is returned by BinPath when the binary is not on PATH.
var ErrBinaryNotFound = errors.New("binary not found")

// OSRelease holds the fields of /etc/os-release that matter for apt hosts.
type OSRelease struct {
	ID              string
	IDLike          []string
	VersionID       string
	VersionCodename string
	PrettyName      string
}

// IsDebianFamily reports whether the host is Debian or a derivative.
func (r OSRelease) IsDebianFamily() bool {
	if r.ID == "debian" {
		return true
	}
	for _, like := range r.IDLike {
		if like == "debian" {
			return true
		}
	}
	return false
}

func (r OSRelease) String() string {
	if r.PrettyName != "" {
		return r.PrettyName
	}
	return strings.TrimSpace(r.ID + " " + r.VersionID)
}

// HostManager encompasses the host facts the apt module depends on.
type HostManager interface {
	OSRelease(ctx context.Context) (OSRelease, error)
	BinPath(ctx context.Context, name string) (string, error)
}
