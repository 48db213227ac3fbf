// Package cache is a read-through view of apt's package metadata on the
// managed host.
package cache

import (
	"context"
)

const noneVersion = "(none)"

// Package is what the cache knows about one package name.
type Package struct {
	Name      string
	Installed string
	Candidate string
}

func (p Package) IsInstalled() bool {
	return p.Installed != ""
}

// IsUpgradable reports whether installing would move the package to a
// different version than the one installed.
func (p Package) IsUpgradable() bool {
	return p.IsInstalled() && p.Candidate != "" && p.Candidate != p.Installed
}

// Options change how the cache resolves candidates.
type Options struct {
	// DefaultRelease pins candidates to a release (APT::Default-Release).
	DefaultRelease string
}

// Cache is the package cache of one host.
type Cache interface {
	// Open (re)opens the cache with opts, dropping anything already read.
	Open(ctx context.Context, opts Options) error

	// Package looks up name. A name apt does not know yields
	// aptstate.ErrPackageNotFound.
	Package(ctx context.Context, name string) (Package, error)

	// Update refreshes the package lists and reopens the cache.
	Update(ctx context.Context) error
}
