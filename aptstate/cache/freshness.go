package cache

import (
	"context"
	"time"

	"github.com/steelcutops/aptstate/aptstate/filemanager"
)

const (
	// UpdateSuccessStampPath is touched by apt after a successful update.
	UpdateSuccessStampPath = "/var/lib/apt/periodic/update-success-stamp"
	// ListsPath holds the downloaded package lists.
	ListsPath = "/var/lib/apt/lists"
)

// Freshness configures IsFresh.
type Freshness struct {
	StampPath string
	ListsPath string
	ValidFor  time.Duration
}

// DefaultFreshness uses apt's stock paths.
func DefaultFreshness(validFor time.Duration) Freshness {
	return Freshness{
		StampPath: UpdateSuccessStampPath,
		ListsPath: ListsPath,
		ValidFor:  validFor,
	}
}

// LastUpdate returns when the lists were last refreshed: the stamp file's
// mtime, else the lists directory's when there is no stamp. ok is false when
// neither can be read, or when the stamp exists but could not be read.
func LastUpdate(ctx context.Context, fm filemanager.FileManager, f Freshness) (mtime time.Time, ok bool) {
	file, err := fm.GetFileAttributes(ctx, f.StampPath)
	if err == nil {
		return file.Modified, true
	}
	if !filemanager.IsNotExist(err) {
		return time.Time{}, false
	}
	if dir, err := fm.GetDirAttributes(ctx, f.ListsPath); err == nil {
		return dir.Modified, true
	}
	return time.Time{}, false
}

// IsFresh reports whether the lists were refreshed within f.ValidFor of now.
// An unknown refresh time counts as stale.
func IsFresh(ctx context.Context, fm filemanager.FileManager, f Freshness, now time.Time) bool {
	mtime, ok := LastUpdate(ctx, fm, f)
	if !ok {
		return false
	}
	return !mtime.Add(f.ValidFor).Before(now)
}
