// Package filemanager reads file metadata on the managed host. It only ever
// looks: apt owns every path it is pointed at.
package filemanager

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNotExist is wrapped by the returned error when the path is missing.
var ErrNotExist = os.ErrNotExist

// FileManager looks up file and directory attributes.
type FileManager interface {
	GetFileAttributes(ctx context.Context, path string) (File, error)
	GetDirAttributes(ctx context.Context, path string) (Directory, error)
}

// File describes basic file attributes.
type File struct {
	Path     string
	Size     int64 // bytes
	Mode     os.FileMode
	Modified time.Time
}

// Directory describes basic directory attributes.
type Directory struct {
	Path     string
	Mode     os.FileMode
	Modified time.Time
}

// IsNotExist reports whether err says the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
