package filemanager

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
)

type UnixFileManager struct {
	CommandManager cm.CommandManager
}

func (ufm *UnixFileManager) stat(ctx context.Context, path, format string) (string, error) {
	result, err := ufm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "stat",
		Args:    []string{"-c", format, path},
		Env:     []string{"LC_ALL=C"},
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if strings.Contains(result.STDERR, "No such file or directory") {
			return "", fmt.Errorf("stat %s: %w", path, ErrNotExist)
		}
		return "", fmt.Errorf("stat %s: %s", path, strings.TrimSpace(result.STDERR))
	}
	return strings.TrimSpace(result.STDOUT), nil
}

func (ufm *UnixFileManager) GetDirAttributes(ctx context.Context, path string) (Directory, error) {
	out, err := ufm.stat(ctx, path, "%Y %a %F")
	if err != nil {
		return Directory{}, err
	}

	// the file type comes last since it may contain spaces
	parts := strings.SplitN(out, " ", 3)
	if len(parts) != 3 || parts[2] != "directory" {
		return Directory{}, fmt.Errorf("unexpected stat output format or not a directory: %s", out)
	}

	modified, err := parseEpoch(parts[0])
	if err != nil {
		return Directory{}, err
	}

	modeInt, err := strconv.ParseUint(parts[1], 8, 32)
	if err != nil {
		return Directory{}, fmt.Errorf("error parsing mode: %w", err)
	}

	return Directory{
		Path:     path,
		Mode:     os.FileMode(modeInt) | os.ModeDir,
		Modified: modified,
	}, nil
}

func (ufm *UnixFileManager) GetFileAttributes(ctx context.Context, path string) (File, error) {
	out, err := ufm.stat(ctx, path, "%s %Y %a %F")
	if err != nil {
		return File{}, err
	}

	parts := strings.SplitN(out, " ", 4)
	if len(parts) != 4 {
		return File{}, fmt.Errorf("unexpected stat output format: %s", out)
	}

	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("error parsing file size: %w", err)
	}

	modified, err := parseEpoch(parts[1])
	if err != nil {
		return File{}, err
	}

	modeInt, err := strconv.ParseUint(parts[2], 8, 32)
	if err != nil {
		return File{}, fmt.Errorf("error parsing mode: %w", err)
	}
	mode := os.FileMode(modeInt)
	if parts[3] == "directory" {
		mode |= os.ModeDir
	}

	return File{
		Path:     path,
		Size:     size,
		Mode:     mode,
		Modified: modified,
	}, nil
}

func parseEpoch(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing modification time: %w", err)
	}
	return time.Unix(secs, 0), nil
}
