package hostmanager

import (
	"context"
	"fmt"
	"strings"

	cm "github.com/steelcutops/aptstate/aptstate/commandmanager"
)

const osReleasePath = "/etc/os-release"

type UnixHostManager struct {
	CommandManager cm.CommandManager
}

// OSRelease reads and parses /etc/os-release.
func (uhm *UnixHostManager) OSRelease(ctx context.Context) (OSRelease, error) {
	output, err := uhm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "cat",
		Args:    []string{osReleasePath},
	})
	if err != nil {
		return OSRelease{}, err
	}
	if output.ExitCode != 0 {
		return OSRelease{}, fmt.Errorf("reading %s: %s", osReleasePath, strings.TrimSpace(output.STDERR))
	}

	return parseOSRelease(output.STDOUT), nil
}

// BinPath resolves name on the host's PATH.
func (uhm *UnixHostManager) BinPath(ctx context.Context, name string) (string, error) {
	output, err := uhm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "sh",
		Args:    []string{"-c", `command -v "$0"`, name},
	})
	if err != nil {
		return "", err
	}

	path := strings.TrimSpace(output.STDOUT)
	if output.ExitCode != 0 || path == "" {
		return "", fmt.Errorf("%s: %w", name, ErrBinaryNotFound)
	}
	return path, nil
}

func parseOSRelease(content string) OSRelease {
	var rel OSRelease
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)

		switch key {
		case "ID":
			rel.ID = value
		case "ID_LIKE":
			rel.IDLike = strings.Fields(value)
		case "VERSION_ID":
			rel.VersionID = value
		case "VERSION_CODENAME":
			rel.VersionCodename = value
		case "PRETTY_NAME":
			rel.PrettyName = value
		}
	}
	return rel
}
