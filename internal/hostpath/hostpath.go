// Package hostpath inspects host filesystem paths handed to the container
// runtime: bind mount sources and device nodes.
package hostpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotDevice is returned by CheckDevice for paths that are neither a
// device node nor a directory of device nodes.
var ErrNotDevice = errors.New("not a device node")

// DeniedPaths are never bind mounted, even when listed as extra mounts
var DeniedPaths = []string{
	"~/.gnupg",
	"~/.ssh",
	"~/.netrc",
	"~/.docker/config.json",
	"~/.kube/config",
	"~/.aws",
}

// ExpandPath expands ~ to the user's home directory and makes the path
// absolute relative to base (the current directory when base is empty).
func ExpandPath(path, base string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	var home string
	if path == "~" || strings.HasPrefix(path, "~/") {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		home = h
	}

	if base == "" && !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		base = cwd
	}

	return Resolve(path, base, home), nil
}

// Resolve is the pure form of ExpandPath: ~ is replaced by home and relative
// paths are joined onto base. It performs no I/O.
func Resolve(path, base, home string) string {
	if path == "" {
		return ""
	}
	if home != "" && (path == "~" || strings.HasPrefix(path, "~/")) {
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	if !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// CheckReadable reports whether path exists and the invoking user may read it.
// The returned error satisfies errors.Is(err, fs.ErrNotExist) for missing paths.
func CheckReadable(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return &fs.PathError{Op: "access", Path: path, Err: err}
	}
	return nil
}

// CheckDevice reports whether path is present on the host and usable as a
// device passthrough source. Directories such as /dev/dri are accepted since
// the runtime passes through every node below them.
func CheckDevice(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode()&fs.ModeDevice != 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", path, ErrNotDevice)
}

// CheckDenied returns an error when path is, or lives under, a denied path.
// Without a home directory there is nothing to deny.
func CheckDenied(path string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	for _, denied := range DeniedPaths {
		if IsPathInDirectory(path, expandTilde(denied, home)) {
			return fmt.Errorf("path is in denied list: %s", denied)
		}
	}
	return nil
}

// IsPathInDirectory checks if path is equal to or a child of directory
func IsPathInDirectory(path, directory string) bool {
	if path == directory {
		return true
	}

	rel, err := filepath.Rel(directory, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func expandTilde(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
