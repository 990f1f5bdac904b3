//go:build windows

package config

import (
	"fmt"
	"os"
)

// openConfigFile opens the config file on Windows.
// Windows has no O_NOFOLLOW; symlinks are rejected from Lstat instead.
func openConfigFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op.
// Windows uses ACLs; mode bits do not describe who can write the file.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
