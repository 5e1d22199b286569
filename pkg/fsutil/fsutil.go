package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OwnerConfig holds parsed UID/GID for file ownership.
type OwnerConfig struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID" string. Returns nil if empty.
func ParseOwner(owner string) (*OwnerConfig, error) {
	if owner == "" {
		return nil, nil
	}

	parts := strings.Split(owner, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	uid, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", parts[0], err)
	}

	gid, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", parts[1], err)
	}

	return &OwnerConfig{UID: uid, GID: gid}, nil
}

// Chown sets ownership if owner is not nil. Best-effort, ignores errors.
func Chown(path string, owner *OwnerConfig) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// MkdirAll creates directory and sets ownership.
func MkdirAll(path string, perm os.FileMode, owner *OwnerConfig) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// TempSibling returns a unique, not yet existing path next to path. Files
// staged there can be moved into place with Publish.
func TempSibling(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	name := f.Name()

	if err := f.Close(); err != nil {
		return "", err
	}

	if err := os.Remove(name); err != nil {
		return "", err
	}

	return name, nil
}

// Publish renames a staged file onto path and sets ownership. Readers of
// path see either the previous content or the complete new one.
func Publish(staged, path string, perm os.FileMode, owner *OwnerConfig) error {
	if err := os.Chmod(staged, perm); err != nil {
		_ = os.Remove(staged)

		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)

		return fmt.Errorf("renaming into place: %w", err)
	}

	Chown(path, owner)

	return nil
}

// WriteFile writes data to a temp file next to path, renames it into place
// and sets ownership.
func WriteFile(path string, data []byte, perm os.FileMode, owner *OwnerConfig) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	staged := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(staged)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(staged)

		return fmt.Errorf("closing temp file: %w", err)
	}

	return Publish(staged, path, perm, owner)
}
