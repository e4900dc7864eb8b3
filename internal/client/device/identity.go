// Package device manages the per-installation device identity. The UUID is
// generated once, persisted with restrictive permissions, and survives app
// updates; only a fresh install (absent file) regenerates it. It attributes
// events to a device for multi-device conflict resolution and is never used
// for authentication.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const identityFile = "device_id"

// Identity is the installation's stable identifier.
type Identity struct {
	UUID string
}

// Load reads the device identity from dir, creating it on first run.
func Load(dir string) (*Identity, error) {
	path := filepath.Join(dir, identityFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr != nil {
			return nil, fmt.Errorf("corrupt device identity at %s: %w", path, parseErr)
		}
		return &Identity{UUID: id}, nil
	case errors.Is(err, fs.ErrNotExist):
		return generate(dir, path)
	default:
		return nil, fmt.Errorf("failed to read device identity: %w", err)
	}
}

func generate(dir, path string) (*Identity, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity dir: %w", err)
	}
	id := uuid.NewString()

	// Write-then-rename so a crash mid-write never leaves a torn identity
	// file that would split this install into two devices.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write device identity: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to persist device identity: %w", err)
	}
	return &Identity{UUID: id}, nil
}
