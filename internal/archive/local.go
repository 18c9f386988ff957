package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local archives raw messages as .eml files in a directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed and archives into it.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = "archive"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("archive: invalid id %q", id)
	}
	return filepath.Join(l.dir, objectName(id)), nil
}

// Put writes raw through a temp file and a rename so readers never see a
// partial message.
func (l *Local) Put(_ context.Context, id string, raw []byte) error {
	final, err := l.path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.dir, ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("archive: rename temp file: %w", err)
	}
	return nil
}

// Get reads the archived message for id.
func (l *Local) Get(_ context.Context, id string) ([]byte, error) {
	p, err := l.path(id)
	if err != nil {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: read file: %w", err)
	}
	return raw, nil
}
