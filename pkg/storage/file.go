package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// FileProvider stores each session snapshot as <dir>/<key>_auth_state.json.
type FileProvider struct {
	dir string
}

func configuredFile() *FileProvider {
	dir := lflag.String("storage-dir", "/data", "Directory for file based session state")

	f := &FileProvider{}
	lflag.Do(func() {
		f.dir = *dir
	})
	return f
}

// NewFileProvider returns a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// Validate ensures the directory exists, creating it if needed.
func (f *FileProvider) Validate() error {
	if f.dir == "" {
		return errors.New("storage-dir is required")
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	return nil
}

func (f *FileProvider) path(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid session key: %q", key)
	}
	return filepath.Join(f.dir, key+"_auth_state.json"), nil
}

// GetSessionState reads the snapshot file for key.
func (f *FileProvider) GetSessionState(ctx context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	return b, nil
}

// SetSessionState writes the snapshot through a temp file and rename so a
// crash never leaves a half written file behind.
func (f *FileProvider) SetSessionState(ctx context.Context, key string, state []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(state); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session state: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to replace session state: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *FileProvider) Close() error {
	return nil
}
