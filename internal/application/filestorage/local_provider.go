package filestorage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/latticerun/dispatcher/pkg/models"
)

// LocalProvider is the default backend: files live under a configured base
// directory, addressed by storagePath/fileName beneath it.
type LocalProvider struct {
	basePath string
}

// NewLocalProvider returns a LocalProvider rooted at basePath, creating it
// if necessary.
func NewLocalProvider(basePath string) (*LocalProvider, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage base path %s: %w", basePath, err)
	}
	return &LocalProvider{basePath: basePath}, nil
}

func (p *LocalProvider) Type() string { return "local" }

func (p *LocalProvider) resolve(storagePath, fileName string) (string, error) {
	full := filepath.Join(p.basePath, filepath.Clean("/"+storagePath), filepath.Base(fileName))
	if rel, err := filepath.Rel(p.basePath, full); err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return "", fmt.Errorf("resolve storage path: escapes base directory")
	}
	return full, nil
}

func (p *LocalProvider) Store(ctx context.Context, storagePath, fileName string, r io.Reader) (string, error) {
	full, err := p.resolve(storagePath, fileName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("write blob file: %w", err)
	}
	return full, nil
}

func (p *LocalProvider) Get(ctx context.Context, storagePath, fileName string) (io.ReadCloser, error) {
	full, err := p.resolve(storagePath, fileName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrBlobNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return f, nil
}

func (p *LocalProvider) Delete(ctx context.Context, storagePath, fileName string) error {
	full, err := p.resolve(storagePath, fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

func (p *LocalProvider) Exists(ctx context.Context, storagePath, fileName string) (bool, error) {
	full, err := p.resolve(storagePath, fileName)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob file: %w", err)
}

func (p *LocalProvider) Close() error { return nil }
