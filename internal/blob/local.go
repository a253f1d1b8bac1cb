package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps blobs on the local filesystem under a single root
// directory, one subdirectory per upload so filenames never collide.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Upload(ctx context.Context, data []byte, filename, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := sanitizeFilename(filename)
	pathname := filepath.ToSlash(filepath.Join(uuid.NewString(), name))

	dest := filepath.Join(s.root, filepath.FromSlash(pathname))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	return &Object{
		URL:         "/blobs/" + pathname,
		Pathname:    pathname,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *LocalStore) Open(ctx context.Context, pathname string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(filepath.FromSlash(pathname))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid blob pathname: %s", pathname)
	}

	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", pathname, err)
	}
	return data, nil
}

func sanitizeFilename(filename string) string {
	name := filepath.Base(filepath.FromSlash(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	return name
}
