// Package blobstore persists meal photos outside the database row.
// Photos are copied into one directory with a temp file, fsync and rename,
// so a crash never leaves a half-written photo under its final name.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideStore is returned for paths that do not belong to the store.
var ErrOutsideStore = errors.New("path is outside the photo store")

// Store manages persisted meal photos.
type Store struct {
	dir string
}

// New creates the photo store, creating dir if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve photo dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create photo dir %s: %w", abs, err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute photo directory.
func (s *Store) Dir() string {
	return s.dir
}

// Persist copies the photo at sourceURI into the store under a name derived
// from mealID and returns the stored path. sourceURI may be a plain path or
// a file:// URI.
func (s *Store) Persist(ctx context.Context, sourceURI, mealID string) (string, error) {
	source, err := LocalPath(sourceURI)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("open photo %s: %w", source, err)
	}
	defer in.Close()

	fullPath := filepath.Join(s.dir, storageName(mealID, source))
	tmpPath := fullPath + ".tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp photo: %w", err)
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("copy photo: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync photo: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename photo: %w", err)
	}
	return fullPath, nil
}

// Open opens a stored photo for reading. The caller closes it.
func (s *Store) Open(uri string) (*os.File, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open photo %s: %w", path, err)
	}
	return f, nil
}

// ReadAll returns the bytes of a stored photo.
func (s *Store) ReadAll(uri string) ([]byte, error) {
	f, err := s.Open(uri)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete removes a stored photo. A photo that is already gone is not an error.
func (s *Store) Delete(uri string) error {
	path, err := s.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete photo %s: %w", path, err)
	}
	return nil
}

// Detach moves a stored photo aside under a hidden name and returns that
// name, so it can be deleted for good or put back with Reattach. It returns
// "" when the photo is already gone.
func (s *Store) Detach(uri string) (string, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return "", err
	}
	detached := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".deleting")
	if err := os.Rename(path, detached); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("detach photo %s: %w", path, err)
	}
	return detached, nil
}

// Reattach moves a photo detached with Detach back to uri.
func (s *Store) Reattach(detached, uri string) error {
	from, err := s.resolve(detached)
	if err != nil {
		return err
	}
	to, err := s.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("reattach photo %s: %w", to, err)
	}
	return nil
}

// Exists reports whether the photo is present.
func (s *Store) Exists(uri string) bool {
	path, err := s.resolve(uri)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *Store) resolve(uri string) (string, error) {
	path, err := LocalPath(uri)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, uri)
	}
	return abs, nil
}

// LocalPath converts a plain path or file:// URI to a filesystem path.
func LocalPath(uri string) (string, error) {
	if strings.TrimSpace(uri) == "" {
		return "", fmt.Errorf("photo uri is required")
	}
	if !strings.Contains(uri, "://") {
		return filepath.Clean(uri), nil
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse photo uri %s: %w", uri, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("unsupported photo uri scheme %q", parsed.Scheme)
	}
	return filepath.FromSlash(parsed.Path), nil
}

// storageName builds meal-<id><ext>. Only characters safe in a file name
// survive from the meal id.
func storageName(mealID, source string) string {
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		ext = ".jpg"
	}
	return "meal-" + sanitize(mealID) + ext
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
