// Package avatars stores profile pictures on local disk. Files are served
// read-only under URLPrefix.
package avatars

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// URLPrefix is the path the avatar directory is served under.
const URLPrefix = "/avatars/"

// DefaultMaxBytes bounds the size of an uploaded picture.
const DefaultMaxBytes = 2 << 20

var (
	ErrTooLarge        = errors.New("avatar is too large")
	ErrUnsupportedType = errors.New("avatar must be a PNG, JPEG, GIF or WebP image")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewStore creates dir if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes the picture read from r and returns its public URL. The file
// type is detected from the content, not from the uploaded name.
func (s *Store) Save(userID string, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read avatar: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", ErrUnsupportedType
	}

	name := fmt.Sprintf("%s-%d%s", userID, s.now().UnixMilli(), ext)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create avatar file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	return URLPrefix + name, nil
}

// Remove deletes the file behind url. URLs that do not point into the store
// and files that are already gone are ignored.
func (s *Store) Remove(url string) error {
	_, name, ok := strings.Cut(url, URLPrefix)
	if !ok || name == "" || name != filepath.Base(name) {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove avatar: %w", err)
	}
	return nil
}
