package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"storyforge/internal/domain"
)

// FileStore persists generated assets onto the local filesystem and serves
// them back under a public base URL. It stands in for an object store in
// development and test environments.
type FileStore struct {
	basePath  string
	publicURL string
}

// NewFileStore initializes a FileStore rooted at basePath. publicURL is the
// externally reachable prefix assets are addressed under.
func NewFileStore(basePath, publicURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// URL maps a storage key to its public URL.
func (s *FileStore) URL(key string) string {
	clean, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	return s.publicURL + "/" + clean
}

// Key maps a public URL back to its storage key. The second return is false
// for URLs this store did not mint.
func (s *FileStore) Key(url string) (string, bool) {
	if s == nil || s.publicURL == "" {
		return "", false
	}
	if !strings.HasPrefix(url, s.publicURL+"/") {
		return "", false
	}
	key, err := sanitizeKey(strings.TrimPrefix(url, s.publicURL+"/"))
	if err != nil {
		return "", false
	}
	return key, true
}

// Write persists the provided bytes at the given relative key and returns
// the canonicalized storage key. Writing the same key twice overwrites, which
// makes retries of per-scene work idempotent. Keys are cleaned to prevent
// directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", domain.NewError(domain.KindStorageUnavailable, "no store configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", domain.NewError(domain.KindStorageUnavailable, "ensure directory", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", domain.NewError(domain.KindStorageUnavailable, "write file", err)
	}
	return cleanKey, nil
}

// Read returns the bytes stored at key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, domain.NewError(domain.KindStorageUnavailable, "no store configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewError(domain.KindStorageUnavailable, "read file", err)
	}
	return data, nil
}

// RemoveAll deletes every object under the given key prefix. Used to clear a
// job's scratch assets on terminal transition.
func (s *FileStore) RemoveAll(prefix string) error {
	if s == nil {
		return nil
	}
	cleanPrefix, err := sanitizeKey(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.basePath, filepath.FromSlash(cleanPrefix)))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
