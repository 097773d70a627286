// Package cache is a local keyed store for raw upstream activity payloads.
//
// There is no TTL inside the cache; callers decide staleness and invalidate.
// One file per (kind, key) so a cold restart still benefits from a warm cache.
package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Kind partitions the key space by entity type.
type Kind string

const (
	KindUser    Kind = "user"
	KindHashtag Kind = "hashtag"
)

type Cache struct {
	root string
}

func New(root string) (*Cache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Cache{root: root}, nil
}

// Get returns the payload for (kind, key), reporting a miss for any read
// problem rather than failing the caller.
func (c *Cache) Get(kind Kind, key string) ([]byte, bool) {
	b, err := os.ReadFile(c.path(kind, key))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Put writes the payload via a temp file and rename so concurrent readers see
// either the old or the new content, never a partial write.
func (c *Cache) Put(kind Kind, key string, payload []byte) error {
	path := c.path(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *Cache) Invalidate(kind Kind, key string) error {
	err := os.Remove(c.path(kind, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// InvalidateAll drops every entry of the given kind.
func (c *Cache) InvalidateAll(kind Kind) error {
	err := os.RemoveAll(filepath.Join(c.root, string(kind)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Cache) path(kind Kind, key string) string {
	return filepath.Join(c.root, string(kind), sanitizeKey(key)+".json")
}

// sanitizeKey keeps keys filesystem-safe; anything outside a conservative
// charset becomes '_'.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
