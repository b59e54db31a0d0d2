// Package blob stores opaque binary payloads (photos, signature strokes) and
// hands back references. The engine never interprets blob contents; file
// storage mechanics stay behind this boundary.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store puts and gets opaque payloads by reference.
type Store interface {
	Put(kind string, data []byte) (string, error)
	Get(ref string) ([]byte, error)
}

var ErrNotFound = errors.New("blob not found")

// FSStore keeps blobs under <root>/<kind>/<digest>, content-addressed so
// duplicate uploads collapse to one file.
type FSStore struct {
	Root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{Root: root}, nil
}

func (s *FSStore) Put(kind string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty payload")
	}
	kind = sanitizeKind(kind)
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	dir := filepath.Join(s.Root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, digest)
	if _, err := os.Stat(path); err == nil {
		return kind + "/" + digest, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return kind + "/" + digest, nil
}

func (s *FSStore) Get(ref string) ([]byte, error) {
	kind, digest, ok := strings.Cut(ref, "/")
	if !ok {
		return nil, fmt.Errorf("invalid blob ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(s.Root, sanitizeKind(kind), filepath.Base(digest)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func sanitizeKind(kind string) string {
	kind = filepath.Base(strings.TrimSpace(kind))
	if kind == "" || kind == "." {
		return "misc"
	}
	return kind
}
