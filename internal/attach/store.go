package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is the content-store boundary. Save returns a storage-relative path;
// the engine treats it as opaque, distinguishable from a URL only by the
// absence of a scheme prefix.
type Store interface {
	Save(data []byte, originalName string) (string, error)
	Delete(path string) error
}

// DiskStore keeps uploaded bytes under a root directory.
type DiskStore struct {
	Root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{Root: root}, nil
}

func (s *DiskStore) Save(data []byte, originalName string) (string, error) {
	ext := sanitizeExt(filepath.Ext(originalName))
	rel := filepath.Join("uploads", uuid.New().String()+ext)
	full := filepath.Join(s.Root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (s *DiskStore) Delete(path string) error {
	rel := filepath.Clean(filepath.FromSlash(path))
	if rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("invalid storage path %q", path)
	}
	if err := os.Remove(filepath.Join(s.Root, rel)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func sanitizeExt(ext string) string {
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		return ""
	}
	return strings.ToLower(ext)
}
