package build

import (
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// HashProvider computes content hashes for files, caching them by path,
// modification time and size so unchanged files are not read again.
type HashProvider struct {
	crcTable *crc32.Table
	mu       sync.RWMutex
	cache    map[string]string
}

// NewHashProvider creates a provider with an empty cache.
func NewHashProvider() *HashProvider {
	return &HashProvider{
		crcTable: crc32.MakeTable(crc32.Castagnoli),
		cache:    make(map[string]string),
	}
}

// FileHash returns the CRC32 Castagnoli hash of the file at path as eight
// hex digits.
func (hp *HashProvider) FileHash(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	metadataKey := fmt.Sprintf("%s:%d:%d", path, stat.ModTime().UnixNano(), stat.Size())

	hp.mu.RLock()
	hash, ok := hp.cache[metadataKey]
	hp.mu.RUnlock()
	if ok {
		return hash, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash = fmt.Sprintf("%08x", crc32.Checksum(content, hp.crcTable))

	hp.mu.Lock()
	hp.cache[metadataKey] = hash
	hp.mu.Unlock()
	return hash, nil
}

// HashDir hashes every regular file below dir, keyed by slash separated
// path relative to dir.
func (hp *HashProvider) HashDir(dir string) (map[string]string, error) {
	hashes := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		hash, err := hp.FileHash(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hashes[filepath.ToSlash(rel)] = hash
		return nil
	})
	return hashes, err
}

// CacheSize returns the number of cached hashes.
func (hp *HashProvider) CacheSize() int {
	hp.mu.RLock()
	defer hp.mu.RUnlock()
	return len(hp.cache)
}
