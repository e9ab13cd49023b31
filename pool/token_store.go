package pool

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TokenStore is the persistent set of redeemed token hashes. It
// prevents double-spend of credits across restarts and seals its
// on-disk state with a checksum so corrupted data is never trusted.
type TokenStore struct {
	mu    sync.RWMutex
	cache map[[32]byte]struct{}

	path         string
	checksumPath string
}

// NewTokenStore loads the store from disk. A missing file starts the
// store empty; a checksum mismatch discards the file and starts empty.
func NewTokenStore(path string) *TokenStore {
	ts := &TokenStore{
		cache:        make(map[[32]byte]struct{}),
		path:         path,
		checksumPath: strings.TrimSuffix(path, ".dat") + ".checksum",
	}
	ts.load()
	return ts
}

// computeChecksum hashes the sorted token hashes so the checksum is
// independent of insertion order.
func computeChecksum(tokens map[[32]byte]struct{}) [32]byte {
	sorted := make([][32]byte, 0, len(tokens))
	for t := range tokens {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	h := sha256.New()
	for _, t := range sorted {
		h.Write(t[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (ts *TokenStore) load() {
	data, err := os.ReadFile(ts.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to load token store: %v, starting fresh", err)
		}
		return
	}

	set := make(map[[32]byte]struct{})
	for len(data) >= 32 {
		var hash [32]byte
		copy(hash[:], data[:32])
		set[hash] = struct{}{}
		data = data[32:]
	}

	stored, err := os.ReadFile(ts.checksumPath)
	if err != nil {
		log.Warn("Token store checksum missing, starting with empty store for safety")
		return
	}
	if len(stored) != 32 || [32]byte(stored) != computeChecksum(set) {
		log.Warn("Token store checksum mismatch! File may be corrupted.")
		log.Warn("Starting with empty store for safety.")
		return
	}

	ts.cache = set
	log.Infof("Loaded %d used tokens from disk (checksum verified)", len(set))
}

// Contains reports whether a token hash has been redeemed.
func (ts *TokenStore) Contains(hash [32]byte) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	_, exists := ts.cache[hash]
	return exists
}

// Len returns the number of redeemed tokens.
func (ts *TokenStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.cache)
}

// Insert marks a token hash as redeemed and persists the whole set
// atomically: temp file, fsync, checksum, rename. The write lock is
// held across the disk write to bound the window for concurrent
// double-spend attempts.
func (ts *TokenStore) Insert(hash [32]byte) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.cache[hash]; exists {
		return nil
	}
	ts.cache[hash] = struct{}{}

	checksum := computeChecksum(ts.cache)
	tmp := ts.path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp token store: %w", err)
	}
	for token := range ts.cache {
		if _, err := file.Write(token[:]); err != nil {
			file.Close()
			return fmt.Errorf("write token: %w", err)
		}
	}
	// fsync before rename: after a crash either both files reflect the
	// new state or both the old.
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync token store: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close token store: %w", err)
	}

	if err := os.WriteFile(ts.checksumPath, checksum[:], 0644); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	if err := os.Rename(tmp, ts.path); err != nil {
		return fmt.Errorf("rename token store: %w", err)
	}
	return nil
}
