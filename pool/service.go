// Package pool owns the relayer-side state of the deposit pools: the
// per-denomination commitment trees, the redeemed-token store, the
// historical root cache, and the pending-withdrawal store.
package pool

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/merkle"
)

// ErrNotInitialised is returned for operations on a bucket before
// Init.
var ErrNotInitialised = errors.New("pool not initialised")

// treeState is the on-disk form of a bucket's commitment list.
type treeState struct {
	Commitments []string `json:"commitments"`
	Checksum    string   `json:"checksum"`
}

// stateChecksum seals a commitment list:
// SHA256("merkle_tree_state_v1:" || u64_le(len) || commitments...).
func stateChecksum(commitments [][32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("merkle_tree_state_v1:"))

	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(len(commitments)))
	h.Write(count[:])

	for _, c := range commitments {
		h.Write(c[:])
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Service manages the commitment tree for every bucket with
// checksum-sealed persistence. Reads run concurrently; Insert and
// SyncFromChain are exclusive, and disk writes happen after the lock
// is released so readers are never blocked on I/O.
type Service struct {
	mu          sync.RWMutex
	trees       map[uint8]*merkle.Tree
	commitments map[uint8][][32]byte

	stateDir string
}

// NewService creates the service, creating the state directory if
// needed.
func NewService(stateDir string) *Service {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Warnf("Failed to create merkle state directory: %v", err)
	}
	return &Service{
		trees:       make(map[uint8]*merkle.Tree),
		commitments: make(map[uint8][][32]byte),
		stateDir:    stateDir,
	}
}

func (s *Service) statePath(bucket uint8) string {
	return filepath.Join(s.stateDir, fmt.Sprintf("bucket_%d.json", bucket))
}

// Init restores the bucket's tree from disk, or starts it empty. A
// checksum mismatch discards the file and starts empty.
func (s *Service) Init(bucket uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[bucket]; ok {
		return nil
	}

	tree, err := merkle.New(merkle.Depth)
	if err != nil {
		return err
	}

	saved := s.loadState(bucket)
	for _, c := range saved {
		if _, err := tree.Insert(c); err != nil {
			return fmt.Errorf("restore bucket %d: %w", bucket, err)
		}
	}

	s.trees[bucket] = tree
	s.commitments[bucket] = saved
	if len(saved) > 0 {
		log.Infof("Restored merkle tree for bucket %d from disk (%d commitments)", bucket, len(saved))
	} else {
		log.Infof("Initialized new merkle tree for bucket %d", bucket)
	}
	return nil
}

// loadState reads and verifies the persisted commitment list,
// returning nil when missing or corrupt.
func (s *Service) loadState(bucket uint8) [][32]byte {
	data, err := os.ReadFile(s.statePath(bucket))
	if err != nil {
		return nil
	}

	var state treeState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Errorf("Failed to parse state for bucket %d: %v", bucket, err)
		return nil
	}

	commitments := make([][32]byte, 0, len(state.Commitments))
	for _, hexStr := range state.Commitments {
		raw, err := hex.DecodeString(hexStr)
		if err != nil || len(raw) != 32 {
			log.Errorf("Invalid commitment in state for bucket %d", bucket)
			return nil
		}
		var c [32]byte
		copy(c[:], raw)
		commitments = append(commitments, c)
	}

	stored, err := hex.DecodeString(state.Checksum)
	if err != nil || len(stored) != 32 {
		log.Errorf("Invalid checksum in state for bucket %d", bucket)
		return nil
	}
	computed := stateChecksum(commitments)
	if [32]byte(stored) != computed {
		log.Errorf("Checksum mismatch for bucket %d - data corrupted, starting empty", bucket)
		return nil
	}

	log.Infof("Loaded %d commitments for bucket %d (verified)", len(commitments), bucket)
	return commitments
}

// saveState writes the commitment list atomically: temp file, then
// rename over the target.
func (s *Service) saveState(bucket uint8, commitments [][32]byte) error {
	checksum := stateChecksum(commitments)
	state := treeState{
		Commitments: make([]string, len(commitments)),
		Checksum:    hex.EncodeToString(checksum[:]),
	}
	for i, c := range commitments {
		state.Commitments[i] = hex.EncodeToString(c[:])
	}

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	path := s.statePath(bucket)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Insert appends a commitment, persists the new state, and returns the
// zero-based leaf index.
func (s *Service) Insert(bucket uint8, commitment [32]byte) (uint64, error) {
	s.mu.Lock()
	tree, ok := s.trees[bucket]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotInitialised
	}

	index, err := tree.Insert(commitment)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.commitments[bucket] = append(s.commitments[bucket], commitment)
	snapshot := append([][32]byte(nil), s.commitments[bucket]...)
	s.mu.Unlock()

	if err := s.saveState(bucket, snapshot); err != nil {
		log.Errorf("Failed to persist state for bucket %d: %v", bucket, err)
	}

	log.Infof("Inserted commitment at index %d in bucket %d", index, bucket)
	return index, nil
}

// Root returns the bucket's current merkle root.
func (s *Service) Root(bucket uint8) ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.trees[bucket]
	if !ok {
		return [32]byte{}, ErrNotInitialised
	}
	return tree.Root(), nil
}

// Size returns the number of commitments in the bucket's tree.
func (s *Service) Size(bucket uint8) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.trees[bucket]
	if !ok {
		return 0, ErrNotInitialised
	}
	return tree.Len(), nil
}

// Proof builds the merkle path for a leaf.
func (s *Service) Proof(bucket uint8, leafIndex uint64) (*merkle.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.trees[bucket]
	if !ok {
		return nil, ErrNotInitialised
	}
	return tree.Proof(leafIndex)
}

// Commitment returns the stored commitment at a leaf index.
func (s *Service) Commitment(bucket uint8, leafIndex uint64) ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commitments, ok := s.commitments[bucket]
	if !ok {
		return [32]byte{}, ErrNotInitialised
	}
	if leafIndex >= uint64(len(commitments)) {
		return [32]byte{}, merkle.ErrInvalidPosition
	}
	return commitments[leafIndex], nil
}

// Commitments returns a copy of the bucket's ordered commitment list.
func (s *Service) Commitments(bucket uint8) ([][32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	commitments, ok := s.commitments[bucket]
	if !ok {
		return nil, ErrNotInitialised
	}
	return append([][32]byte(nil), commitments...), nil
}

// Verify checks a merkle path against a root.
func (s *Service) Verify(root, leaf [32]byte, proof *merkle.Proof) bool {
	return merkle.Verify(root, leaf, proof)
}

// SyncFromChain rebuilds the bucket's tree from the given ordered
// on-chain commitment list and persists it.
func (s *Service) SyncFromChain(bucket uint8, onChain [][32]byte) error {
	s.mu.Lock()

	current, ok := s.trees[bucket]
	if ok && current.Len() == uint64(len(onChain)) {
		inSync := true
		for i, c := range s.commitments[bucket] {
			if c != onChain[i] {
				inSync = false
				break
			}
		}
		if inSync {
			s.mu.Unlock()
			log.Infof("Bucket %d already in sync (%d commitments)", bucket, len(onChain))
			return nil
		}
	}

	tree, err := merkle.New(merkle.Depth)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, c := range onChain {
		if _, err := tree.Insert(c); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("rebuild bucket %d: %w", bucket, err)
		}
	}

	s.trees[bucket] = tree
	s.commitments[bucket] = append([][32]byte(nil), onChain...)
	snapshot := append([][32]byte(nil), onChain...)
	s.mu.Unlock()

	if err := s.saveState(bucket, snapshot); err != nil {
		return err
	}
	log.Infof("Synced bucket %d from chain: %d commitments", bucket, len(onChain))
	return nil
}
