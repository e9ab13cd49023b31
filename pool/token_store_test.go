package pool

import (
	"os"
	"path/filepath"
	"testing"
)

func tokenHash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	h[31] = b ^ 0xFF
	return h
}

func TestTokenStoreInsertAndContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "used_tokens.dat")
	ts := NewTokenStore(path)

	h := tokenHash(1)
	if ts.Contains(h) {
		t.Fatal("empty store contains a hash")
	}
	if err := ts.Insert(h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !ts.Contains(h) {
		t.Fatal("inserted hash not found")
	}
}

func TestTokenStoreIdempotentInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "used_tokens.dat")
	ts := NewTokenStore(path)

	h := tokenHash(7)
	if err := ts.Insert(h); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ts.Insert(h); err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}
	if ts.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ts.Len())
	}
}

func TestTokenStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "used_tokens.dat")

	ts := NewTokenStore(path)
	if err := ts.Insert(tokenHash(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ts.Insert(tokenHash(2)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	reloaded := NewTokenStore(path)
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len = %d, want 2", reloaded.Len())
	}
	if !reloaded.Contains(tokenHash(1)) || !reloaded.Contains(tokenHash(2)) {
		t.Fatal("reloaded store missing hashes")
	}
}

func TestTokenStoreCorruptionDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "used_tokens.dat")

	ts := NewTokenStore(path)
	if err := ts.Insert(tokenHash(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Flip one byte in the data file; the checksum no longer matches.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	data[0] ^= 0x01
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write store: %v", err)
	}

	reloaded := NewTokenStore(path)
	if reloaded.Len() != 0 {
		t.Fatalf("corrupt store loaded: Len = %d, want 0", reloaded.Len())
	}
	if reloaded.Contains(tokenHash(1)) {
		t.Fatal("corrupt store trusted")
	}
}

func TestTokenStoreChecksumOrderIndependent(t *testing.T) {
	a := map[[32]byte]struct{}{tokenHash(1): {}, tokenHash(2): {}}
	b := map[[32]byte]struct{}{tokenHash(2): {}, tokenHash(1): {}}
	if computeChecksum(a) != computeChecksum(b) {
		t.Fatal("checksum depends on iteration order")
	}
}

func TestTokenStoreMissingChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "used_tokens.dat")

	ts := NewTokenStore(path)
	if err := ts.Insert(tokenHash(3)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Unverifiable data is never trusted: without the sidecar the
	// store starts empty.
	checksumPath := filepath.Join(filepath.Dir(path), "used_tokens.checksum")
	if err := os.Remove(checksumPath); err != nil {
		t.Fatalf("remove checksum: %v", err)
	}

	reloaded := NewTokenStore(path)
	if reloaded.Contains(tokenHash(3)) {
		t.Fatal("store without checksum trusted")
	}
}
