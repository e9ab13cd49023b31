package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestParsePubkeyRoundTrip(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	encoded := kp.Pubkey().String()
	parsed, err := ParsePubkey(encoded)
	if err != nil {
		t.Fatalf("ParsePubkey failed: %v", err)
	}
	if parsed != kp.Pubkey() {
		t.Fatal("base58 round trip mismatch")
	}
}

func TestParsePubkeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePubkey("not-base58-0OIl"); err == nil {
		t.Error("garbage address accepted")
	}
	if _, err := ParsePubkey(""); err == nil {
		t.Error("empty address accepted")
	}
}

func TestRealKeysAreOnCurve(t *testing.T) {
	// Every ed25519 public key must pass the on-curve check; otherwise
	// PDA derivation could collide with a signable address.
	for i := 0; i < 16; i++ {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
		var pk Pubkey
		copy(pk[:], pub)
		if !isOnCurve(pk) {
			t.Fatalf("generated key %s reported off-curve", pk)
		}
	}
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	program := Pubkey{1, 2, 3}
	seeds := [][]byte{[]byte("pool"), {3}}

	pda1, bump1, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	pda2, bump2, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}

	if pda1 != pda2 || bump1 != bump2 {
		t.Fatal("PDA derivation not deterministic")
	}
	if isOnCurve(pda1) {
		t.Fatal("derived address lies on the curve")
	}
}

func TestFindProgramAddressSeedSensitivity(t *testing.T) {
	program := Pubkey{1}

	a, _, err := FindProgramAddress([][]byte{[]byte("pool"), {0}}, program)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	b, _, err := FindProgramAddress([][]byte{[]byte("pool"), {1}}, program)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	if a == b {
		t.Fatal("different seeds derived the same address")
	}
}
