package crypto

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func TestCommitmentDeterministic(t *testing.T) {
	nullifier := RandomFieldElement()
	secret := RandomFieldElement()
	amount := uint64(1_000_000_000)

	c1, err := Commitment(nullifier, secret, amount)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	c2, err := Commitment(nullifier, secret, amount)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if c1 != c2 {
		t.Fatal("commitment not deterministic")
	}

	// Any single-field change yields a different commitment
	otherSecret := RandomFieldElement()
	c3, err := Commitment(nullifier, otherSecret, amount)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if c3 == c1 {
		t.Fatal("different secret produced the same commitment")
	}

	c4, err := Commitment(nullifier, secret, amount+1)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if c4 == c1 {
		t.Fatal("different amount produced the same commitment")
	}
}

func TestCommitmentRejectsZero(t *testing.T) {
	var zero [32]byte
	nonZero := RandomFieldElement()

	if _, err := Commitment(zero, nonZero, 1); err == nil {
		t.Error("zero nullifier accepted")
	}
	if _, err := Commitment(nonZero, zero, 1); err == nil {
		t.Error("zero secret accepted")
	}
	if _, err := Commitment(nonZero, nonZero, 0); err == nil {
		t.Error("zero amount accepted")
	}
}

func TestNullifierHash(t *testing.T) {
	nullifier := RandomFieldElement()

	h1, err := NullifierHash(nullifier)
	if err != nil {
		t.Fatalf("NullifierHash failed: %v", err)
	}
	h2, err := NullifierHash(nullifier)
	if err != nil {
		t.Fatalf("NullifierHash failed: %v", err)
	}
	if h1 != h2 {
		t.Fatal("nullifier hash not deterministic")
	}

	var zero [32]byte
	if _, err := NullifierHash(zero); err == nil {
		t.Error("zero nullifier accepted")
	}
}

func TestDomainSeparation(t *testing.T) {
	input := RandomFieldElement()

	a := PoseidonWithDomain(DomainCommit, input)
	b := PoseidonWithDomain(DomainNullifier, input)
	if a == b {
		t.Fatal("different domains produced the same hash")
	}
}

func TestPoseidonReducesInputs(t *testing.T) {
	// An over-field input must hash identically to its reduced form:
	// fr.Element.SetBytes performs the modular reduction.
	var big [32]byte
	for i := range big {
		big[i] = 0xFF
	}

	h := Poseidon(big)
	if h == [32]byte{} {
		t.Fatal("hash of reduced input is zero")
	}

	var reduced fr.Element
	reduced.SetBytes(big[:])
	if h != Poseidon(reduced.Bytes()) {
		t.Fatal("over-field input hashed differently from its reduced form")
	}
}

func TestOwnershipBindingHash(t *testing.T) {
	nullifier := RandomFieldElement()

	h1, err := OwnershipBindingHash(nullifier, 42)
	if err != nil {
		t.Fatalf("OwnershipBindingHash failed: %v", err)
	}
	h2, err := OwnershipBindingHash(nullifier, 43)
	if err != nil {
		t.Fatalf("OwnershipBindingHash failed: %v", err)
	}
	if h1 == h2 {
		t.Fatal("different pending IDs produced the same binding hash")
	}
}

func TestRandomFieldElement(t *testing.T) {
	for i := 0; i < 64; i++ {
		elem := RandomFieldElement()
		if elem[0]&0xE0 != 0 {
			t.Fatal("top three bits not cleared")
		}
		if err := ValidateNonZero(elem); err != nil {
			t.Fatal("random element is zero")
		}
	}
}
