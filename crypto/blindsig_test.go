package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// testSigner generates a small key to keep the tests fast.
func testSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(1024)
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}
	return signer
}

func TestBlindSignatureFlow(t *testing.T) {
	signer := testSigner(t)

	// User creates a token and blinds it
	tokenID := bytes.Repeat([]byte{42}, 32)
	blinded, factor, err := Blind(tokenID, signer.PublicN(), signer.PublicE())
	if err != nil {
		t.Fatalf("Blind failed: %v", err)
	}

	// Relayer signs the blinded token (cannot see token_id)
	blindedSig, err := signer.SignBlinded(blinded)
	if err != nil {
		t.Fatalf("SignBlinded failed: %v", err)
	}

	// User unblinds the signature
	signature := Unblind(blindedSig, factor, signer.PublicN())

	// Signature is valid for the original token
	if !signer.Verify(tokenID, signature) {
		t.Fatal("Unblinded signature did not verify")
	}
	if !VerifySignature(tokenID, signature, signer.PublicN(), signer.PublicE()) {
		t.Fatal("Client-side verification failed")
	}
}

func TestSignBlindedRejectsOutOfRange(t *testing.T) {
	signer := testSigner(t)

	// A blinded value >= N must be rejected
	tooBig := bytes.Repeat([]byte{0xFF}, len(signer.PublicN())+1)
	if _, err := signer.SignBlinded(tooBig); err != ErrInvalidBlindedToken {
		t.Fatalf("expected ErrInvalidBlindedToken, got %v", err)
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	signer := testSigner(t)

	tokenID := bytes.Repeat([]byte{1}, 32)
	blinded, factor, err := Blind(tokenID, signer.PublicN(), signer.PublicE())
	if err != nil {
		t.Fatalf("Blind failed: %v", err)
	}
	blindedSig, err := signer.SignBlinded(blinded)
	if err != nil {
		t.Fatalf("SignBlinded failed: %v", err)
	}
	signature := Unblind(blindedSig, factor, signer.PublicN())

	other := bytes.Repeat([]byte{2}, 32)
	if signer.Verify(other, signature) {
		t.Fatal("signature verified for a different message")
	}
}

func TestSignerPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsa_signing_key.der")

	signer, err := NewSignerOrLoad(path, 1024)
	if err != nil {
		t.Fatalf("NewSignerOrLoad failed: %v", err)
	}

	// Second load must return the same key
	reloaded, err := NewSignerOrLoad(path, 1024)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !bytes.Equal(signer.PublicN(), reloaded.PublicN()) {
		t.Fatal("reloaded key differs from saved key")
	}
}

func TestSignerCorruptKeyRegenerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsa_signing_key.der")

	signer, err := NewSignerOrLoad(path, 1024)
	if err != nil {
		t.Fatalf("NewSignerOrLoad failed: %v", err)
	}

	// Corrupt the key file; loading must fall back to a fresh key
	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}
	regenerated, err := NewSignerOrLoad(path, 1024)
	if err != nil {
		t.Fatalf("regeneration failed: %v", err)
	}
	if bytes.Equal(signer.PublicN(), regenerated.PublicN()) {
		t.Fatal("expected a fresh key after corruption")
	}
}

func TestHashTokenID(t *testing.T) {
	var token1, token2 [32]byte
	token1[0] = 1
	token2[0] = 2

	h1 := HashTokenID(token1)
	h2 := HashTokenID(token1)
	if h1 != h2 {
		t.Fatal("token hash not deterministic")
	}
	if HashTokenID(token2) == h1 {
		t.Fatal("different tokens produced the same hash")
	}
}
