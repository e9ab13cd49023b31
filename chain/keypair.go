package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
)

// Keypair is an ed25519 signing keypair for chain transactions.
type Keypair struct {
	priv ed25519.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed [32]byte) *Keypair {
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed[:])}
}

// LoadKeypair reads the JSON byte-array keypair file format used by
// chain wallets (64 bytes: seed followed by public key).
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair from %s: %w", path, err)
	}

	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("parse keypair file %s: %w", path, err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair file %s: expected %d bytes, got %d",
			path, ed25519.PrivateKeySize, len(bytes))
	}

	return &Keypair{priv: ed25519.PrivateKey(bytes)}, nil
}

// Save writes the keypair in the JSON byte-array file format.
func (k *Keypair) Save(path string) error {
	raw, err := json.Marshal([]byte(k.priv))
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

// Pubkey returns the public account address.
func (k *Keypair) Pubkey() Pubkey {
	var pk Pubkey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

// Sign signs a message with the private key.
func (k *Keypair) Sign(message []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}
