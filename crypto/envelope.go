package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// NonceSize is the AES-256-GCM nonce length for sealed payloads.
const NonceSize = 12

// ErrDecryptionFailed is the single opaque failure for envelope
// decryption. Ciphertext corruption and key mismatch are
// indistinguishable to the caller.
var ErrDecryptionFailed = errors.New("decryption failed")

// EnvelopeKey is the relayer's static X25519 keypair for the request
// envelope. The raw ECDH output with a client's ephemeral key is used
// directly as a 256-bit AES-GCM key.
type EnvelopeKey struct {
	secret [32]byte
	public [32]byte
}

// NewEnvelopeKey generates a fresh X25519 keypair.
func NewEnvelopeKey() (*EnvelopeKey, error) {
	var k EnvelopeKey
	if _, err := rand.Read(k.secret[:]); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	pub, err := curve25519.X25519(k.secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(k.public[:], pub)
	return &k, nil
}

// Public returns the X25519 public key to advertise to clients.
func (k *EnvelopeKey) Public() [32]byte {
	return k.public
}

// Open decrypts a client payload sealed against this key with the
// client's ephemeral public key.
func (k *EnvelopeKey) Open(ciphertext, nonce []byte, clientPub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(k.secret[:], clientPub[:])
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	var key [32]byte
	copy(key[:], shared)
	return OpenPayload(ciphertext, nonce, key)
}

// Seal encrypts plaintext with AES-256-GCM under a pre-agreed key,
// generating a random nonce.
func Seal(plaintext []byte, key [32]byte) (ciphertext []byte, nonce [NonceSize]byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nonce, err
	}
	if _, err = rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("read random: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nonce, nil
}

// SealFor seals plaintext for a server's X25519 public key using a
// fresh ephemeral keypair. The ephemeral public key must accompany the
// ciphertext so the server can derive the shared secret.
func SealFor(plaintext []byte, serverPub [32]byte) (ciphertext []byte, nonce [NonceSize]byte, ephemeralPub [32]byte, err error) {
	var ephemeralSecret [32]byte
	if _, err = rand.Read(ephemeralSecret[:]); err != nil {
		return nil, nonce, ephemeralPub, fmt.Errorf("read random: %w", err)
	}

	pub, err := curve25519.X25519(ephemeralSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, nonce, ephemeralPub, fmt.Errorf("derive public key: %w", err)
	}
	copy(ephemeralPub[:], pub)

	shared, err := curve25519.X25519(ephemeralSecret[:], serverPub[:])
	if err != nil {
		return nil, nonce, ephemeralPub, fmt.Errorf("derive shared secret: %w", err)
	}

	var key [32]byte
	copy(key[:], shared)
	ciphertext, nonce, err = Seal(plaintext, key)
	return ciphertext, nonce, ephemeralPub, err
}

// OpenPayload decrypts an AES-256-GCM payload under a known key.
func OpenPayload(ciphertext, nonce []byte, key [32]byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
