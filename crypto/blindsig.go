package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"os"

	log "github.com/sirupsen/logrus"
)

// Blind-signature errors
var (
	ErrInvalidBlindedToken = errors.New("invalid blinded token")
	ErrBlindingFactor      = errors.New("failed to generate blinding factor")
)

// maxBlindingAttempts bounds the random draws for a usable blinding factor.
const maxBlindingAttempts = 100

// Signer signs blinded tokens without seeing the actual token value.
// The RSA keypair is saved to disk so credits purchased before a
// restart remain valid.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner generates a fresh RSA keypair of the given size.
func NewSigner(bits int) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	log.Infof("Generated RSA-%d keypair for blind signatures", bits)
	return &Signer{key: key}, nil
}

// NewSignerOrLoad loads a PKCS#8 DER keypair from path, falling back to
// generating (and saving) a new one. A corrupt key file is overwritten;
// all previously issued credits become invalid when that happens.
func NewSignerOrLoad(path string, bits int) (*Signer, error) {
	if der, err := os.ReadFile(path); err == nil {
		signer, err := SignerFromDER(der)
		if err == nil {
			log.Infof("Loaded RSA keypair from %s", path)
			return signer, nil
		}
		log.Warnf("Failed to load RSA key from %s: %v", path, err)
		log.Warn("Generating new keypair (old credits will be invalid!)")
	}

	signer, err := NewSigner(bits)
	if err != nil {
		return nil, err
	}
	if err := signer.SaveDER(path); err != nil {
		log.Warnf("Failed to save RSA key to %s: %v", path, err)
	} else {
		log.Infof("Saved RSA keypair to %s", path)
	}
	return signer, nil
}

// SignerFromDER parses a PKCS#8 DER private key.
func SignerFromDER(der []byte) (*Signer, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key file does not contain an RSA key")
	}
	return &Signer{key: key}, nil
}

// SaveDER writes the private key as PKCS#8 DER.
func (s *Signer) SaveDER(path string) error {
	der, err := x509.MarshalPKCS8PrivateKey(s.key)
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}
	return os.WriteFile(path, der, 0600)
}

// PublicN returns the public modulus N as big-endian bytes.
func (s *Signer) PublicN() []byte {
	return s.key.N.Bytes()
}

// PublicE returns the public exponent E as big-endian bytes.
func (s *Signer) PublicE() []byte {
	return big.NewInt(int64(s.key.E)).Bytes()
}

// SignBlinded computes s' = (m')^d mod N over the blinded message,
// interpreted as a big-endian unsigned integer. The blinded value must
// be less than the modulus.
func (s *Signer) SignBlinded(blinded []byte) ([]byte, error) {
	mBlind := new(big.Int).SetBytes(blinded)
	if mBlind.Cmp(s.key.N) >= 0 {
		return nil, ErrInvalidBlindedToken
	}

	sBlind := new(big.Int).Exp(mBlind, s.key.D, s.key.N)
	return sBlind.Bytes(), nil
}

// Verify reports whether signature is a valid RSA signature over
// SHA256(message): s^e mod N == h.
func (s *Signer) Verify(message, signature []byte) bool {
	return VerifySignature(message, signature, s.PublicN(), s.PublicE())
}

// BlindingFactor holds the client-side secret used to blind a message
// and later unblind the signature.
type BlindingFactor struct {
	R    *big.Int
	RInv *big.Int
}

// Blind hashes the message and blinds it under the signer's public key:
// m' = SHA256(message) * r^e mod N for a random r coprime to N.
func Blind(message, nBytes, eBytes []byte) ([]byte, *BlindingFactor, error) {
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	hash := sha256.Sum256(message)
	m := new(big.Int).SetBytes(hash[:])

	r, err := generateBlindingFactor(n)
	if err != nil {
		return nil, nil, err
	}
	rInv := new(big.Int).ModInverse(r, n)
	if rInv == nil {
		return nil, nil, ErrBlindingFactor
	}

	rE := new(big.Int).Exp(r, e, n)
	blinded := new(big.Int).Mul(m, rE)
	blinded.Mod(blinded, n)

	return blinded.Bytes(), &BlindingFactor{R: r, RInv: rInv}, nil
}

// Unblind recovers the signature on the original message:
// s = s' * r^(-1) mod N.
func Unblind(blindedSig []byte, factor *BlindingFactor, nBytes []byte) []byte {
	n := new(big.Int).SetBytes(nBytes)
	sBlind := new(big.Int).SetBytes(blindedSig)

	s := new(big.Int).Mul(sBlind, factor.RInv)
	s.Mod(s, n)
	return s.Bytes()
}

// VerifySignature checks s^e mod N == SHA256(message) as big-endian
// integers.
func VerifySignature(message, signature, nBytes, eBytes []byte) bool {
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	hash := sha256.Sum256(message)
	m := new(big.Int).SetBytes(hash[:])

	s := new(big.Int).SetBytes(signature)
	computed := new(big.Int).Exp(s, e, n)

	return computed.Cmp(m) == 0
}

// generateBlindingFactor draws a random r in (1, n) with gcd(r, n) = 1.
func generateBlindingFactor(n *big.Int) (*big.Int, error) {
	one := big.NewInt(1)
	gcd := new(big.Int)

	for i := 0; i < maxBlindingAttempts; i++ {
		r, err := rand.Int(rand.Reader, n)
		if err != nil {
			return nil, fmt.Errorf("read random: %w", err)
		}
		if r.Cmp(one) <= 0 {
			continue
		}
		if gcd.GCD(nil, nil, r, n).Cmp(one) == 0 {
			return r, nil
		}
	}
	return nil, ErrBlindingFactor
}

// HashTokenID derives the server-side de-duplication key for a token:
// SHA256("token_hash:" || token_id).
func HashTokenID(tokenID [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("token_hash:"))
	h.Write(tokenID[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
