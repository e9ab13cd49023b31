// Package chain speaks the on-chain program's wire contract: account
// addresses, program-derived addresses, the transaction format, and a
// minimal JSON-RPC client.
package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcutil/base58"
)

// Pubkey is a 32-byte account address.
type Pubkey [32]byte

// SystemProgramID is the native system program (all-zero key).
var SystemProgramID = Pubkey{}

// ErrInvalidPubkey is returned for malformed base58 addresses.
var ErrInvalidPubkey = errors.New("invalid public key")

// ParsePubkey decodes a base58 account address.
func ParsePubkey(s string) (Pubkey, error) {
	decoded := base58.Decode(s)
	if len(decoded) != 32 {
		return Pubkey{}, ErrInvalidPubkey
	}
	var pk Pubkey
	copy(pk[:], decoded)
	return pk, nil
}

// String returns the base58 form of the address.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the key is all zeroes.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// pdaMarker terminates the seed preimage for derived addresses.
const pdaMarker = "ProgramDerivedAddress"

// FindProgramAddress searches bump seeds 255..0 for the first derived
// address that does not land on the ed25519 curve, mirroring the
// chain's derivation exactly.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])
		h.Write([]byte(pdaMarker))

		var candidate Pubkey
		copy(candidate[:], h.Sum(nil))
		if !isOnCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, fmt.Errorf("no viable bump seed found")
}

// Curve constants for the ed25519 on-curve check.
var (
	ed25519P = mustBig("57896044618658097711785492504343953926634992332820282019728792003956564819949")  // 2^255 - 19
	ed25519D = mustBig("37095705934669439343138083508754565189542113879843219016388785533085940283555")  // -121665/121666 mod p
	sqrtM1   = mustBig("19681161376707505956807079304988542015446066515923890162744021073123829784752")  // sqrt(-1) mod p
)

// isOnCurve reports whether the compressed point decodes to a valid
// ed25519 curve point. Derived addresses must fail this check so no
// private key can ever exist for them.
func isOnCurve(p Pubkey) bool {
	// Decode y little-endian, clearing the x-sign bit.
	yBytes := make([]byte, 32)
	for i := 0; i < 32; i++ {
		yBytes[i] = p[31-i]
	}
	yBytes[0] &= 0x7F

	y := new(big.Int).SetBytes(yBytes)
	if y.Cmp(ed25519P) >= 0 {
		return false
	}

	// x^2 = (y^2 - 1) / (d*y^2 + 1) mod p
	y2 := new(big.Int).Mul(y, y)
	y2.Mod(y2, ed25519P)

	num := new(big.Int).Sub(y2, big.NewInt(1))
	num.Mod(num, ed25519P)

	den := new(big.Int).Mul(ed25519D, y2)
	den.Add(den, big.NewInt(1))
	den.Mod(den, ed25519P)

	denInv := new(big.Int).ModInverse(den, ed25519P)
	if denInv == nil {
		return false
	}

	x2 := new(big.Int).Mul(num, denInv)
	x2.Mod(x2, ed25519P)

	// Candidate root: x = x2^((p+3)/8) mod p
	exp := new(big.Int).Add(ed25519P, big.NewInt(3))
	exp.Rsh(exp, 3)
	x := new(big.Int).Exp(x2, exp, ed25519P)

	check := new(big.Int).Mul(x, x)
	check.Mod(check, ed25519P)
	if check.Cmp(x2) == 0 {
		return true
	}

	// Second root candidate: x * sqrt(-1)
	x.Mul(x, sqrtM1)
	x.Mod(x, ed25519P)
	check.Mul(x, x)
	check.Mod(check, ed25519P)
	return check.Cmp(x2) == 0
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("chain: bad curve constant")
	}
	return v
}
