package crypto

import (
	"crypto/rand"
	"errors"
)

// ErrZeroValue is returned when a field element that must be non-zero
// is all zeroes.
var ErrZeroValue = errors.New("value must be non-zero")

// RandomFieldElement returns a random 32-byte value that is non-zero
// and below the BN254 scalar field modulus. The top three bits of the
// first byte are cleared so the value is < 2^253 < p.
func RandomFieldElement() [32]byte {
	var out [32]byte
	for {
		if _, err := rand.Read(out[:]); err != nil {
			panic("crypto: rand.Read failed: " + err.Error())
		}
		out[0] &= 0x1F
		if !isZero(out) {
			return out
		}
	}
}

// ReduceToField masks the top three bits of a 32-byte value so it fits
// the BN254 scalar field.
func ReduceToField(value [32]byte) [32]byte {
	value[0] &= 0x1F
	return value
}

// ValidateNonZero rejects an all-zero 32-byte value.
func ValidateNonZero(value [32]byte) error {
	if isZero(value) {
		return ErrZeroValue
	}
	return nil
}

func isZero(value [32]byte) bool {
	for _, b := range value {
		if b != 0 {
			return false
		}
	}
	return true
}
