package crypto

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Domain tags for hash separation. Each is the 64-bit value of the
// four-character ASCII tag, encoded big-endian into the low bytes of a
// 32-byte field element.
const (
	DomainNullifier uint64 = 1853189228 // "null"
	DomainCommit    uint64 = 1668246893 // "comm"
	DomainBind      uint64 = 1651076708 // "bind"
	DomainOwnerBind uint64 = 1870098018 // "ownb"
)

// Poseidon hashes 32-byte inputs as BN254 scalar field elements.
// Inputs are reduced modulo the field before hashing.
func Poseidon(inputs ...[32]byte) [32]byte {
	hasher := poseidon2.NewMerkleDamgardHasher()
	for _, input := range inputs {
		var elem fr.Element
		elem.SetBytes(input[:])
		b := elem.Bytes()
		hasher.Write(b[:])
	}

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// PoseidonWithDomain prefixes the inputs with a domain tag element.
func PoseidonWithDomain(domain uint64, inputs ...[32]byte) [32]byte {
	all := make([][32]byte, 0, len(inputs)+1)
	all = append(all, uint64ToField(domain))
	all = append(all, inputs...)
	return Poseidon(all...)
}

// Commitment computes Poseidon(DOMAIN_COMMIT, nullifier, secret, amount).
func Commitment(nullifier, secret [32]byte, amount uint64) ([32]byte, error) {
	if err := ValidateNonZero(nullifier); err != nil {
		return [32]byte{}, err
	}
	if err := ValidateNonZero(secret); err != nil {
		return [32]byte{}, err
	}
	if amount == 0 {
		return [32]byte{}, ErrZeroValue
	}

	return PoseidonWithDomain(DomainCommit, nullifier, secret, uint64ToField(amount)), nil
}

// NullifierHash computes Poseidon(DOMAIN_NULLIFIER, nullifier).
func NullifierHash(nullifier [32]byte) ([32]byte, error) {
	if err := ValidateNonZero(nullifier); err != nil {
		return [32]byte{}, err
	}
	return PoseidonWithDomain(DomainNullifier, nullifier), nil
}

// BindingHash computes the withdrawal binding hash
// Poseidon(DOMAIN_BIND, nullifierHash, recipient, relayer, fee).
// Recipient and relayer are field elements as output by the circuit.
func BindingHash(nullifierHash, recipient, relayer [32]byte, fee uint64) [32]byte {
	return PoseidonWithDomain(DomainBind, nullifierHash, recipient, relayer, uint64ToField(fee))
}

// OwnershipBindingHash computes
// Poseidon(DOMAIN_OWNER_BIND, nullifier, pendingWithdrawalID), binding
// a cancellation proof to a specific pending withdrawal.
func OwnershipBindingHash(nullifier [32]byte, pendingID uint64) ([32]byte, error) {
	if err := ValidateNonZero(nullifier); err != nil {
		return [32]byte{}, err
	}
	return PoseidonWithDomain(DomainOwnerBind, nullifier, uint64ToField(pendingID)), nil
}

func uint64ToField(v uint64) [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}
