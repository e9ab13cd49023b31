package client

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/tyler-smith/go-bip39"

	"umbra-relayer/chain"
)

// StealthAddress is a fresh chain address derived from the master
// seed, used as the recipient of exactly one withdrawal.
type StealthAddress struct {
	Address chain.Pubkey
	Index   uint64

	spendingKey [32]byte
}

// Keypair returns the signing keypair controlling the address.
func (sa *StealthAddress) Keypair() *chain.Keypair {
	return chain.KeypairFromSeed(sa.spendingKey)
}

// Matches reports whether the address equals the given account.
func (sa *StealthAddress) Matches(pubkey chain.Pubkey) bool {
	return sa.Address == pubkey
}

// StealthMaster derives stealth addresses from one secret.
type StealthMaster struct {
	secret [32]byte
}

// NewStealthMaster draws a random master secret.
func NewStealthMaster() (*StealthMaster, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return &StealthMaster{secret: secret}, nil
}

// NewStealthMasterWithMnemonic draws a master secret backed by a BIP39
// mnemonic for human backup.
func NewStealthMasterWithMnemonic() (*StealthMaster, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	master, err := StealthMasterFromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return master, mnemonic, nil
}

// StealthMasterFromMnemonic restores a master from its backup
// mnemonic.
func StealthMasterFromMnemonic(mnemonic string) (*StealthMaster, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return &StealthMaster{secret: sha256.Sum256(seed)}, nil
}

// StealthMasterFromSecret restores a master from its raw secret.
func StealthMasterFromSecret(secret [32]byte) *StealthMaster {
	return &StealthMaster{secret: secret}
}

// Derive computes the address at an index: the spending key is
// SHA256(master || u64_le(index)), used as the ed25519 seed.
func (m *StealthMaster) Derive(index uint64) *StealthAddress {
	h := sha256.New()
	h.Write(m.secret[:])

	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	h.Write(idx[:])

	var spendingKey [32]byte
	copy(spendingKey[:], h.Sum(nil))

	keypair := chain.KeypairFromSeed(spendingKey)
	return &StealthAddress{
		Address:     keypair.Pubkey(),
		Index:       index,
		spendingKey: spendingKey,
	}
}

// DeriveNext returns the address after the last used index.
func (m *StealthMaster) DeriveNext(lastIndex uint64) *StealthAddress {
	return m.Derive(lastIndex + 1)
}

// ExportSecret returns the raw master secret for backup.
func (m *StealthMaster) ExportSecret() [32]byte {
	return m.secret
}
