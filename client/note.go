package client

import (
	"encoding/json"
	"errors"

	"umbra-relayer/crypto"
)

// Note is the client-only deposit secret. Losing it makes the deposit
// unspendable; leaking it lets anyone withdraw.
type Note struct {
	Secret    [32]byte `json:"secret"`
	Nullifier [32]byte `json:"nullifier"`
	Amount    uint64   `json:"amount"`
	// LeafIndex is filled once the deposit confirms.
	LeafIndex *uint64 `json:"leaf_index,omitempty"`
}

// NewNote draws fresh field-element secrets for a deposit of the given
// amount.
func NewNote(amount uint64) *Note {
	return &Note{
		Secret:    crypto.RandomFieldElement(),
		Nullifier: crypto.RandomFieldElement(),
		Amount:    amount,
	}
}

// Validate rejects zero secrets and a zero amount.
func (n *Note) Validate() error {
	if err := crypto.ValidateNonZero(n.Nullifier); err != nil {
		return errors.New("nullifier must be non-zero")
	}
	if err := crypto.ValidateNonZero(n.Secret); err != nil {
		return errors.New("secret must be non-zero")
	}
	if n.Amount == 0 {
		return errors.New("amount must be non-zero")
	}
	return nil
}

// Commitment computes the pool leaf for this note.
func (n *Note) Commitment() ([32]byte, error) {
	if err := n.Validate(); err != nil {
		return [32]byte{}, err
	}
	return crypto.Commitment(n.Nullifier, n.Secret, n.Amount)
}

// NullifierHash computes the value revealed at withdrawal.
func (n *Note) NullifierHash() ([32]byte, error) {
	return crypto.NullifierHash(n.Nullifier)
}

// SetLeafIndex records the confirmed position in the pool tree.
func (n *Note) SetLeafIndex(index uint64) {
	n.LeafIndex = &index
}

// ToBytes serialises the note for storage.
func (n *Note) ToBytes() ([]byte, error) {
	return json.Marshal(n)
}

// NoteFromBytes restores a stored note.
func NoteFromBytes(data []byte) (*Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
