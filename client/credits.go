// Package client is the SDK side of the relayer: credit minting,
// deposits, withdrawals, and stealth addresses, always behind the Tor
// predicate.
package client

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"umbra-relayer/crypto"
)

// BlindedCredit is a credit before signing. The token id and blinding
// factor never leave the client.
type BlindedCredit struct {
	TokenID      [32]byte
	BlindedToken []byte
	Amount       uint64

	factor *crypto.BlindingFactor
}

// SignedCredit is a credit ready for one-time redemption.
type SignedCredit struct {
	TokenID   [32]byte `json:"token_id"`
	Signature []byte   `json:"signature"`
	Amount    uint64   `json:"amount"`
}

// NewBlindedCredit draws a fresh token id and blinds it under the
// relayer's RSA public key.
func NewBlindedCredit(amount uint64, pubN, pubE []byte) (*BlindedCredit, error) {
	var tokenID [32]byte
	if _, err := rand.Read(tokenID[:]); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}

	blinded, factor, err := crypto.Blind(tokenID[:], pubN, pubE)
	if err != nil {
		return nil, err
	}

	return &BlindedCredit{
		TokenID:      tokenID,
		BlindedToken: blinded,
		Amount:       amount,
		factor:       factor,
	}, nil
}

// Unblind turns the relayer's blind signature into a valid signature
// over the token id.
func (bc *BlindedCredit) Unblind(blindedSig, pubN []byte) *SignedCredit {
	return &SignedCredit{
		TokenID:   bc.TokenID,
		Signature: crypto.Unblind(blindedSig, bc.factor, pubN),
		Amount:    bc.Amount,
	}
}

// Verify checks the credit's signature against the relayer's public
// key.
func (sc *SignedCredit) Verify(pubN, pubE []byte) bool {
	return crypto.VerifySignature(sc.TokenID[:], sc.Signature, pubN, pubE)
}

// ToBytes serialises the credit for storage.
func (sc *SignedCredit) ToBytes() ([]byte, error) {
	return json.Marshal(sc)
}

// SignedCreditFromBytes restores a stored credit.
func SignedCreditFromBytes(data []byte) (*SignedCredit, error) {
	var sc SignedCredit
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
