// Package api defines the JSON wire types of the relayer's HTTP
// surface, shared by the server and the client SDK.
package api

import (
	"encoding/hex"
	"errors"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// BucketInfo describes one denomination in GET /info.
type BucketInfo struct {
	ID           uint8   `json:"id"`
	Amount       uint64  `json:"amount"`
	AmountCoins  float64 `json:"amount_coins"`
	TotalWithFee uint64  `json:"total_with_fee"`
}

// InfoResponse is returned by GET /info.
type InfoResponse struct {
	// RSA public key components, hex encoded big-endian.
	PubKeyN string `json:"pub_key_n"`
	PubKeyE string `json:"pub_key_e"`
	// X25519 public key for the request envelope, hex encoded.
	EnvelopePubkey string `json:"envelope_pubkey"`
	// Relayer chain account, base58.
	RelayerPubkey string       `json:"relayer_pubkey"`
	FeeBps        uint16       `json:"fee_bps"`
	Buckets       []BucketInfo `json:"buckets"`
}

// SignRequest is the POST /sign body.
type SignRequest struct {
	// BlindedToken is the blinded token, hex encoded.
	BlindedToken string `json:"blinded_token"`
	Amount       uint64 `json:"amount"`
	// PaymentTx is the payment transaction signature.
	PaymentTx string `json:"payment_tx"`
	// Payer is the paying account, base58.
	Payer string `json:"payer"`
}

// SignResponse is the POST /sign reply.
type SignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EncryptedPayload is the sealed envelope wrapping sensitive request
// bodies (POST /deposit).
type EncryptedPayload struct {
	Encrypted  bool   `json:"encrypted"`
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	// ClientPubkey is the client's ephemeral X25519 key, hex encoded.
	ClientPubkey string `json:"client_pubkey"`
}

// Credit is a signed credit inside a deposit body.
type Credit struct {
	// TokenID hex encoded, 32 bytes.
	TokenID string `json:"token_id"`
	// Signature hex encoded.
	Signature string `json:"signature"`
	Amount    uint64 `json:"amount"`
}

// DepositBody is the plaintext inside a sealed POST /deposit payload.
type DepositBody struct {
	Credit Credit `json:"credit"`
	// Commitment hex encoded, 32 bytes.
	Commitment    string `json:"commitment"`
	EncryptedNote []byte `json:"encrypted_note,omitempty"`
}

// DepositResponse is the POST /deposit reply.
type DepositResponse struct {
	Success     bool    `json:"success"`
	TxSignature string  `json:"tx_signature,omitempty"`
	LeafIndex   *uint64 `json:"leaf_index,omitempty"`
	MerkleRoot  string  `json:"merkle_root,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Proof carries a Groth16 proof, hex encoded (64/128/64 bytes).
type Proof struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// PublicInputs are the withdrawal circuit's public signals, 32-byte
// fields hex encoded.
type PublicInputs struct {
	Root          string `json:"root"`
	NullifierHash string `json:"nullifier_hash"`
	Recipient     string `json:"recipient"`
	Amount        uint64 `json:"amount"`
	Relayer       string `json:"relayer"`
	Fee           uint64 `json:"fee"`
	BindingHash   string `json:"binding_hash"`
}

// WithdrawalRequest is a proof plus public inputs.
type WithdrawalRequest struct {
	Proof        Proof        `json:"proof"`
	PublicInputs PublicInputs `json:"public_inputs"`
}

// WithdrawBody is the POST /withdraw body.
type WithdrawBody struct {
	Request    WithdrawalRequest `json:"request"`
	DelayHours uint8             `json:"delay_hours"`
}

// WithdrawalResponse is the POST /withdraw and
// POST /withdraw/execute reply.
type WithdrawalResponse struct {
	Success     bool   `json:"success"`
	TxSignature string `json:"tx_signature,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExecuteRequest is the POST /withdraw/execute body.
type ExecuteRequest struct {
	// NullifierHash hex encoded, 32 bytes.
	NullifierHash string `json:"nullifier_hash"`
}

// PendingWithdrawal describes one tracked withdrawal in
// GET /withdraw/pending.
type PendingWithdrawal struct {
	PDA           string `json:"pda"`
	PoolPDA       string `json:"pool_pda"`
	BucketID      uint8  `json:"bucket_id"`
	NullifierHash string `json:"nullifier_hash"`
	Recipient     string `json:"recipient"`
	ExecuteAfter  int64  `json:"execute_after"`
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	Executed      bool   `json:"executed"`
}

// PendingResponse is the GET /withdraw/pending reply.
type PendingResponse struct {
	Pending []PendingWithdrawal `json:"pending"`
}

// PoolStatus describes one pool in GET /pools.
type PoolStatus struct {
	BucketID    uint8   `json:"bucket_id"`
	Amount      uint64  `json:"amount"`
	AmountCoins float64 `json:"amount_coins"`
	TreeSize    uint64  `json:"tree_size"`
	MerkleRoot  string  `json:"merkle_root"`
}

// PoolsResponse is the GET /pools reply.
type PoolsResponse struct {
	Pools []PoolStatus `json:"pools"`
}

// ProofResponse is the GET /proof/{bucket}/{leaf} reply.
type ProofResponse struct {
	Success   bool     `json:"success"`
	Siblings  []string `json:"siblings,omitempty"`
	PathBits  []uint8  `json:"path_bits,omitempty"`
	LeafIndex uint64   `json:"leaf_index"`
	Error     string   `json:"error,omitempty"`
}

// CommitmentResponse is the GET /commitment/{bucket}/{leaf} reply.
type CommitmentResponse struct {
	Success    bool   `json:"success"`
	Commitment string `json:"commitment,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ErrBadHex is returned for hex fields that do not decode to the
// expected length.
var ErrBadHex = errors.New("invalid hex field")

// DecodeHex32 decodes a hex string into a 32-byte value.
func DecodeHex32(s string) ([32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, ErrBadHex
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

// DecodeHexN decodes a hex string into exactly n bytes.
func DecodeHexN(s string, n int) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != n {
		return nil, ErrBadHex
	}
	return raw, nil
}
