package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"umbra-relayer/api"
	"umbra-relayer/chain"
	"umbra-relayer/crypto"
	"umbra-relayer/tor"
)

// ErrTorRequired is returned when a sensitive request would leave the
// machine outside the anonymising transport.
var ErrTorRequired = errors.New("tor connection required but not detected, refusing to send sensitive data")

// Config wires a Client to one relayer.
type Config struct {
	// RelayerURL is the relayer's base URL, reached via Tor.
	RelayerURL string
	// RelayerPubN / RelayerPubE are the RSA public key components for
	// blind signatures, big-endian.
	RelayerPubN []byte
	RelayerPubE []byte
	// EnvelopePubkey is the relayer's X25519 key for sealed payloads.
	EnvelopePubkey [32]byte
	// TorProxyAddr is the local SOCKS5 proxy.
	TorProxyAddr string
}

// Client orchestrates the flow credit purchase -> deposit ->
// withdrawal. Every sensitive request first passes the Tor predicate;
// the verified result is cached until invalidated.
type Client struct {
	config Config
	tor    *tor.Client
	master *StealthMaster

	torVerified bool
}

// New creates a client with a fresh stealth master.
func New(config Config) (*Client, error) {
	master, err := NewStealthMaster()
	if err != nil {
		return nil, err
	}
	return NewWithStealthMaster(config, master)
}

// NewWithStealthMaster creates a client around an existing stealth
// master (restored from backup).
func NewWithStealthMaster(config Config, master *StealthMaster) (*Client, error) {
	torClient, err := tor.NewClient(tor.Config{
		Enabled:   true,
		ProxyAddr: config.TorProxyAddr,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		tor:    torClient,
		master: master,
	}, nil
}

// ensureTor verifies the anonymising transport once and caches the
// positive result.
func (c *Client) ensureTor(ctx context.Context) error {
	if c.torVerified {
		return nil
	}

	isTor, err := c.tor.VerifyConnection(ctx)
	if err != nil {
		return fmt.Errorf("tor verification: %w", err)
	}
	if !isTor {
		return ErrTorRequired
	}
	c.torVerified = true
	return nil
}

// VerifyTor re-runs the probe and refreshes the cache.
func (c *Client) VerifyTor(ctx context.Context) (bool, error) {
	isTor, err := c.tor.VerifyConnection(ctx)
	if err != nil {
		return false, err
	}
	c.torVerified = isTor
	return isTor, nil
}

// IsTorVerified reports the cached predicate.
func (c *Client) IsTorVerified() bool {
	return c.torVerified
}

// InvalidateTorVerification clears the cache; the next sensitive
// request re-probes.
func (c *Client) InvalidateTorVerification() {
	c.torVerified = false
}

// ExitIP returns the public address the relayer would see.
func (c *Client) ExitIP(ctx context.Context) (string, error) {
	return c.tor.ExitIP(ctx)
}

// FetchInfo retrieves the relayer's advertised keys and bucket table.
func (c *Client) FetchInfo(ctx context.Context) (*api.InfoResponse, error) {
	var info api.InfoResponse
	if err := c.getJSON(ctx, "/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateBlindedCredit mints a blinded token for the amount.
func (c *Client) CreateBlindedCredit(amount uint64) (*BlindedCredit, error) {
	return NewBlindedCredit(amount, c.config.RelayerPubN, c.config.RelayerPubE)
}

// MintCredit purchases a signed credit: blind, pay, have the relayer
// sign, unblind, verify.
func (c *Client) MintCredit(ctx context.Context, amount uint64, paymentTx, payer string) (*SignedCredit, error) {
	if err := c.ensureTor(ctx); err != nil {
		return nil, err
	}

	blinded, err := c.CreateBlindedCredit(amount)
	if err != nil {
		return nil, err
	}

	var resp api.SignResponse
	req := api.SignRequest{
		BlindedToken: hex.EncodeToString(blinded.BlindedToken),
		Amount:       amount,
		PaymentTx:    paymentTx,
		Payer:        payer,
	}
	if err := c.postJSON(ctx, "/sign", &req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("relayer refused to sign: %s", resp.Error)
	}

	blindedSig, err := hex.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature from relayer")
	}
	credit := blinded.Unblind(blindedSig, c.config.RelayerPubN)
	if !credit.Verify(c.config.RelayerPubN, c.config.RelayerPubE) {
		return nil, errors.New("relayer returned an invalid signature")
	}
	return credit, nil
}

// CreateNote draws a fresh deposit note for the amount.
func (c *Client) CreateNote(amount uint64) *Note {
	return NewNote(amount)
}

// SubmitDeposit seals the credit and commitment into the request
// envelope and redeems them. On success the note learns its leaf
// index.
func (c *Client) SubmitDeposit(ctx context.Context, credit *SignedCredit, note *Note) (*api.DepositResponse, error) {
	if err := c.ensureTor(ctx); err != nil {
		return nil, err
	}

	commitment, err := note.Commitment()
	if err != nil {
		return nil, err
	}

	body := api.DepositBody{
		Credit: api.Credit{
			TokenID:   hex.EncodeToString(credit.TokenID[:]),
			Signature: hex.EncodeToString(credit.Signature),
			Amount:    credit.Amount,
		},
		Commitment: hex.EncodeToString(commitment[:]),
	}
	plaintext, err := json.Marshal(&body)
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, clientPub, err := crypto.SealFor(plaintext, c.config.EnvelopePubkey)
	if err != nil {
		return nil, err
	}
	payload := api.EncryptedPayload{
		Encrypted:    true,
		Ciphertext:   ciphertext,
		Nonce:        nonce[:],
		ClientPubkey: hex.EncodeToString(clientPub[:]),
	}

	var resp api.DepositResponse
	if err := c.postJSON(ctx, "/deposit", &payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("deposit rejected: %s", resp.Error)
	}
	if resp.LeafIndex != nil {
		note.SetLeafIndex(*resp.LeafIndex)
	}
	return &resp, nil
}

// SubmitWithdrawal submits a withdrawal proof to a stealth recipient
// with the given timelock.
func (c *Client) SubmitWithdrawal(
	ctx context.Context,
	note *Note,
	proof chain.Groth16Proof,
	root [32]byte,
	recipient *StealthAddress,
	relayer chain.Pubkey,
	fee uint64,
	delayHours uint8,
) (*api.WithdrawalResponse, error) {
	if err := c.ensureTor(ctx); err != nil {
		return nil, err
	}

	if err := note.Validate(); err != nil {
		return nil, err
	}
	if fee >= note.Amount {
		return nil, errors.New("fee must be less than amount")
	}

	nullifierHash, err := note.NullifierHash()
	if err != nil {
		return nil, err
	}
	recipientField := [32]byte(recipient.Address)
	relayerField := [32]byte(relayer)
	bindingHash := crypto.BindingHash(nullifierHash, recipientField, relayerField, fee)

	body := api.WithdrawBody{
		Request: api.WithdrawalRequest{
			Proof: api.Proof{
				A: hex.EncodeToString(proof.A[:]),
				B: hex.EncodeToString(proof.B[:]),
				C: hex.EncodeToString(proof.C[:]),
			},
			PublicInputs: api.PublicInputs{
				Root:          hex.EncodeToString(root[:]),
				NullifierHash: hex.EncodeToString(nullifierHash[:]),
				Recipient:     hex.EncodeToString(recipientField[:]),
				Amount:        note.Amount,
				Relayer:       hex.EncodeToString(relayerField[:]),
				Fee:           fee,
				BindingHash:   hex.EncodeToString(bindingHash[:]),
			},
		},
		DelayHours: delayHours,
	}

	var resp api.WithdrawalResponse
	if err := c.postJSON(ctx, "/withdraw", &body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("withdrawal rejected: %s", resp.Error)
	}
	return &resp, nil
}

// DeriveStealthAddress derives the recipient address at an index.
func (c *Client) DeriveStealthAddress(index uint64) *StealthAddress {
	return c.master.Derive(index)
}

// ExportStealthSecret exports the stealth master for backup.
func (c *Client) ExportStealthSecret() [32]byte {
	return c.master.ExportSecret()
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.RelayerURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, dst)
}

func (c *Client) postJSON(ctx context.Context, path string, body, dst interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RelayerURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, dst)
}

func (c *Client) doJSON(req *http.Request, dst interface{}) error {
	resp, err := c.tor.HTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("relayer response: %w", err)
	}
	return nil
}
