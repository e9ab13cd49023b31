package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/buckets"
	"umbra-relayer/chain"
	"umbra-relayer/crypto"
)

// ChainClient is the subset of the RPC client the pipelines use.
type ChainClient interface {
	GetAccountData(ctx context.Context, pubkey chain.Pubkey) ([]byte, error)
	AccountExists(ctx context.Context, pubkey chain.Pubkey) (bool, error)
	GetLatestBlockhash(ctx context.Context) ([32]byte, error)
	SendAndConfirmTransaction(ctx context.Context, tx *chain.Transaction, skipPreflight bool) (string, error)
	GetSignaturesForAddress(ctx context.Context, pubkey chain.Pubkey) ([]chain.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*chain.TransactionInfo, error)
}

// Payment fetch retry schedule. Payment transactions can take a few
// seconds to confirm.
const (
	paymentFetchAttempts = 10
	paymentFetchDelay    = 2 * time.Second
)

// Issuer sells blind-signed credits: it verifies the on-chain payment
// and signs the blinded token it cannot see.
type Issuer struct {
	signer  *crypto.Signer
	rpc     ChainClient
	relayer chain.Pubkey
	feeBps  uint16

	// fetchDelay is the wait between payment lookups; tests shorten it.
	fetchDelay time.Duration
}

// NewIssuer creates a credit issuer paying out to the given relayer
// account.
func NewIssuer(signer *crypto.Signer, rpc ChainClient, relayer chain.Pubkey, feeBps uint16) *Issuer {
	return &Issuer{
		signer:     signer,
		rpc:        rpc,
		relayer:    relayer,
		feeBps:     feeBps,
		fetchDelay: paymentFetchDelay,
	}
}

// HandleSign verifies that the payment transaction moved at least
// amount + fee to the relayer and returns the hex blind signature.
func (i *Issuer) HandleSign(ctx context.Context, blindedTokenHex string, amount uint64, paymentTx, payer string) (string, error) {
	if _, ok := buckets.ID(amount); !ok {
		return "", E(KindInvalidBucket, "invalid bucket amount: %d", amount)
	}

	expected := buckets.TotalWithFee(amount, i.feeBps)

	payerKey, err := chain.ParsePubkey(payer)
	if err != nil {
		return "", E(KindInvalidRequest, "invalid payer public key")
	}

	tx, err := i.fetchPayment(ctx, paymentTx)
	if err != nil {
		return "", err
	}
	if tx.Failed {
		return "", E(KindInvalidRequest, "payment transaction failed")
	}

	received, err := i.receivedFrom(tx, payerKey)
	if err != nil {
		return "", err
	}
	if received < expected {
		return "", E(KindInvalidRequest,
			"Insufficient payment: received %d micro-units, expected %d", received, expected)
	}
	log.Infof("Payment verified: %d micro-units from %s (expected %d)", received, payer, expected)

	blinded, err := hex.DecodeString(blindedTokenHex)
	if err != nil {
		return "", E(KindInvalidBlindedToken, "invalid blinded token")
	}
	signature, err := i.signer.SignBlinded(blinded)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidBlindedToken) {
			return "", E(KindInvalidBlindedToken, "invalid blinded token")
		}
		return "", Wrap(KindCrypto, err, "blind signing failed")
	}

	log.Infof("Signed blinded token after verifying payment of %d micro-units", expected)
	return hex.EncodeToString(signature), nil
}

// fetchPayment retries the transaction lookup; unconfirmed payments
// show up after a short delay.
func (i *Issuer) fetchPayment(ctx context.Context, signature string) (*chain.TransactionInfo, error) {
	for attempt := 0; attempt < paymentFetchAttempts; attempt++ {
		tx, err := i.rpc.GetTransaction(ctx, signature)
		if err == nil {
			return tx, nil
		}
		if attempt == paymentFetchAttempts-1 {
			return nil, Wrap(KindInvalidRequest, err,
				"payment transaction not found, make sure it's confirmed")
		}

		log.Infof("Payment tx not found yet (attempt %d), retrying...", attempt+1)
		select {
		case <-ctx.Done():
			return nil, Wrap(KindInternal, ctx.Err(), "payment lookup cancelled")
		case <-time.After(i.fetchDelay):
		}
	}
	return nil, E(KindInvalidRequest, "payment transaction not found")
}

// receivedFrom computes what the relayer account gained in the
// payment transaction from its pre/post balances.
func (i *Issuer) receivedFrom(tx *chain.TransactionInfo, payer chain.Pubkey) (uint64, error) {
	relayerIdx := -1
	payerSeen := false
	relayerStr := i.relayer.String()
	payerStr := payer.String()
	for idx, key := range tx.AccountKeys {
		if key == relayerStr {
			relayerIdx = idx
		}
		if key == payerStr {
			payerSeen = true
		}
	}
	if relayerIdx < 0 || !payerSeen {
		return 0, E(KindInvalidRequest, "could not verify payment, ensure you paid the relayer")
	}
	if relayerIdx >= len(tx.PreBalances) || relayerIdx >= len(tx.PostBalances) {
		return 0, E(KindInvalidRequest, "malformed payment transaction")
	}

	pre := tx.PreBalances[relayerIdx]
	post := tx.PostBalances[relayerIdx]
	if post <= pre {
		return 0, nil
	}
	return post - pre, nil
}
