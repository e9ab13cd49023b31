package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"umbra-relayer/chain"
	"umbra-relayer/crypto"
	"umbra-relayer/pool"
)

type depositFixture struct {
	svc     *DepositService
	rpc     *fakeChain
	signer  *crypto.Signer
	pools   *pool.Service
	tokens  *pool.TokenStore
	program chain.Pubkey
}

func newDepositFixture(t *testing.T) *depositFixture {
	t.Helper()

	signer, err := crypto.NewSigner(1024)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	keypair, err := chain.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}

	dir := t.TempDir()
	pools := pool.NewService(filepath.Join(dir, "merkle_state"))
	for b := uint8(0); b < 7; b++ {
		if err := pools.Init(b); err != nil {
			t.Fatalf("Init bucket %d failed: %v", b, err)
		}
	}
	tokens := pool.NewTokenStore(filepath.Join(dir, "used_tokens.dat"))
	roots := pool.NewHistoricalRoots()
	rpc := newFakeChain()

	program := chain.Pubkey{0x42}
	svc := NewDepositService(program, keypair, rpc, signer, pools, tokens, roots, false)
	return &depositFixture{
		svc:     svc,
		rpc:     rpc,
		signer:  signer,
		pools:   pools,
		tokens:  tokens,
		program: program,
	}
}

// signedCredit mints a valid credit the long way round: blind, sign,
// unblind.
func signedCredit(t *testing.T, signer *crypto.Signer, amount uint64) Credit {
	t.Helper()

	tokenID := crypto.RandomFieldElement()
	blinded, factor, err := crypto.Blind(tokenID[:], signer.PublicN(), signer.PublicE())
	if err != nil {
		t.Fatalf("Blind failed: %v", err)
	}
	blindedSig, err := signer.SignBlinded(blinded)
	if err != nil {
		t.Fatalf("SignBlinded failed: %v", err)
	}
	return Credit{
		TokenID:   tokenID,
		Signature: crypto.Unblind(blindedSig, factor, signer.PublicN()),
		Amount:    amount,
	}
}

func TestHandleDepositHappyPath(t *testing.T) {
	f := newDepositFixture(t)

	credit := signedCredit(t, f.signer, 1_000_000_000)
	commitment := crypto.RandomFieldElement()
	emptyRoot, _ := f.pools.Root(2)

	result, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: commitment,
	})
	if err != nil {
		t.Fatalf("HandleDeposit failed: %v", err)
	}

	if result.LeafIndex != 0 {
		t.Errorf("LeafIndex = %d, want 0", result.LeafIndex)
	}
	if result.TxSignature == "" {
		t.Error("empty tx signature")
	}
	if result.MerkleRoot == emptyRoot {
		t.Error("root unchanged after deposit")
	}

	size, _ := f.pools.Size(2)
	if size != 1 {
		t.Errorf("tree size = %d, want 1", size)
	}
	if !f.tokens.Contains(crypto.HashTokenID(credit.TokenID)) {
		t.Error("token hash not persisted after confirmed deposit")
	}
}

func TestHandleDepositDoubleRedemption(t *testing.T) {
	f := newDepositFixture(t)

	credit := signedCredit(t, f.signer, 1_000_000_000)
	req := DepositRequest{Credit: credit, Commitment: crypto.RandomFieldElement()}

	if _, err := f.svc.HandleDeposit(context.Background(), req); err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}

	_, err := f.svc.HandleDeposit(context.Background(), req)
	if err == nil {
		t.Fatal("replayed deposit accepted")
	}
	var relayerErr *Error
	if !errors.As(err, &relayerErr) || relayerErr.Kind != KindTokenAlreadyRedeemed {
		t.Fatalf("expected TokenAlreadyRedeemed, got %v", err)
	}
	if StatusOf(err) != 409 {
		t.Fatalf("status = %d, want 409", StatusOf(err))
	}

	size, _ := f.pools.Size(2)
	if size != 1 {
		t.Errorf("tree size changed on replay: %d", size)
	}
}

func TestHandleDepositInvalidSignature(t *testing.T) {
	f := newDepositFixture(t)

	credit := signedCredit(t, f.signer, 1_000_000_000)
	credit.Signature[0] ^= 0x01

	_, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	if StatusOf(err) != 401 {
		t.Fatalf("status = %d, want 401", StatusOf(err))
	}
}

func TestHandleDepositInvalidBucket(t *testing.T) {
	f := newDepositFixture(t)

	credit := signedCredit(t, f.signer, 123_456_789)
	_, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	var relayerErr *Error
	if !errors.As(err, &relayerErr) || relayerErr.Kind != KindInvalidBucket {
		t.Fatalf("expected InvalidBucket, got %v", err)
	}
}

func TestHandleDepositFailedTxLeavesTokenUnspent(t *testing.T) {
	f := newDepositFixture(t)
	f.rpc.sendErr = errors.New("blockhash expired")

	credit := signedCredit(t, f.signer, 1_000_000_000)
	_, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	if err == nil {
		t.Fatal("expected transaction failure")
	}

	// The token must remain redeemable; the local tree is ahead of the
	// chain until the next reconcile.
	if f.tokens.Contains(crypto.HashTokenID(credit.TokenID)) {
		t.Fatal("token marked used despite failed transaction")
	}
	size, _ := f.pools.Size(2)
	if size != 1 {
		t.Fatalf("tree size = %d, want 1 (entry left for reconcile)", size)
	}

	// Retry after the chain recovers: reconcile resets the stale entry
	// and the deposit lands at index 0.
	f.rpc.sendErr = nil
	result, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.LeafIndex != 0 {
		t.Fatalf("LeafIndex after reconcile = %d, want 0", result.LeafIndex)
	}
}

func TestHandleDepositCatastrophicDrift(t *testing.T) {
	f := newDepositFixture(t)

	// Local tree holds two commitments the chain never saw.
	if _, err := f.pools.Insert(0, crypto.RandomFieldElement()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := f.pools.Insert(0, crypto.RandomFieldElement()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	f.rpc.setPool(f.program, 0, 0, 0)

	credit := signedCredit(t, f.signer, 100_000_000)
	result, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	if err != nil {
		t.Fatalf("HandleDeposit failed: %v", err)
	}

	// The stale entries were discarded and the new deposit is leaf 0.
	if result.LeafIndex != 0 {
		t.Fatalf("LeafIndex = %d, want 0 after reset", result.LeafIndex)
	}
	size, _ := f.pools.Size(0)
	if size != 1 {
		t.Fatalf("tree size = %d, want 1 after reset", size)
	}
}

func TestHandleDepositChainSyncRebuild(t *testing.T) {
	f := newDepositFixture(t)

	// Chain knows two deposits the local tree missed.
	c1 := crypto.RandomFieldElement()
	c2 := crypto.RandomFieldElement()
	f.rpc.setPool(f.program, 0, 2, 2)

	poolPDA := chain.PoolPDA(f.program, 0)
	f.rpc.signatures[poolPDA] = []chain.SignatureInfo{
		{Signature: "sig-new"},
		{Signature: "sig-old"},
	}
	f.rpc.txs["sig-old"] = &chain.TransactionInfo{
		LogMessages: []string{"Program log: Deposit: commitment=" + hex.EncodeToString(c1[:])},
	}
	f.rpc.txs["sig-new"] = &chain.TransactionInfo{
		LogMessages: []string{"Program log: Deposit: commitment=" + hex.EncodeToString(c2[:])},
	}

	credit := signedCredit(t, f.signer, 100_000_000)
	result, err := f.svc.HandleDeposit(context.Background(), DepositRequest{
		Credit:     credit,
		Commitment: crypto.RandomFieldElement(),
	})
	if err != nil {
		t.Fatalf("HandleDeposit failed: %v", err)
	}

	if result.LeafIndex != 2 {
		t.Fatalf("LeafIndex = %d, want 2 after rebuild", result.LeafIndex)
	}

	// Recovered commitments are in transaction order, oldest first.
	got, err := f.pools.Commitment(0, 0)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if got != c1 {
		t.Fatal("recovered commitments out of order")
	}
}
