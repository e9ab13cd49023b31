package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/buckets"
	"umbra-relayer/chain"
	"umbra-relayer/crypto"
	"umbra-relayer/pool"
)

// depositLogPrefix marks commitment announcements in program logs,
// used to rebuild a lagging local tree from transaction history.
const depositLogPrefix = "Program log: Deposit: commitment="

// Chain-sync limits: at most historyScanWindow successful transactions
// are scanned, taken oldest first from the fetched history, and a
// history longer than largeHistoryCutoff is optionally skipped entirely.
const (
	historyScanWindow  = 20
	largeHistoryCutoff = 50
)

// Credit is a signed credit presented for redemption.
type Credit struct {
	TokenID   [32]byte
	Signature []byte
	Amount    uint64
}

// DepositRequest is a decrypted deposit submission.
type DepositRequest struct {
	Credit        Credit
	Commitment    [32]byte
	EncryptedNote []byte
}

// DepositResult reports a confirmed deposit.
type DepositResult struct {
	TxSignature string
	LeafIndex   uint64
	MerkleRoot  [32]byte
}

// DepositService redeems credits into pool commitments and submits the
// on-chain deposit transactions.
type DepositService struct {
	program chain.Pubkey
	keypair *chain.Keypair
	rpc     ChainClient
	signer  *crypto.Signer
	pools   *pool.Service
	tokens  *pool.TokenStore
	roots   *pool.HistoricalRoots

	// skipLargeHistoryScan restarts a badly lagging tree empty instead
	// of scanning deep transaction history. Off by default: it
	// silently makes old deposits unwithdrawable via this relayer.
	skipLargeHistoryScan bool
}

// NewDepositService wires the deposit pipeline.
func NewDepositService(
	program chain.Pubkey,
	keypair *chain.Keypair,
	rpc ChainClient,
	signer *crypto.Signer,
	pools *pool.Service,
	tokens *pool.TokenStore,
	roots *pool.HistoricalRoots,
	skipLargeHistoryScan bool,
) *DepositService {
	return &DepositService{
		program:              program,
		keypair:              keypair,
		rpc:                  rpc,
		signer:               signer,
		pools:                pools,
		tokens:               tokens,
		roots:                roots,
		skipLargeHistoryScan: skipLargeHistoryScan,
	}
}

// HandleDeposit runs the full pipeline: credit verification, reconcile
// against the chain, local insert, on-chain submission, and token
// burn-in. The token is only persisted after the transaction confirms.
func (d *DepositService) HandleDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if !d.signer.Verify(req.Credit.TokenID[:], req.Credit.Signature) {
		return nil, E(KindInvalidSignature, "invalid signature")
	}

	tokenHash := crypto.HashTokenID(req.Credit.TokenID)
	if d.tokens.Contains(tokenHash) {
		return nil, E(KindTokenAlreadyRedeemed, "token already redeemed")
	}

	bucket, ok := buckets.ID(req.Credit.Amount)
	if !ok {
		return nil, E(KindInvalidBucket, "invalid bucket amount: %d", req.Credit.Amount)
	}

	// Reconcile before touching the local tree: the on-chain
	// next_index is the authority on the pool's size.
	nextIndex, err := d.onChainNextIndex(ctx, bucket)
	if err != nil {
		return nil, err
	}
	localSize, err := d.pools.Size(bucket)
	if err != nil {
		return nil, Wrap(KindMerkleTree, err, "pool state unavailable")
	}
	if localSize != nextIndex {
		log.Warnf("Local tree out of sync with chain: local=%d, on-chain=%d. Syncing...",
			localSize, nextIndex)
		if err := d.syncLocalTree(ctx, bucket, nextIndex); err != nil {
			return nil, err
		}
	}

	leafIndex, err := d.pools.Insert(bucket, req.Commitment)
	if err != nil {
		return nil, Wrap(KindMerkleTree, err, "insert commitment")
	}
	root, err := d.pools.Root(bucket)
	if err != nil {
		return nil, Wrap(KindMerkleTree, err, "read root")
	}

	// The note PDA seed is the next_index observed before our insert;
	// that is the value the on-chain program will use.
	txSignature, err := d.submitDeposit(ctx, bucket, req.Commitment, tokenHash, req.EncryptedNote, root, nextIndex)
	if err != nil {
		// The tree now runs ahead of the chain; the next deposit's
		// reconcile step discovers and resets it. The token must not
		// be marked used.
		return nil, err
	}

	if err := d.tokens.Insert(tokenHash); err != nil {
		log.Errorf("Failed to persist used token: %v", err)
	}
	d.roots.Record(bucket, root)

	log.Infof("Deposit successful: bucket=%d, leaf_index=%d, tx=%s", bucket, leafIndex, txSignature)
	return &DepositResult{
		TxSignature: txSignature,
		LeafIndex:   leafIndex,
		MerkleRoot:  root,
	}, nil
}

// onChainNextIndex reads the pool account's next_index; a pool that
// does not exist yet reads as zero.
func (d *DepositService) onChainNextIndex(ctx context.Context, bucket uint8) (uint64, error) {
	poolPDA := chain.PoolPDA(d.program, bucket)
	data, err := d.rpc.GetAccountData(ctx, poolPDA)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, Wrap(KindTransactionFailed, err, "failed to fetch pool")
	}

	parsed, err := chain.ParseDepositPool(data)
	if err != nil {
		return 0, nil
	}
	return parsed.NextIndex, nil
}

// syncLocalTree brings the local tree in line with the on-chain size.
// A local tree ahead of the chain is catastrophic drift: entries it
// holds were never accepted on chain, so it is reset and rebuilt.
// Failures inside the history scan never fail the deposit; the tree
// proceeds possibly incomplete, loudly.
func (d *DepositService) syncLocalTree(ctx context.Context, bucket uint8, onChainSize uint64) error {
	localSize, err := d.pools.Size(bucket)
	if err != nil {
		return Wrap(KindMerkleTree, err, "pool state unavailable")
	}

	if localSize > onChainSize {
		log.Errorf("Local tree has more entries (%d) than on-chain (%d). This should never happen! Resetting local tree.",
			localSize, onChainSize)
		if err := d.pools.SyncFromChain(bucket, nil); err != nil {
			return Wrap(KindMerkleTree, err, "reset local tree")
		}
	}

	localSize, _ = d.pools.Size(bucket)
	if localSize >= onChainSize {
		return nil
	}
	log.Warnf("On-chain has %d entries, local has %d. Fetching missing commitments from transaction history...",
		onChainSize, localSize)

	poolPDA := chain.PoolPDA(d.program, bucket)
	signatures, err := d.rpc.GetSignaturesForAddress(ctx, poolPDA)
	if err != nil {
		log.Warnf("Failed to fetch transaction history for bucket %d: %v", bucket, err)
		return nil
	}
	log.Infof("Found %d transactions for pool %d", len(signatures), bucket)

	if len(signatures) > largeHistoryCutoff && d.skipLargeHistoryScan {
		log.Warnf("Too many transactions (%d) to scan efficiently. Skipping history scan.", len(signatures))
		log.Warn("CONTINUING WITH EMPTY TREE - Old deposits (if any) will NOT be withdrawable!")
		log.Warn("The relayer will track new deposits from this point forward.")
		if err := d.pools.SyncFromChain(bucket, nil); err != nil {
			return Wrap(KindMerkleTree, err, "reset local tree")
		}
		return nil
	}

	commitments := d.scanDepositHistory(ctx, signatures)
	if len(commitments) == 0 {
		log.Warnf("Could not find any commitments in transaction history for bucket %d", bucket)
		log.Warn("CONTINUING WITH EMPTY TREE - Old deposits (if any) will NOT be withdrawable!")
		if err := d.pools.SyncFromChain(bucket, nil); err != nil {
			return Wrap(KindMerkleTree, err, "reset local tree")
		}
		return nil
	}

	log.Infof("Found %d commitments from transaction history", len(commitments))
	if err := d.pools.SyncFromChain(bucket, commitments); err != nil {
		return Wrap(KindMerkleTree, err, "rebuild local tree")
	}

	newSize, _ := d.pools.Size(bucket)
	if newSize != onChainSize {
		log.Warnf("After sync: local size %d still doesn't match on-chain size %d", newSize, onChainSize)
		log.Warn("Some commitments may be missing from transaction history.")
	} else {
		log.Infof("Successfully synced local tree with on-chain state")
	}
	return nil
}

// scanDepositHistory walks the oldest transactions in the scan window
// and extracts deposit commitments from their program logs, in
// transaction order.
func (d *DepositService) scanDepositHistory(ctx context.Context, signatures []chain.SignatureInfo) [][32]byte {
	// History arrives newest first; walk from the tail for
	// oldest-first ordering.
	var commitments [][32]byte
	scanned := 0
	for i := len(signatures) - 1; i >= 0 && scanned < historyScanWindow; i-- {
		info := signatures[i]
		if info.Failed {
			continue
		}
		scanned++

		tx, err := d.rpc.GetTransaction(ctx, info.Signature)
		if err != nil {
			log.Warnf("Failed to fetch transaction %s: %v", info.Signature, err)
			continue
		}

		for _, line := range tx.LogMessages {
			if !strings.Contains(line, depositLogPrefix) {
				continue
			}
			idx := strings.Index(line, "commitment=")
			hexPart := line[idx+len("commitment="):]
			if len(hexPart) < 64 {
				continue
			}
			raw, err := hex.DecodeString(hexPart[:64])
			if err != nil || len(raw) != 32 {
				log.Warnf("Invalid commitment hex in log: %s", hexPart[:64])
				continue
			}
			var c [32]byte
			copy(c[:], raw)
			commitments = append(commitments, c)
			log.Infof("Found commitment from tx %s: %s", info.Signature, hexPart[:64])
		}
	}
	return commitments
}

// submitDeposit builds, signs, and confirms the on-chain deposit.
func (d *DepositService) submitDeposit(
	ctx context.Context,
	bucket uint8,
	commitment, tokenHash [32]byte,
	encryptedNote []byte,
	merkleRoot [32]byte,
	nextIndex uint64,
) (string, error) {
	ix := chain.NewDepositInstruction(
		d.program, d.keypair.Pubkey(),
		bucket, commitment, tokenHash, merkleRoot,
		encryptedNote, nextIndex,
	)

	blockhash, err := d.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "fetch blockhash")
	}
	tx, err := chain.NewTransaction([]chain.Instruction{ix}, d.keypair.Pubkey(), blockhash, d.keypair)
	if err != nil {
		return "", Wrap(KindInternal, err, "build transaction")
	}

	signature, err := d.rpc.SendAndConfirmTransaction(ctx, tx, false)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "deposit transaction failed")
	}
	return signature, nil
}
