package relayer

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/buckets"
	"umbra-relayer/chain"
	"umbra-relayer/crypto"
	"umbra-relayer/pool"
)

// rentExemptMinimum is the 0-byte-account rent floor. The on-chain
// execute credits accounts directly, and the runtime rejects the
// transaction if a credited account would end below this, so absent
// recipients and the treasury are pre-funded with it.
const rentExemptMinimum uint64 = 890_880

// alreadyExecuted is returned when the nullifier account already
// exists from a previous attempt.
const alreadyExecuted = "Already executed"

// WithdrawalPublicInputs are the circuit's public signals accompanying
// a withdrawal proof. Recipient and relayer are field elements exactly
// as the circuit consumed them.
type WithdrawalPublicInputs struct {
	Root          [32]byte
	NullifierHash [32]byte
	Recipient     [32]byte
	Amount        uint64
	Relayer       [32]byte
	Fee           uint64
	BindingHash   [32]byte
}

// WithdrawalRequest is a proof plus its public inputs.
type WithdrawalRequest struct {
	Proof        chain.Groth16Proof
	PublicInputs WithdrawalPublicInputs
}

// Validate checks the request against circuit constraints. The binding
// hash itself is verified on chain as part of proof verification.
func (r *WithdrawalRequest) Validate() error {
	in := &r.PublicInputs
	if in.Amount == 0 {
		return errors.New("amount must be non-zero")
	}
	if in.Fee >= in.Amount {
		return errors.New("fee must be less than amount")
	}
	if err := crypto.ValidateNonZero(in.NullifierHash); err != nil {
		return errors.New("nullifier hash must be non-zero")
	}
	if err := crypto.ValidateNonZero(in.Recipient); err != nil {
		return errors.New("recipient must be non-zero")
	}
	if err := crypto.ValidateNonZero(in.Relayer); err != nil {
		return errors.New("relayer must be non-zero")
	}
	if err := crypto.ValidateNonZero(in.BindingHash); err != nil {
		return errors.New("binding hash must be non-zero")
	}
	return nil
}

// WithdrawalService submits timelocked withdrawal requests and
// executes them once due.
type WithdrawalService struct {
	program    chain.Pubkey
	zkVerifier chain.Pubkey
	keypair    *chain.Keypair
	feeBps     uint16
	rpc        ChainClient
	pools      *pool.Service
	roots      *pool.HistoricalRoots
	store      *pool.PendingStore

	mu      sync.RWMutex
	pending []pool.PendingRecord
}

// NewWithdrawalService wires the withdrawal pipeline, restoring
// pending records from the persistent store.
func NewWithdrawalService(
	program, zkVerifier chain.Pubkey,
	keypair *chain.Keypair,
	feeBps uint16,
	rpc ChainClient,
	pools *pool.Service,
	roots *pool.HistoricalRoots,
	store *pool.PendingStore,
) *WithdrawalService {
	ws := &WithdrawalService{
		program:    program,
		zkVerifier: zkVerifier,
		keypair:    keypair,
		feeBps:     feeBps,
		rpc:        rpc,
		pools:      pools,
		roots:      roots,
		store:      store,
	}
	if store != nil {
		records, err := store.Load()
		if err != nil {
			log.Warnf("Failed to restore pending withdrawals: %v", err)
		} else if len(records) > 0 {
			ws.pending = records
			log.Infof("Restored %d pending withdrawals from disk", len(records))
		}
	}
	return ws
}

// HandleWithdrawal validates the request, submits the on-chain
// request_withdrawal, and tracks the pending record for automatic
// execution after the timelock.
func (w *WithdrawalService) HandleWithdrawal(ctx context.Context, req WithdrawalRequest, delayHours uint8) (string, error) {
	if delayHours > buckets.MaxDelayHours {
		return "", E(KindInvalidRequest, "delay must be between %d and %d hours",
			buckets.MinDelayHours, buckets.MaxDelayHours)
	}
	if err := req.Validate(); err != nil {
		return "", Wrap(KindInvalidRequest, err, "invalid request")
	}

	bucket, ok := buckets.ID(req.PublicInputs.Amount)
	if !ok {
		return "", E(KindInvalidBucket, "invalid bucket amount: %d", req.PublicInputs.Amount)
	}

	w.checkRootFreshness(bucket, req.PublicInputs.Root)

	poolPDA := chain.PoolPDA(w.program, bucket)

	// total_deposits seeds the pending PDA; request_withdrawal does
	// not change it, so the value read immediately before submission
	// is the one the program derives with.
	totalDeposits, err := w.totalDeposits(ctx, poolPDA)
	if err != nil {
		return "", err
	}

	txSignature, err := w.submitRequest(ctx, bucket, &req, delayHours, totalDeposits)
	if err != nil {
		return "", err
	}

	amount, _ := buckets.Amount(bucket)
	fee := buckets.Fee(amount, w.feeBps)
	var recipient chain.Pubkey
	copy(recipient[:], req.PublicInputs.Recipient[:])

	record := pool.PendingRecord{
		PDA:           chain.PendingPDA(w.program, poolPDA, totalDeposits),
		PoolPDA:       poolPDA,
		BucketID:      bucket,
		NullifierHash: req.PublicInputs.NullifierHash,
		Recipient:     recipient,
		ExecuteAfter:  time.Now().Unix() + int64(delayHours)*3600,
		Amount:        amount - fee,
		Fee:           fee,
	}

	w.mu.Lock()
	w.pending = append(w.pending, record)
	w.mu.Unlock()
	if w.store != nil {
		if err := w.store.Put(record); err != nil {
			log.Warnf("Failed to persist pending withdrawal: %v", err)
		}
	}
	log.Infof("Tracked pending withdrawal: execute_after=%d, recipient=%s",
		record.ExecuteAfter, record.Recipient)

	return txSignature, nil
}

// checkRootFreshness accepts the current root or a recognised
// historical one; anything else proceeds with a warning, since the
// chain performs the authoritative validation.
func (w *WithdrawalService) checkRootFreshness(bucket uint8, root [32]byte) {
	current, err := w.pools.Root(bucket)
	if err == nil && current == root {
		return
	}
	if w.roots.Contains(bucket, root) {
		return
	}
	log.Warn("Merkle root not found in local history, will rely on on-chain validation")
}

func (w *WithdrawalService) totalDeposits(ctx context.Context, poolPDA chain.Pubkey) (uint64, error) {
	data, err := w.rpc.GetAccountData(ctx, poolPDA)
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
	return parsed.TotalDeposits, nil
}

func (w *WithdrawalService) submitRequest(ctx context.Context, bucket uint8, req *WithdrawalRequest, delayHours uint8, totalDeposits uint64) (string, error) {
	in := &req.PublicInputs
	ix := chain.NewRequestWithdrawalInstruction(
		w.program, w.zkVerifier, w.keypair.Pubkey(),
		bucket,
		in.NullifierHash, in.Recipient, in.Root, in.BindingHash, in.Relayer,
		req.Proof, delayHours, totalDeposits,
	)

	blockhash, err := w.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "fetch blockhash")
	}
	tx, err := chain.NewTransaction([]chain.Instruction{ix}, w.keypair.Pubkey(), blockhash, w.keypair)
	if err != nil {
		return "", Wrap(KindInternal, err, "build transaction")
	}

	signature, err := w.rpc.SendAndConfirmTransaction(ctx, tx, false)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "withdrawal request failed")
	}
	log.Infof("Withdrawal request submitted: tx=%s", signature)
	return signature, nil
}

// ExecuteWithdrawal executes the pending withdrawal matching a
// nullifier hash, marking it executed on success.
func (w *WithdrawalService) ExecuteWithdrawal(ctx context.Context, nullifierHash [32]byte) (string, error) {
	w.mu.RLock()
	var record *pool.PendingRecord
	for i := range w.pending {
		if w.pending[i].NullifierHash == nullifierHash && !w.pending[i].Executed {
			r := w.pending[i]
			record = &r
			break
		}
	}
	w.mu.RUnlock()

	if record == nil {
		return "", E(KindInvalidRequest, "no pending withdrawal found for this nullifier hash")
	}

	tx, err := w.ExecuteByRecord(ctx, record)
	if err != nil {
		return "", err
	}
	w.markExecuted(record.PDA)
	return tx, nil
}

// ExecuteByRecord submits the execute transaction for one pending
// record, pre-funding the recipient and treasury when they do not
// exist yet. Preflight is disabled so the program's actual failure
// surfaces.
func (w *WithdrawalService) ExecuteByRecord(ctx context.Context, record *pool.PendingRecord) (string, error) {
	nullifierPDA := chain.NullifierPDA(w.program, record.NullifierHash)
	treasury := chain.TreasuryPDA(w.program)

	log.Infof("Execute withdrawal: nullifier=%s, recipient=%s, pool=%s",
		hex.EncodeToString(record.NullifierHash[:]), record.Recipient, record.PoolPDA)

	exists, err := w.rpc.AccountExists(ctx, nullifierPDA)
	if err == nil && exists {
		log.Info("Nullifier account already exists, withdrawal may have already executed")
		return alreadyExecuted, nil
	}

	var instructions []chain.Instruction

	recipientExists, err := w.rpc.AccountExists(ctx, record.Recipient)
	if err == nil && !recipientExists {
		log.Infof("Recipient %s doesn't exist, pre-funding with %d micro-units",
			record.Recipient, rentExemptMinimum)
		instructions = append(instructions,
			chain.NewSystemTransferInstruction(w.keypair.Pubkey(), record.Recipient, rentExemptMinimum))
	}

	treasuryExists, err := w.rpc.AccountExists(ctx, treasury)
	if err == nil && !treasuryExists {
		log.Infof("Treasury %s doesn't exist, pre-funding with %d micro-units",
			treasury, rentExemptMinimum)
		instructions = append(instructions,
			chain.NewSystemTransferInstruction(w.keypair.Pubkey(), treasury, rentExemptMinimum))
	}

	instructions = append(instructions, chain.NewExecuteWithdrawalInstruction(
		w.program, w.keypair.Pubkey(),
		record.PoolPDA, record.PDA, record.Recipient,
		record.NullifierHash,
	))

	blockhash, err := w.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "fetch blockhash")
	}
	tx, err := chain.NewTransaction(instructions, w.keypair.Pubkey(), blockhash, w.keypair)
	if err != nil {
		return "", Wrap(KindInternal, err, "build transaction")
	}

	signature, err := w.rpc.SendAndConfirmTransaction(ctx, tx, true)
	if err != nil {
		return "", Wrap(KindTransactionFailed, err, "execute withdrawal failed")
	}

	log.Infof("Withdrawal executed: recipient=%s, amount=%d, fee=%d, tx=%s",
		record.Recipient, record.Amount, record.Fee, signature)
	return signature, nil
}

// markExecuted flags the record in memory and erases it from the
// persistent store.
func (w *WithdrawalService) markExecuted(pda chain.Pubkey) {
	w.mu.Lock()
	for i := range w.pending {
		if w.pending[i].PDA == pda {
			w.pending[i].Executed = true
		}
	}
	w.mu.Unlock()

	if w.store != nil {
		if err := w.store.Delete(pda); err != nil {
			log.Warnf("Failed to erase executed withdrawal: %v", err)
		}
	}
}

// PollAndExecute executes every un-executed record whose timelock has
// expired. Failed records stay un-executed and are retried on the next
// tick. The RPC calls run without holding the lock.
func (w *WithdrawalService) PollAndExecute(ctx context.Context) {
	now := time.Now().Unix()

	w.mu.RLock()
	var eligible []pool.PendingRecord
	for _, record := range w.pending {
		if !record.Executed && now >= record.ExecuteAfter {
			eligible = append(eligible, record)
		}
	}
	w.mu.RUnlock()

	if len(eligible) == 0 {
		return
	}
	log.Infof("Found %d pending withdrawals ready for execution", len(eligible))

	for i := range eligible {
		record := eligible[i]
		tx, err := w.ExecuteByRecord(ctx, &record)
		if err != nil {
			log.Errorf("Failed to execute withdrawal to %s: %v", record.Recipient, err)
			continue
		}
		w.markExecuted(record.PDA)
		log.Infof("Auto-executed withdrawal to %s: %s", record.Recipient, tx)
	}
}

// RunPoller drives PollAndExecute on a fixed interval until the
// context is cancelled. Missed ticks do not accumulate.
func (w *WithdrawalService) RunPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.PollAndExecute(ctx)
		}
	}
}

// Pending returns a snapshot of all tracked withdrawal records.
func (w *WithdrawalService) Pending() []pool.PendingRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]pool.PendingRecord(nil), w.pending...)
}
