package chain

import (
	"crypto/sha256"
	"encoding/binary"
)

// PDA seed prefixes defined by the on-chain program.
var (
	SeedConfig          = []byte("config")
	SeedPool            = []byte("pool")
	SeedHistoricalRoots = []byte("historical_roots")
	SeedUsedToken       = []byte("used_token")
	SeedNote            = []byte("note")
	SeedPending         = []byte("pending")
	SeedNullifier       = []byte("nullifier")
	SeedTreasury        = []byte("treasury")
)

// Discriminator computes the 8-byte instruction tag
// SHA256("global:<name>")[..8].
func Discriminator(name string) [8]byte {
	h := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], h[:8])
	return out
}

// ConfigPDA derives the global config account.
func ConfigPDA(program Pubkey) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedConfig}, program)
	return pda
}

// PoolPDA derives the deposit pool account for a bucket.
func PoolPDA(program Pubkey, bucket uint8) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedPool, {bucket}}, program)
	return pda
}

// HistoricalRootsPDA derives the extended roots account for a pool.
func HistoricalRootsPDA(program, pool Pubkey) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedHistoricalRoots, pool[:], {0}}, program)
	return pda
}

// UsedTokenPDA derives the double-redemption guard account for a
// token hash.
func UsedTokenPDA(program Pubkey, tokenHash [32]byte) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedUsedToken, tokenHash[:]}, program)
	return pda
}

// NotePDA derives the encrypted-note account for the leaf that the
// pool's next_index points at.
func NotePDA(program, pool Pubkey, nextIndex uint64) Pubkey {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], nextIndex)
	pda, _, _ := FindProgramAddress([][]byte{SeedNote, pool[:], idx[:]}, program)
	return pda
}

// PendingPDA derives the pending-withdrawal account keyed by the
// pool's total_deposits counter.
func PendingPDA(program, pool Pubkey, totalDeposits uint64) Pubkey {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], totalDeposits)
	pda, _, _ := FindProgramAddress([][]byte{SeedPending, pool[:], n[:]}, program)
	return pda
}

// NullifierPDA derives the spent-note marker account.
func NullifierPDA(program Pubkey, nullifierHash [32]byte) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedNullifier, nullifierHash[:]}, program)
	return pda
}

// TreasuryPDA derives the relayer fee treasury account.
func TreasuryPDA(program Pubkey) Pubkey {
	pda, _, _ := FindProgramAddress([][]byte{SeedTreasury}, program)
	return pda
}

// Groth16Proof is an opaque proof consumed by the on-chain verifier.
type Groth16Proof struct {
	A [64]byte
	B [128]byte
	C [64]byte
}

// NewDepositInstruction builds the deposit instruction:
// deposit(bucket_id, commitment, token_hash, encrypted_note, merkle_root).
// The note PDA is derived from the pool's next_index as observed
// before the local insert; the program expects exactly that seed.
func NewDepositInstruction(
	program, relayer Pubkey,
	bucket uint8,
	commitment, tokenHash, merkleRoot [32]byte,
	encryptedNote []byte,
	nextIndex uint64,
) Instruction {
	pool := PoolPDA(program, bucket)

	disc := Discriminator("deposit")
	data := append([]byte{}, disc[:]...)
	data = append(data, bucket)
	data = append(data, commitment[:]...)
	data = append(data, tokenHash[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(encryptedNote)))
	data = append(data, encryptedNote...)
	data = append(data, merkleRoot[:]...)

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: relayer, IsSigner: true, IsWritable: true},
			{Pubkey: ConfigPDA(program)},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: HistoricalRootsPDA(program, pool), IsWritable: true},
			{Pubkey: UsedTokenPDA(program, tokenHash), IsWritable: true},
			{Pubkey: NotePDA(program, pool, nextIndex), IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}
}

// NewRequestWithdrawalInstruction builds the request_withdrawal
// instruction. The pending PDA is derived from the pool's live
// total_deposits counter.
func NewRequestWithdrawalInstruction(
	program, zkVerifier, payer Pubkey,
	bucket uint8,
	nullifierHash, recipient, merkleRoot, bindingHash, relayerField [32]byte,
	proof Groth16Proof,
	delayHours uint8,
	totalDeposits uint64,
) Instruction {
	pool := PoolPDA(program, bucket)

	disc := Discriminator("request_withdrawal")
	data := append([]byte{}, disc[:]...)
	data = append(data, bucket)
	data = append(data, nullifierHash[:]...)
	data = append(data, recipient[:]...)
	data = append(data, proof.A[:]...)
	data = append(data, proof.B[:]...)
	data = append(data, proof.C[:]...)
	data = append(data, merkleRoot[:]...)
	data = append(data, delayHours)
	data = append(data, bindingHash[:]...)
	data = append(data, relayerField[:]...)

	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ConfigPDA(program)},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: HistoricalRootsPDA(program, pool)},
			{Pubkey: NullifierPDA(program, nullifierHash)},
			{Pubkey: PendingPDA(program, pool, totalDeposits), IsWritable: true},
			{Pubkey: zkVerifier},
			{Pubkey: SystemProgramID},
		},
		Data: data,
	}
}

// NewExecuteWithdrawalInstruction builds the execute_withdrawal
// instruction releasing funds to the recipient and the fee to the
// relayer treasury.
func NewExecuteWithdrawalInstruction(
	program, executor, pool, pending, recipient Pubkey,
	nullifierHash [32]byte,
) Instruction {
	disc := Discriminator("execute_withdrawal")
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: executor, IsSigner: true, IsWritable: true},
			{Pubkey: ConfigPDA(program)},
			{Pubkey: pool, IsWritable: true},
			{Pubkey: pending, IsWritable: true},
			{Pubkey: NullifierPDA(program, nullifierHash), IsWritable: true},
			{Pubkey: recipient, IsWritable: true},
			{Pubkey: TreasuryPDA(program), IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: disc[:],
	}
}

// NewSystemTransferInstruction builds a native transfer of micro-units.
func NewSystemTransferInstruction(from, to Pubkey, amount uint64) Instruction {
	data := binary.LittleEndian.AppendUint32(nil, 2) // transfer
	data = binary.LittleEndian.AppendUint64(data, amount)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}
