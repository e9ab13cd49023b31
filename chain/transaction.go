package chain

import (
	"errors"
	"fmt"
)

// AccountMeta describes how an instruction touches an account.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Transaction is a signed message ready for submission.
type Transaction struct {
	signatures [][64]byte
	message    []byte
}

// ErrMissingSigner is returned when a required signer keypair was not
// supplied.
var ErrMissingSigner = errors.New("missing signer for transaction")

// NewTransaction compiles the instructions into a message, signs it
// with the given keypairs (the fee payer first), and returns the
// signed transaction.
func NewTransaction(instructions []Instruction, payer Pubkey, blockhash [32]byte, signers ...*Keypair) (*Transaction, error) {
	keys := compileAccounts(instructions, payer)
	message := serializeMessage(keys, blockhash, instructions)

	tx := &Transaction{message: message}
	for _, meta := range keys {
		if !meta.IsSigner {
			break // signers are ordered first
		}
		var signer *Keypair
		for _, kp := range signers {
			if kp.Pubkey() == meta.Pubkey {
				signer = kp
				break
			}
		}
		if signer == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, meta.Pubkey)
		}
		tx.signatures = append(tx.signatures, signer.Sign(message))
	}

	return tx, nil
}

// Serialize returns the full wire bytes: compact array of signatures
// followed by the message.
func (tx *Transaction) Serialize() []byte {
	out := appendShortvecLen(nil, len(tx.signatures))
	for _, sig := range tx.signatures {
		out = append(out, sig[:]...)
	}
	out = append(out, tx.message...)
	return out
}

// compileAccounts flattens instruction accounts into the canonical
// ordering: writable signers, readonly signers, writable non-signers,
// readonly non-signers, with program IDs as readonly non-signers. The
// fee payer always sorts first.
func compileAccounts(instructions []Instruction, payer Pubkey) []AccountMeta {
	merged := make(map[Pubkey]*AccountMeta)
	order := []Pubkey{}

	touch := func(meta AccountMeta) {
		if existing, ok := merged[meta.Pubkey]; ok {
			existing.IsSigner = existing.IsSigner || meta.IsSigner
			existing.IsWritable = existing.IsWritable || meta.IsWritable
			return
		}
		m := meta
		merged[meta.Pubkey] = &m
		order = append(order, meta.Pubkey)
	}

	touch(AccountMeta{Pubkey: payer, IsSigner: true, IsWritable: true})
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			touch(meta)
		}
		touch(AccountMeta{Pubkey: ix.ProgramID})
	}

	var writableSigners, readonlySigners, writable, readonly []AccountMeta
	for _, pk := range order {
		meta := *merged[pk]
		switch {
		case pk == payer:
			continue // prepended below
		case meta.IsSigner && meta.IsWritable:
			writableSigners = append(writableSigners, meta)
		case meta.IsSigner:
			readonlySigners = append(readonlySigners, meta)
		case meta.IsWritable:
			writable = append(writable, meta)
		default:
			readonly = append(readonly, meta)
		}
	}

	keys := []AccountMeta{{Pubkey: payer, IsSigner: true, IsWritable: true}}
	keys = append(keys, writableSigners...)
	keys = append(keys, readonlySigners...)
	keys = append(keys, writable...)
	keys = append(keys, readonly...)
	return keys
}

// serializeMessage encodes the legacy message format: header, account
// keys, recent blockhash, and compiled instructions.
func serializeMessage(keys []AccountMeta, blockhash [32]byte, instructions []Instruction) []byte {
	numSigners := 0
	numReadonlySigners := 0
	numReadonlyUnsigned := 0
	for _, meta := range keys {
		if meta.IsSigner {
			numSigners++
			if !meta.IsWritable {
				numReadonlySigners++
			}
		} else if !meta.IsWritable {
			numReadonlyUnsigned++
		}
	}

	index := make(map[Pubkey]int, len(keys))
	for i, meta := range keys {
		index[meta.Pubkey] = i
	}

	out := []byte{byte(numSigners), byte(numReadonlySigners), byte(numReadonlyUnsigned)}
	out = appendShortvecLen(out, len(keys))
	for _, meta := range keys {
		out = append(out, meta.Pubkey[:]...)
	}
	out = append(out, blockhash[:]...)

	out = appendShortvecLen(out, len(instructions))
	for _, ix := range instructions {
		out = append(out, byte(index[ix.ProgramID]))
		out = appendShortvecLen(out, len(ix.Accounts))
		for _, meta := range ix.Accounts {
			out = append(out, byte(index[meta.Pubkey]))
		}
		out = appendShortvecLen(out, len(ix.Data))
		out = append(out, ix.Data...)
	}
	return out
}
