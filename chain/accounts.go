package chain

import (
	"encoding/binary"
	"errors"
)

// DepositPool account layout offsets. The layout is a wire contract
// with the on-chain program and must not drift:
// discriminator 8 | bucket_id 1 | amount 8 | merkle_root 32 |
// next_index 8 | total_deposits 8 | anonymity_set 8 |
// historical_roots 2*32 | hist_idx 1 | bump 1.
const (
	poolOffsetBucketID      = 8
	poolOffsetAmount        = 9
	poolOffsetMerkleRoot    = 17
	poolOffsetNextIndex     = 49
	poolOffsetTotalDeposits = 57
	poolOffsetAnonymitySet  = 65
	poolMinLen              = 73
)

// DepositPool mirrors the fields of the on-chain pool account the
// relayer reads.
type DepositPool struct {
	BucketID      uint8
	Amount        uint64
	MerkleRoot    [32]byte
	NextIndex     uint64
	TotalDeposits uint64
	AnonymitySet  uint64
}

// ErrAccountTooShort is returned when account data does not cover the
// expected layout.
var ErrAccountTooShort = errors.New("account data too short")

// ParseDepositPool decodes a DepositPool account.
func ParseDepositPool(data []byte) (*DepositPool, error) {
	if len(data) < poolMinLen {
		return nil, ErrAccountTooShort
	}

	pool := &DepositPool{
		BucketID:      data[poolOffsetBucketID],
		Amount:        binary.LittleEndian.Uint64(data[poolOffsetAmount:]),
		NextIndex:     binary.LittleEndian.Uint64(data[poolOffsetNextIndex:]),
		TotalDeposits: binary.LittleEndian.Uint64(data[poolOffsetTotalDeposits:]),
		AnonymitySet:  binary.LittleEndian.Uint64(data[poolOffsetAnonymitySet:]),
	}
	copy(pool.MerkleRoot[:], data[poolOffsetMerkleRoot:poolOffsetMerkleRoot+32])
	return pool, nil
}
