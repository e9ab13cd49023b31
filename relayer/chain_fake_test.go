package relayer

import (
	"context"
	"fmt"

	"umbra-relayer/chain"
)

// fakeChain is an in-memory stand-in for the RPC client.
type fakeChain struct {
	accounts   map[chain.Pubkey][]byte
	txs        map[string]*chain.TransactionInfo
	signatures map[chain.Pubkey][]chain.SignatureInfo

	sendErr   error
	sentCount int
	lastSkip  bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts:   make(map[chain.Pubkey][]byte),
		txs:        make(map[string]*chain.TransactionInfo),
		signatures: make(map[chain.Pubkey][]chain.SignatureInfo),
	}
}

func (f *fakeChain) GetAccountData(_ context.Context, pubkey chain.Pubkey) ([]byte, error) {
	data, ok := f.accounts[pubkey]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeChain) AccountExists(_ context.Context, pubkey chain.Pubkey) (bool, error) {
	_, ok := f.accounts[pubkey]
	return ok, nil
}

func (f *fakeChain) GetLatestBlockhash(context.Context) ([32]byte, error) {
	return [32]byte{0xAA}, nil
}

func (f *fakeChain) SendAndConfirmTransaction(_ context.Context, _ *chain.Transaction, skipPreflight bool) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentCount++
	f.lastSkip = skipPreflight
	return fmt.Sprintf("tx-%d", f.sentCount), nil
}

func (f *fakeChain) GetSignaturesForAddress(_ context.Context, pubkey chain.Pubkey) ([]chain.SignatureInfo, error) {
	return f.signatures[pubkey], nil
}

func (f *fakeChain) GetTransaction(_ context.Context, signature string) (*chain.TransactionInfo, error) {
	tx, ok := f.txs[signature]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return tx, nil
}

// setPool installs a DepositPool account with the given counters.
func (f *fakeChain) setPool(program chain.Pubkey, bucket uint8, nextIndex, totalDeposits uint64) {
	data := make([]byte, 200)
	data[8] = bucket
	putUint64LE(data[49:], nextIndex)
	putUint64LE(data[57:], totalDeposits)
	f.accounts[chain.PoolPDA(program, bucket)] = data
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
