package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type stubReader struct {
	chainID *big.Int
	block   uint64
	err     error
}

func (s *stubReader) ChainID(context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.chainID, nil
}

func (s *stubReader) BlockNumber(context.Context) (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.block, nil
}

func TestTransferAnchorsReceipt(t *testing.T) {
	settler := NewSettlerWithReader("test", &stubReader{chainID: big.NewInt(1337), block: 42})

	receipt, err := settler.Transfer(context.Background(), 0.012, "demo_wallet", "marketplace_treasury")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if receipt.Ref == "" {
		t.Fatal("expected receipt ref to be set")
	}
	if receipt.ChainID != "0x539" {
		t.Fatalf("unexpected chain id: %s", receipt.ChainID)
	}
	if receipt.BlockNumber != 42 {
		t.Fatalf("unexpected block number: %d", receipt.BlockNumber)
	}
}

func TestTransferFailsWhenChainUnreachable(t *testing.T) {
	settler := NewSettlerWithReader("test", &stubReader{err: errors.New("node down")})

	if _, err := settler.Transfer(context.Background(), 0.012, "demo_wallet", "marketplace_treasury"); err == nil {
		t.Fatal("expected transfer to fail when chain metadata is unavailable")
	}
}

func TestNewSettlerRequiresRPCURL(t *testing.T) {
	if _, err := NewSettler(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}
