package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentMarket-Chain/internal/payment"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach an EVM compatible settlement anchor.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// chainReader mirrors the subset of ethclient methods the settler needs.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Settler anchors marketplace receipts to chain metadata. It keeps the
// in-memory transfer semantics and enriches each receipt with the chain id
// and the block height observed at settlement time.
type Settler struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       chainReader
	inner     payment.Settler
	mu        sync.Mutex
}

// NewSettler dials the configured RPC endpoint and returns a ready-to-use settler.
func NewSettler(ctx context.Context, cfg Config) (*Settler, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Settler{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		inner:     payment.NewMemorySettler(),
	}, nil
}

// NewSettlerWithReader wires an explicit chain reader, used by tests.
func NewSettlerWithReader(name string, reader chainReader) *Settler {
	return &Settler{
		name:  name,
		eth:   reader,
		inner: payment.NewMemorySettler(),
		notes: "injected reader",
	}
}

// Close releases network connections held by the settler.
func (s *Settler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rpcClient != nil {
		s.rpcClient.Close()
		s.rpcClient = nil
	}
	s.eth = nil
}

// Transfer settles the amount in memory and stamps the receipt with chain
// metadata. A failed chain read fails the transfer so callers never record
// an unanchored receipt.
func (s *Settler) Transfer(ctx context.Context, amount float64, fromRef, toRef string) (payment.Receipt, error) {
	if s == nil {
		return payment.Receipt{}, errors.New("未初始化的结算客户端")
	}

	s.mu.Lock()
	reader := s.eth
	s.mu.Unlock()
	if reader == nil {
		return payment.Receipt{}, errors.New("结算客户端已关闭")
	}

	receipt, err := s.inner.Transfer(ctx, amount, fromRef, toRef)
	if err != nil {
		return payment.Receipt{}, err
	}

	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := reader.BlockNumber(ctx)
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}

	receipt.ChainID = toHexBig(chainID)
	receipt.BlockNumber = blockNumber
	return receipt, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
