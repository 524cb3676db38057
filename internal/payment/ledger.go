package payment

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/pkg/logger"
)

// StatusConfirmed 是本设计中交易唯一的状态：账本只记录已成立的扣费。
const StatusConfirmed = "confirmed"

// Transaction 是一次针对 Provider 调用的扣费记录，写入后不再变更。
type Transaction struct {
	ID              string  `json:"id"`
	ProviderID      string  `json:"provider_id"`
	Amount          float64 `json:"amount"`
	PayerRef        string  `json:"payer_ref"`
	TreasuryRef     string  `json:"treasury_ref"`
	Status          string  `json:"status"`
	PlatformFee     float64 `json:"platform_fee"`
	ProviderEarning float64 `json:"provider_earning"`
	Receipt         Receipt `json:"receipt"`
	CreatedAt       int64   `json:"created_at"`

	// seq 记录追加顺序，用于同一秒内的最近交易排序。
	seq uint64
}

// Stats 汇总账本的营收视图，全部由交易日志折算得出。
type Stats struct {
	TotalRevenue         float64 `json:"total_revenue"`
	TotalTransactions    int     `json:"total_transactions"`
	PlatformFeeCollected float64 `json:"platform_fee_collected"`
	ProviderEarnings     float64 `json:"provider_earnings"`
}

// Ledger 以追加日志的形式记录所有扣费，支持并发写入。
type Ledger struct {
	mu           sync.RWMutex
	transactions []*Transaction
	feeRatio     float64
	treasuryRef  string
	settler      Settler
	seq          uint64
}

// Option 定义账本的可选配置。
type Option func(*Ledger)

// WithSettler 指定结算后端，默认使用内存结算。
func WithSettler(settler Settler) Option {
	return func(l *Ledger) {
		if settler != nil {
			l.settler = settler
		}
	}
}

// WithTreasuryRef 指定平台金库标识。
func WithTreasuryRef(ref string) Option {
	return func(l *Ledger) {
		if ref != "" {
			l.treasuryRef = ref
		}
	}
}

// NewLedger 创建账本。feeRatio 超出 [0,1) 时回退到默认的 0.25。
func NewLedger(feeRatio float64, opts ...Option) *Ledger {
	if feeRatio < 0 || feeRatio >= 1 {
		feeRatio = 0.25
	}
	l := &Ledger{
		feeRatio:    feeRatio,
		treasuryRef: "marketplace_treasury",
		settler:     NewMemorySettler(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// PlatformFeeRatio 返回平台分成比例。
func (l *Ledger) PlatformFeeRatio() float64 {
	return l.feeRatio
}

// Charge 为一次 Provider 调用扣费并追加交易记录。
// 结算失败时不追加任何记录；内存结算永不失败。
func (l *Ledger) Charge(ctx context.Context, providerID string, amount float64, payerRef string) (*Transaction, error) {
	if providerID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "provider id 不能为空")
	}
	if amount < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "扣费金额不能为负")
	}

	receipt, err := l.settler.Transfer(ctx, amount, payerRef, l.treasuryRef)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSettlementFailure, err, "支付结算失败",
			xerrors.WithMetadata("provider_id", providerID))
	}

	platformFee := amount * l.feeRatio
	tx := &Transaction{
		ID:              receipt.Ref,
		ProviderID:      providerID,
		Amount:          amount,
		PayerRef:        payerRef,
		TreasuryRef:     l.treasuryRef,
		Status:          StatusConfirmed,
		PlatformFee:     platformFee,
		ProviderEarning: amount - platformFee,
		Receipt:         receipt,
		CreatedAt:       time.Now().Unix(),
	}

	l.mu.Lock()
	l.seq++
	tx.seq = l.seq
	l.transactions = append(l.transactions, tx)
	l.mu.Unlock()

	metrics.ObserveCharge(amount)
	logger.Ledger().Info("账本记账",
		slog.String("tx_id", tx.ID),
		slog.String("provider_id", providerID),
		slog.String("payer_ref", payerRef),
		slog.Float64("amount", amount),
		slog.Float64("platform_fee", platformFee),
	)
	return cloneTransaction(tx), nil
}

// TotalRevenue 返回所有交易金额之和。
func (l *Ledger) TotalRevenue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, tx := range l.transactions {
		total += tx.Amount
	}
	return total
}

// Recent 返回按时间倒序排列的最近 n 笔交易。
func (l *Ledger) Recent(n int) []*Transaction {
	if n <= 0 {
		n = 10
	}

	l.mu.RLock()
	out := make([]*Transaction, 0, len(l.transactions))
	for _, tx := range l.transactions {
		out = append(out, cloneTransaction(tx))
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].seq > out[j].seq
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// CountForProvider 返回指定 Provider 的累计扣费次数。
func (l *Ledger) CountForProvider(providerID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, tx := range l.transactions {
		if tx.ProviderID == providerID {
			count++
		}
	}
	return count
}

// Stats 折算交易日志得到营收统计。
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{}
	for _, tx := range l.transactions {
		stats.TotalTransactions++
		stats.TotalRevenue += tx.Amount
		stats.PlatformFeeCollected += tx.PlatformFee
		stats.ProviderEarnings += tx.ProviderEarning
	}
	return stats
}

func cloneTransaction(tx *Transaction) *Transaction {
	clone := *tx
	return &clone
}
