package orderbook

import (
	"sync"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

// Transaction is §3's durable fill record.
type Transaction struct {
	Timestamp     time.Time
	Symbol        candle.Symbol
	Side          candle.Side
	Quantity      float64
	Price         float64
	AlgorithmName string
}

// TransactionLog is an append-only log of fills with an optional retention
// window (0 = unbounded).
type TransactionLog struct {
	mu        sync.Mutex
	entries   []Transaction
	retention time.Duration
}

func NewTransactionLog(retention time.Duration) *TransactionLog {
	return &TransactionLog{retention: retention}
}

// Append records a transaction and prunes anything older than the
// retention window relative to the new entry's timestamp.
func (t *TransactionLog) Append(tx Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, tx)
	if t.retention <= 0 {
		return
	}
	cutoff := tx.Timestamp.Add(-t.retention)
	i := 0
	for ; i < len(t.entries); i++ {
		if t.entries[i].Timestamp.After(cutoff) {
			break
		}
	}
	if i > 0 {
		t.entries = t.entries[i:]
	}
}

// All returns a copy of every retained transaction, oldest first.
func (t *TransactionLog) All() []Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transaction, len(t.entries))
	copy(out, t.entries)
	return out
}
