package portfolio

import (
	"sync"

	"fxtrader/internal/model"
)

// BalanceBook holds the shared balance snapshot. Readers always get a copy;
// a refresh replaces the whole value.
type BalanceBook struct {
	mu  sync.RWMutex
	bal model.Balance
}

// NewBalanceBook creates a book seeded with bal.
func NewBalanceBook(bal model.Balance) *BalanceBook {
	return &BalanceBook{bal: bal}
}

// Snapshot returns the current balance.
func (b *BalanceBook) Snapshot() model.Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bal
}

// Replace swaps in a freshly fetched balance.
func (b *BalanceBook) Replace(bal model.Balance) {
	b.mu.Lock()
	b.bal = bal
	b.mu.Unlock()
}

// AddCollateral books collateral for a fill until the next refresh.
func (b *BalanceBook) AddCollateral(amount float64) {
	b.mu.Lock()
	b.bal.RequiredCollateral += amount
	b.mu.Unlock()
}
