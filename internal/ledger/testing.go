package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that creates or overwrites the wallet balance for an owner
// when using the in-memory ledger.
func SeedBalance(l Ledger, ownerID string, amount decimal.Decimal) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	s := mem.shardFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, exists := s.wallets[ownerID]
	if !exists {
		now := time.Now().UTC()
		w = &Wallet{OwnerID: ownerID, Currency: DefaultCurrency, CreatedAt: now, UpdatedAt: now}
		s.wallets[ownerID] = w
	}
	w.Balance = amount
}
