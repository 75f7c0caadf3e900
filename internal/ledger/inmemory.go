package ledger

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const shardCount = 32

type mutation struct {
	ownerID string
	kind    string
	amount  decimal.Decimal
}

type shard struct {
	mu        sync.RWMutex
	wallets   map[string]*Wallet
	mutations map[string]mutation
}

type inMemoryLedger struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger. Wallets are spread over
// independently locked shards so unrelated owners never contend on the same mutex.
func NewInMemory() Ledger {
	l := &inMemoryLedger{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{
			wallets:   make(map[string]*Wallet),
			mutations: make(map[string]mutation),
		}
	}
	return l
}

func shardIndex(ownerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	return int(h.Sum32() % shardCount)
}

func (l *inMemoryLedger) shardFor(ownerID string) *shard {
	return l.shards[shardIndex(ownerID)]
}

func (l *inMemoryLedger) CreateWallet(_ context.Context, ownerID, currency string) (Wallet, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	s := l.shardFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[ownerID]; exists {
		return Wallet{}, ErrWalletExists
	}
	now := l.now().UTC()
	w := &Wallet{OwnerID: ownerID, Balance: decimal.Zero, Currency: currency, CreatedAt: now, UpdatedAt: now}
	s.wallets[ownerID] = w
	return *w, nil
}

func (l *inMemoryLedger) Wallet(_ context.Context, ownerID string) (Wallet, error) {
	s := l.shardFor(ownerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (l *inMemoryLedger) Balance(_ context.Context, ownerID string) (decimal.Decimal, error) {
	s := l.shardFor(ownerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[ownerID]
	if !ok {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

func (l *inMemoryLedger) Credit(_ context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}
	s := l.shardFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[ownerID]
	if !ok {
		return decimal.Zero, ErrWalletNotFound
	}
	if _, seen := s.mutations[mutationID]; seen {
		return w.Balance, ErrDuplicateMutation
	}

	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = l.now().UTC()
	s.mutations[mutationID] = mutation{ownerID: ownerID, kind: "credit", amount: amount}
	return w.Balance, nil
}

func (l *inMemoryLedger) Debit(_ context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}
	s := l.shardFor(ownerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[ownerID]
	if !ok {
		return decimal.Zero, ErrWalletNotFound
	}
	if _, seen := s.mutations[mutationID]; seen {
		return w.Balance, ErrDuplicateMutation
	}
	if w.Balance.LessThan(amount) {
		return w.Balance, ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = l.now().UTC()
	s.mutations[mutationID] = mutation{ownerID: ownerID, kind: "debit", amount: amount}
	return w.Balance, nil
}

// Transfer locks both shards in index order; the mutation id is recorded on the source shard.
func (l *inMemoryLedger) Transfer(_ context.Context, fromID, toID, mutationID string, amount decimal.Decimal) (TransferResult, error) {
	if err := validAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if fromID == toID {
		return TransferResult{}, ErrSelfTransfer
	}

	fi, ti := shardIndex(fromID), shardIndex(toID)
	first, second := fi, ti
	if first > second {
		first, second = second, first
	}
	l.shards[first].mu.Lock()
	defer l.shards[first].mu.Unlock()
	if second != first {
		l.shards[second].mu.Lock()
		defer l.shards[second].mu.Unlock()
	}

	src, dst := l.shards[fi], l.shards[ti]
	from, ok := src.wallets[fromID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	to, ok := dst.wallets[toID]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}

	if _, seen := src.mutations[mutationID]; seen {
		return TransferResult{MutationID: mutationID, FromBalance: from.Balance, ToBalance: to.Balance}, ErrDuplicateMutation
	}
	if from.Balance.LessThan(amount) {
		return TransferResult{}, ErrInsufficientFunds
	}

	now := l.now().UTC()
	from.Balance = from.Balance.Sub(amount)
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(amount)
	to.UpdatedAt = now
	src.mutations[mutationID] = mutation{ownerID: fromID, kind: "transfer", amount: amount}

	return TransferResult{MutationID: mutationID, FromBalance: from.Balance, ToBalance: to.Balance}, nil
}

func (l *inMemoryLedger) Applied(_ context.Context, mutationID string) (bool, error) {
	for _, s := range l.shards {
		s.mu.RLock()
		_, ok := s.mutations[mutationID]
		s.mu.RUnlock()
		if ok {
			return true, nil
		}
	}
	return false, nil
}
