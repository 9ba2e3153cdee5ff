package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// InMemoryLedgerRepository is an ordered block store with an id index over
// the contained transactions. Blocks are deep-copied on every read and write.
// Balance adjustments are applied to the account store it was built with.
type InMemoryLedgerRepository struct {
	mu       sync.RWMutex
	blocks   []models.Block
	txIdx    map[string][2]int
	accounts *InMemoryAccountRepository
}

// NewInMemoryLedgerRepository builds a block store posting balances to
// accounts. accounts may be nil when no block carries adjustments.
func NewInMemoryLedgerRepository(accounts *InMemoryAccountRepository) *InMemoryLedgerRepository {
	return &InMemoryLedgerRepository{
		txIdx:    make(map[string][2]int),
		accounts: accounts,
	}
}

func (r *InMemoryLedgerRepository) AppendBlock(ctx context.Context, block *models.Block) error {
	_, err := r.CommitBlock(ctx, block, nil)
	return err
}

// CommitBlock holds the account store lock and then the block lock, checks
// every precondition, and only then mutates either store.
func (r *InMemoryLedgerRepository) CommitBlock(_ context.Context, block *models.Block, adjustments []BalanceAdjustment) ([]*models.Account, error) {
	if len(adjustments) > 0 {
		if r.accounts == nil {
			return nil, fmt.Errorf("ledger has no account store for %d adjustments", len(adjustments))
		}
		r.accounts.mu.Lock()
		defer r.accounts.mu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if block.Index != int64(len(r.blocks)) {
		return nil, errors.ErrBlockConflict
	}
	for _, t := range block.Transactions {
		if _, ok := r.txIdx[t.ID]; ok {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, errors.ErrDuplicateTransaction)
		}
	}

	balances := make(map[string]decimal.Decimal, len(adjustments))
	updated := make([]*models.Account, 0, len(adjustments))
	for _, adj := range adjustments {
		account, ok := r.accounts.accounts[adj.AccountNumber]
		if !ok {
			return nil, fmt.Errorf("account %s: %w", adj.AccountNumber, errors.ErrAccountNotFound)
		}
		balance, seen := balances[adj.AccountNumber]
		if !seen {
			balance = account.Balance
		}
		balance = balance.Add(adj.Delta)
		if balance.IsNegative() {
			return nil, errors.ErrInsufficentBalance
		}
		balances[adj.AccountNumber] = balance

		out := *account
		out.Balance = balance
		updated = append(updated, &out)
	}

	for number, balance := range balances {
		r.accounts.accounts[number].Balance = balance
	}
	stored := copyBlock(*block)
	for i, t := range stored.Transactions {
		r.txIdx[t.ID] = [2]int{len(r.blocks), i}
	}
	r.blocks = append(r.blocks, stored)
	return updated, nil
}

func (r *InMemoryLedgerRepository) LatestBlock(_ context.Context) (*models.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.blocks) == 0 {
		return nil, nil
	}
	b := copyBlock(r.blocks[len(r.blocks)-1])
	return &b, nil
}

func (r *InMemoryLedgerRepository) ListBlocks(_ context.Context) ([]models.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Block, len(r.blocks))
	for i, b := range r.blocks {
		out[i] = copyBlock(b)
	}
	return out, nil
}

func (r *InMemoryLedgerRepository) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.txIdx[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	t := r.blocks[pos[0]].Transactions[pos[1]]
	return &t, nil
}

func (r *InMemoryLedgerRepository) ListTransactionsByAccount(_ context.Context, accountNumber string) ([]models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Transaction
	for i := len(r.blocks) - 1; i >= 0; i-- {
		for _, t := range r.blocks[i].Transactions {
			if t.SenderAccount == accountNumber || t.ReceiverAccount == accountNumber {
				out = append(out, t)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func copyBlock(b models.Block) models.Block {
	out := b
	if b.Transactions != nil {
		out.Transactions = append([]models.Transaction(nil), b.Transactions...)
	}
	return out
}
