package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// Ledger is the single append path onto the block chain. One append is in
// flight at a time so block indexes and links are assigned deterministically.
type Ledger struct {
	repo    repository.LedgerRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu sync.Mutex
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(repo repository.LedgerRepository, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// timestamp truncates to microseconds, the precision Postgres keeps, so a
// block hashes the same before and after a round trip.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// Init seals the genesis block if the chain is empty and returns the head.
func (l *Ledger) Init(ctx context.Context) (*models.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.headLocked(ctx)
}

func (l *Ledger) headLocked(ctx context.Context) (*models.Block, error) {
	latest, err := l.repo.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger head: %w", err)
	}
	if latest != nil {
		return latest, nil
	}

	genesis := Seal(0, GenesisPreviousHash, l.timestamp(), nil)
	if err := l.repo.AppendBlock(ctx, &genesis); err != nil {
		return nil, fmt.Errorf("failed to seal genesis block: %w", err)
	}
	l.logger.Info("sealed genesis block", "hash", genesis.Hash)
	return &genesis, nil
}

// Commit seals txn into a new block linked to the current head and stores
// it together with the balance adjustments it records. Each block holds
// exactly one transaction. On error neither the block nor any balance
// change is stored.
func (l *Ledger) Commit(ctx context.Context, txn models.Transaction, adjustments ...repository.BalanceAdjustment) (*models.Block, []*models.Account, error) {
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	head, err := l.headLocked(ctx)
	if err != nil {
		return nil, nil, err
	}

	block := Seal(head.Index+1, head.Hash, l.timestamp(), []models.Transaction{txn})
	accounts, err := l.repo.CommitBlock(ctx, &block, adjustments)
	if err != nil {
		l.logger.Error("failed to commit block",
			"block_index", block.Index,
			"transaction_id", txn.ID,
			"error", err.Error(),
		)
		return nil, nil, fmt.Errorf("failed to commit block %d: %w", block.Index, err)
	}

	l.metrics.ObserveBlockSealed(start)
	l.logger.Info("sealed block",
		"block_index", block.Index,
		"transaction_id", txn.ID,
		"hash", block.Hash,
	)
	return &block, accounts, nil
}

// List returns every sealed block in index order.
func (l *Ledger) List(ctx context.Context) ([]models.Block, error) {
	blocks, err := l.repo.ListBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	return blocks, nil
}

func (l *Ledger) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	return l.repo.GetTransaction(ctx, id)
}

// TransactionsFor lists the account's transactions, newest first.
func (l *Ledger) TransactionsFor(ctx context.Context, accountNumber string) ([]models.Transaction, error) {
	txns, err := l.repo.ListTransactionsByAccount(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}
