package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// LedgerRepository persists sealed blocks together with the transactions
// they contain. Blocks are never updated or deleted once appended.
type LedgerRepository interface {
	AppendBlock(ctx context.Context, block *models.Block) error
	// CommitBlock applies the adjustments and appends block as one unit: on
	// any error no balance has moved and the block is absent. It returns the
	// account state after each adjustment, in order.
	CommitBlock(ctx context.Context, block *models.Block, adjustments []BalanceAdjustment) ([]*models.Account, error)
	LatestBlock(ctx context.Context) (*models.Block, error)
	ListBlocks(ctx context.Context) ([]models.Block, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]models.Transaction, error)
}

type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) AppendBlock(ctx context.Context, block *models.Block) error {
	_, err := r.CommitBlock(ctx, block, nil)
	return err
}

// CommitBlock runs in one SERIALIZABLE transaction. Every account touched is
// locked FOR UPDATE in account-number order before any balance changes.
func (r *PostgresLedgerRepository) CommitBlock(ctx context.Context, block *models.Block, adjustments []BalanceAdjustment) ([]*models.Account, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, errors.NewTransactionError("begin", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	for _, number := range lockOrder(adjustments) {
		if err := lockAccount(ctx, tx, number); err != nil {
			return nil, err
		}
	}

	updated := make([]*models.Account, 0, len(adjustments))
	for _, adj := range adjustments {
		account, err := adjustBalance(ctx, tx, adj.AccountNumber, adj.Delta)
		if err != nil {
			return nil, err
		}
		updated = append(updated, account)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO blocks (block_index, sealed_at, previous_hash, merkle_root, hash)
		VALUES ($1, $2, $3, $4, $5)`,
		block.Index, block.Timestamp, block.PreviousHash, block.MerkleRoot, block.Hash,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, errors.ErrBlockConflict
		}
		return nil, fmt.Errorf("failed to insert block: %w", err)
	}

	for i, t := range block.Transactions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, block_index, position, sender_account, receiver_account, amount, remarks, status, channel, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, block.Index, i, t.SenderAccount, t.ReceiverAccount, t.Amount, t.Remarks, t.Status, t.Channel, t.CreatedAt,
		)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return nil, fmt.Errorf("transaction %s: %w", t.ID, errors.ErrDuplicateTransaction)
			}
			return nil, fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewTransactionError("commit", err)
	}

	// Nullify tx to avoid rollback in defer
	tx = nil
	return updated, nil
}

// lockOrder returns the distinct account numbers of adjustments, sorted.
func lockOrder(adjustments []BalanceAdjustment) []string {
	seen := make(map[string]bool, len(adjustments))
	numbers := make([]string, 0, len(adjustments))
	for _, adj := range adjustments {
		if !seen[adj.AccountNumber] {
			seen[adj.AccountNumber] = true
			numbers = append(numbers, adj.AccountNumber)
		}
	}
	sort.Strings(numbers)
	return numbers
}

func (r *PostgresLedgerRepository) LatestBlock(ctx context.Context) (*models.Block, error) {
	block := &models.Block{}
	err := r.db.QueryRowContext(ctx,
		`SELECT block_index, sealed_at, previous_hash, merkle_root, hash
		FROM blocks ORDER BY block_index DESC LIMIT 1`,
	).Scan(&block.Index, &block.Timestamp, &block.PreviousHash, &block.MerkleRoot, &block.Hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	block.Timestamp = block.Timestamp.UTC()

	txns, err := r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE block_index = $1 ORDER BY position`, block.Index)
	if err != nil {
		return nil, err
	}
	block.Transactions = txns
	return block, nil
}

// ListBlocks reads the chain with two ordered scans and stitches the
// transactions onto their blocks.
func (r *PostgresLedgerRepository) ListBlocks(ctx context.Context) ([]models.Block, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT block_index, sealed_at, previous_hash, merkle_root, hash
		FROM blocks ORDER BY block_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.Block
	position := make(map[int64]int)
	for rows.Next() {
		var b models.Block
		if err := rows.Scan(&b.Index, &b.Timestamp, &b.PreviousHash, &b.MerkleRoot, &b.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		position[b.Index] = len(blocks)
		blocks = append(blocks, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over blocks: %w", err)
	}

	txRows, err := r.db.QueryContext(ctx,
		`SELECT block_index, `+transactionColumns+` FROM transactions ORDER BY block_index, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list block transactions: %w", err)
	}
	defer txRows.Close()

	for txRows.Next() {
		var blockIndex int64
		t, err := scanTransaction(txRows, &blockIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if i, ok := position[blockIndex]; ok {
			blocks[i].Transactions = append(blocks[i].Transactions, *t)
		}
	}
	if err = txRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return blocks, nil
}

func (r *PostgresLedgerRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txns, err := r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, errors.ErrTransactionNotFound
	}
	return &txns[0], nil
}

func (r *PostgresLedgerRepository) ListTransactionsByAccount(ctx context.Context, accountNumber string) ([]models.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE sender_account = $1 OR receiver_account = $1
		ORDER BY created_at DESC, block_index DESC`, accountNumber)
}

const transactionColumns = `id, sender_account, receiver_account, amount, remarks, status, channel, created_at`

func scanTransaction(row interface{ Scan(dest ...any) error }, prefix ...any) (*models.Transaction, error) {
	t := &models.Transaction{}
	dest := append(prefix,
		&t.ID,
		&t.SenderAccount,
		&t.ReceiverAccount,
		&t.Amount,
		&t.Remarks,
		&t.Status,
		&t.Channel,
		&t.CreatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r *PostgresLedgerRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return transactions, nil
}
