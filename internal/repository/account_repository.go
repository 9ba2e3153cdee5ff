package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// AccountRepository owns identities and FacePay registrations. Balances
// only move through LedgerRepository.CommitBlock, together with the block
// that records the movement.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetByAccountNumber(ctx context.Context, number string) (*models.Account, error)
	GetByPhone(ctx context.Context, phone string) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, number string, at time.Time) error

	UpsertFaceRegistration(ctx context.Context, reg *models.FaceRegistration) error
	GetFaceRegistration(ctx context.Context, number string) (*models.FaceRegistration, error)
	SetFaceRegistrationActive(ctx context.Context, number string, active bool) (*models.FaceRegistration, error)
}

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `account_number, name, phone, email, balance, pin_hash, created_at, last_login`

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	account := &models.Account{}
	var lastLogin sql.NullTime
	err := row.Scan(
		&account.AccountNumber,
		&account.Name,
		&account.Phone,
		&account.Email,
		&account.Balance,
		&account.PINHash,
		&account.CreatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		account.LastLogin = &t
	}
	return account, nil
}

func (r *PostgresAccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (account_number, name, phone, email, balance, pin_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		account.AccountNumber,
		account.Name,
		account.Phone,
		account.Email,
		account.Balance,
		account.PINHash,
	).Scan(&account.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return nil
}

func (r *PostgresAccountRepository) GetByAccountNumber(ctx context.Context, number string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}
	return account, nil
}

func (r *PostgresAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE phone = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by phone: %w", err)
	}
	return account, nil
}

// BalanceAdjustment is one guarded change to an account balance.
type BalanceAdjustment struct {
	AccountNumber string
	Delta         decimal.Decimal
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockAccount takes the row lock on an account for the rest of tx.
func lockAccount(ctx context.Context, q queryer, number string) error {
	var locked string
	err := q.QueryRowContext(ctx,
		`SELECT account_number FROM accounts WHERE account_number = $1 FOR UPDATE`, number,
	).Scan(&locked)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("account %s: %w", number, errors.ErrAccountNotFound)
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}
	return nil
}

// adjustBalance applies delta in a single statement. The guard in the WHERE
// clause makes the debit and the non-negative check one atomic step.
func adjustBalance(ctx context.Context, q queryer, number string, delta decimal.Decimal) (*models.Account, error) {
	query := `UPDATE accounts SET balance = balance + $1
		WHERE account_number = $2 AND balance + $1 >= 0
		RETURNING ` + accountColumns

	account, err := scanAccount(q.QueryRowContext(ctx, query, delta, number))
	if err == nil {
		return account, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to adjust account balance: %w", err)
	}

	// No row updated: either the account is missing or the guard rejected it.
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)`, number,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check if account exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", number, errors.ErrAccountNotFound)
	}
	return nil, errors.ErrInsufficentBalance
}

func (r *PostgresAccountRepository) UpdateLastLogin(ctx context.Context, number string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_login = $1 WHERE account_number = $2`, at, number)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating last login: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

const registrationColumns = `account_number, sealed_embedding, payment_limit, pin_hash, is_active, created_at, updated_at`

func scanRegistration(row interface{ Scan(dest ...any) error }) (*models.FaceRegistration, error) {
	reg := &models.FaceRegistration{}
	err := row.Scan(
		&reg.AccountNumber,
		&reg.SealedEmbedding,
		&reg.PaymentLimit,
		&reg.PINHash,
		&reg.IsActive,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.UpdatedAt = reg.UpdatedAt.UTC()
	return reg, nil
}

// UpsertFaceRegistration replaces the account's registration. The table is
// keyed by account number so an account never has more than one.
func (r *PostgresAccountRepository) UpsertFaceRegistration(ctx context.Context, reg *models.FaceRegistration) error {
	query := `INSERT INTO face_registrations (account_number, sealed_embedding, payment_limit, pin_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (account_number) DO UPDATE SET
			sealed_embedding = EXCLUDED.sealed_embedding,
			payment_limit = EXCLUDED.payment_limit,
			pin_hash = EXCLUDED.pin_hash,
			is_active = EXCLUDED.is_active,
			updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		reg.AccountNumber,
		reg.SealedEmbedding,
		reg.PaymentLimit,
		reg.PINHash,
		reg.IsActive,
	).Scan(&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return errors.ErrAccountNotFound
		}
		return fmt.Errorf("failed to upsert face registration: %w", err)
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.UpdatedAt = reg.UpdatedAt.UTC()
	return nil
}

func (r *PostgresAccountRepository) GetFaceRegistration(ctx context.Context, number string) (*models.FaceRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM face_registrations WHERE account_number = $1`

	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrFacePayNotRegistered
		}
		return nil, fmt.Errorf("failed to get face registration: %w", err)
	}
	return reg, nil
}

func (r *PostgresAccountRepository) SetFaceRegistrationActive(ctx context.Context, number string, active bool) (*models.FaceRegistration, error) {
	query := `UPDATE face_registrations SET is_active = $1, updated_at = CURRENT_TIMESTAMP
		WHERE account_number = $2
		RETURNING ` + registrationColumns

	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, active, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrFacePayNotRegistered
		}
		return nil, fmt.Errorf("failed to update face registration: %w", err)
	}
	return reg, nil
}
