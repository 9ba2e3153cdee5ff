package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// LedgerWriter is the part of the ledger the transfer engine needs.
type LedgerWriter interface {
	Commit(ctx context.Context, txn models.Transaction, adjustments ...repository.BalanceAdjustment) (*models.Block, []*models.Account, error)
	Transaction(ctx context.Context, id string) (*models.Transaction, error)
	TransactionsFor(ctx context.Context, accountNumber string) ([]models.Transaction, error)
}

type TransferParams struct {
	// TransactionID, when set, makes the transfer idempotent: a transfer
	// already recorded under this id is returned instead of posted again.
	TransactionID string
	From          string
	To            string
	Amount        decimal.Decimal
	Remarks       string
	Channel       models.Channel
}

// TransferResult carries the sealed transaction and the sender's balance
// right after the debit. Replayed is set when the transaction had already
// been recorded; BlockIndex is then zero.
type TransferResult struct {
	Transaction   *models.Transaction
	BlockIndex    int64
	SenderBalance decimal.Decimal
	Replayed      bool
}

type TransactionService interface {
	Transfer(ctx context.Context, p TransferParams) (*TransferResult, error)
	Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal, remarks string) (*TransferResult, error)
	History(ctx context.Context, accountNumber string) ([]models.Transaction, error)
	Lookup(ctx context.Context, transactionID string) (*models.Transaction, error)
}

type TransactionServiceImpl struct {
	accountRepo repository.AccountRepository
	auditRepo   repository.AuditRepository
	ledger      LedgerWriter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewTransactionService(accountRepo repository.AccountRepository, auditRepo repository.AuditRepository, ledger LedgerWriter, m *metrics.Metrics, logger *slog.Logger) *TransactionServiceImpl {
	return &TransactionServiceImpl{
		accountRepo: accountRepo,
		auditRepo:   auditRepo,
		ledger:      ledger,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Transfer moves money between two accounts and seals the transaction into
// the ledger. The debit, the credit and the block are committed as one unit.
func (s *TransactionServiceImpl) Transfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	if p.Channel == "" {
		p.Channel = models.ChannelTransfer
	}
	if err := validateTransfer(p); err != nil {
		s.logger.Warn("invalid transfer request",
			"from_account", p.From,
			"to_account", p.To,
			"amount", p.Amount.String(),
			"error", err.Error(),
		)
		s.metrics.ObserveTransfer(string(p.Channel), "rejected")
		return nil, err
	}

	if p.TransactionID != "" {
		if result, err := s.replay(ctx, p); result != nil || err != nil {
			return result, err
		}
	}

	if _, err := s.accountRepo.GetByAccountNumber(ctx, p.From); err != nil {
		s.metrics.ObserveTransfer(string(p.Channel), "rejected")
		if errors.IsNotFound(err) {
			s.logger.Warn("source account not found", "from_account", p.From)
			return nil, fmt.Errorf("source account: %w", err)
		}
		return nil, errors.NewTransactionError("get source account", err)
	}
	if _, err := s.accountRepo.GetByAccountNumber(ctx, p.To); err != nil {
		s.metrics.ObserveTransfer(string(p.Channel), "rejected")
		if errors.IsNotFound(err) {
			s.logger.Warn("destination account not found", "to_account", p.To)
			return nil, fmt.Errorf("destination account: %w", err)
		}
		return nil, errors.NewTransactionError("get destination account", err)
	}

	txn := s.newTransaction(p.TransactionID, p.From, p.To, p.Amount, p.Remarks, p.Channel)
	block, accounts, err := s.ledger.Commit(ctx, txn,
		repository.BalanceAdjustment{AccountNumber: p.From, Delta: p.Amount.Neg()},
		repository.BalanceAdjustment{AccountNumber: p.To, Delta: p.Amount},
	)
	if err != nil {
		switch {
		case errors.IsInsufficientBalance(err):
			s.metrics.ObserveTransfer(string(p.Channel), "rejected")
			s.logger.Warn("insufficient balance in source account",
				"from_account", p.From,
				"requested_amount", p.Amount.StringFixed(2),
			)
			return nil, errors.ErrInsufficentBalance
		case stderrors.Is(err, errors.ErrDuplicateTransaction) && p.TransactionID != "":
			// lost a race with the same idempotent request
			if result, rerr := s.replay(ctx, p); result != nil || rerr != nil {
				return result, rerr
			}
		}
		return nil, s.rejectCommit(p.Channel, err)
	}
	debited, credited := accounts[0], accounts[1]

	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeAccount, p.From, models.AuditActionDebit,
		models.AccountBalanceSnapshot{AccountNumber: p.From, Balance: debited.Balance.Add(p.Amount).StringFixed(2)},
		balanceSnapshot(debited))
	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeAccount, p.To, models.AuditActionCredit,
		models.AccountBalanceSnapshot{AccountNumber: p.To, Balance: credited.Balance.Sub(p.Amount).StringFixed(2)},
		balanceSnapshot(credited))

	s.metrics.ObserveTransfer(string(p.Channel), "completed")
	s.logger.Info("transfer completed",
		"transaction_id", txn.ID,
		"channel", string(p.Channel),
		"from_account", p.From,
		"to_account", p.To,
		"amount", p.Amount.StringFixed(2),
		"block_index", block.Index,
	)

	return &TransferResult{
		Transaction:   &txn,
		BlockIndex:    block.Index,
		SenderBalance: debited.Balance,
	}, nil
}

// replay returns the already recorded transfer for p.TransactionID, or nil
// with no error when nothing is recorded under that id yet.
func (s *TransactionServiceImpl) replay(ctx context.Context, p TransferParams) (*TransferResult, error) {
	existing, err := s.ledger.Transaction(ctx, p.TransactionID)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewTransactionError("look up transaction", err)
	}
	if existing.SenderAccount != p.From || existing.ReceiverAccount != p.To || !existing.Amount.Equal(p.Amount) {
		s.logger.Error("transaction id reused for a different transfer",
			"transaction_id", p.TransactionID,
			"from_account", p.From,
			"to_account", p.To,
		)
		return nil, fmt.Errorf("transaction %s: %w", p.TransactionID, errors.ErrDuplicateTransaction)
	}

	sender, err := s.accountRepo.GetByAccountNumber(ctx, p.From)
	if err != nil {
		return nil, errors.NewTransactionError("get source account", err)
	}
	s.logger.Info("transfer already recorded",
		"transaction_id", existing.ID,
		"channel", string(existing.Channel),
	)
	return &TransferResult{
		Transaction:   existing,
		SenderBalance: sender.Balance,
		Replayed:      true,
	}, nil
}

// Deposit credits an account from outside the bank. The ledger records the
// sender as models.ExternalAccount.
func (s *TransactionServiceImpl) Deposit(ctx context.Context, accountNumber string, amount decimal.Decimal, remarks string) (*TransferResult, error) {
	if strings.TrimSpace(accountNumber) == "" {
		return nil, errors.NewValidationError("account_number", "must be non-empty")
	}
	if err := validateAmount(amount); err != nil {
		s.metrics.ObserveTransfer(string(models.ChannelDeposit), "rejected")
		return nil, err
	}

	if remarks == "" {
		remarks = "Deposit"
	}
	txn := s.newTransaction("", models.ExternalAccount, accountNumber, amount, remarks, models.ChannelDeposit)
	block, accounts, err := s.ledger.Commit(ctx, txn,
		repository.BalanceAdjustment{AccountNumber: accountNumber, Delta: amount},
	)
	if err != nil {
		if errors.IsNotFound(err) {
			s.metrics.ObserveTransfer(string(models.ChannelDeposit), "rejected")
			return nil, errors.ErrAccountNotFound
		}
		return nil, s.rejectCommit(models.ChannelDeposit, err)
	}
	credited := accounts[0]

	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeAccount, accountNumber, models.AuditActionCredit,
		models.AccountBalanceSnapshot{AccountNumber: accountNumber, Balance: credited.Balance.Sub(amount).StringFixed(2)},
		balanceSnapshot(credited))

	s.metrics.ObserveTransfer(string(models.ChannelDeposit), "completed")
	s.logger.Info("deposit completed",
		"transaction_id", txn.ID,
		"account_number", accountNumber,
		"amount", amount.StringFixed(2),
		"block_index", block.Index,
	)

	return &TransferResult{
		Transaction:   &txn,
		BlockIndex:    block.Index,
		SenderBalance: credited.Balance,
	}, nil
}

func (s *TransactionServiceImpl) History(ctx context.Context, accountNumber string) ([]models.Transaction, error) {
	if _, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber); err != nil {
		return nil, err
	}
	return s.ledger.TransactionsFor(ctx, accountNumber)
}

// Lookup returns a recorded transaction by id.
func (s *TransactionServiceImpl) Lookup(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.ledger.Transaction(ctx, transactionID)
}

func (s *TransactionServiceImpl) newTransaction(id, from, to string, amount decimal.Decimal, remarks string, channel models.Channel) models.Transaction {
	if id == "" {
		id = uuid.NewString()
	}
	return models.Transaction{
		ID:              id,
		SenderAccount:   from,
		ReceiverAccount: to,
		Amount:          amount.Round(2),
		Remarks:         remarks,
		Status:          models.TransactionCompleted,
		Channel:         channel,
		CreatedAt:       s.now().UTC().Truncate(time.Microsecond),
	}
}

// rejectCommit records a commit the store rolled back. Nothing was posted.
func (s *TransactionServiceImpl) rejectCommit(channel models.Channel, err error) error {
	s.metrics.IncrementRollbacks()
	s.metrics.ObserveTransfer(string(channel), "failed")
	s.logger.Warn("transfer rolled back",
		"channel", string(channel),
		"error", err.Error(),
	)
	return errors.NewTransactionError("commit transfer", err)
}

func validateTransfer(p TransferParams) error {
	if strings.TrimSpace(p.From) == "" {
		return errors.NewValidationError("from_account", "must be non-empty")
	}
	if strings.TrimSpace(p.To) == "" {
		return errors.NewValidationError("to_account", "must be non-empty")
	}
	if p.From == p.To {
		return errors.ErrSameAccount
	}
	return validateAmount(p.Amount)
}

// validateAmount requires a positive amount with at most two fractional
// digits.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", errors.ErrInvalidAmount)
	}
	return nil
}
