package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// TokenIssuer signs access tokens for an account.
type TokenIssuer interface {
	GenerateToken(accountNumber string) (string, error)
}

// FaceEnroller turns a face sample into a sealed embedding.
type FaceEnroller interface {
	Enroll(ctx context.Context, accountNumber string, image []byte) ([]byte, error)
}

type FacePayRegistration struct {
	Image        []byte
	PaymentLimit decimal.Decimal
	PIN          string
}

type AccountService interface {
	Register(ctx context.Context, req *models.RegisterAccountRequest) (*models.Account, string, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.Account, string, error)
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
	RegisterFacePay(ctx context.Context, accountNumber string, reg FacePayRegistration) (*models.FaceRegistration, error)
	ToggleFacePay(ctx context.Context, accountNumber string, active bool) (*models.FaceRegistration, error)
	FacePayStatus(ctx context.Context, accountNumber string) (*models.FaceRegistration, error)
	AuditTrail(ctx context.Context, accountNumber string) ([]*models.AuditLog, error)
}

type AccountServiceImpl struct {
	accountRepo  repository.AccountRepository
	auditRepo    repository.AuditRepository
	transactions TransactionService
	enroller     FaceEnroller
	tokens       TokenIssuer
	logger       *slog.Logger
}

func NewAccountService(accountRepo repository.AccountRepository, auditRepo repository.AuditRepository, transactions TransactionService, enroller FaceEnroller, tokens TokenIssuer, logger *slog.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{
		accountRepo:  accountRepo,
		auditRepo:    auditRepo,
		transactions: transactions,
		enroller:     enroller,
		tokens:       tokens,
		logger:       logger,
	}
}

// Register opens an account. A positive initial balance is booked as a
// deposit so that it appears on the ledger.
func (s *AccountServiceImpl) Register(ctx context.Context, req *models.RegisterAccountRequest) (*models.Account, string, error) {
	if err := s.validateRegisterRequest(req); err != nil {
		s.logger.Warn("invalid register request",
			"account_number", req.AccountNumber,
			"error", err.Error(),
		)
		return nil, "", err
	}

	pinHash, err := auth.HashPIN(req.PIN)
	if err != nil {
		return nil, "", err
	}

	account := &models.Account{
		AccountNumber: req.AccountNumber,
		Name:          strings.TrimSpace(req.Name),
		Phone:         req.Phone,
		Email:         req.Email,
		Balance:       decimal.Zero,
		PINHash:       pinHash,
	}

	if err := s.accountRepo.CreateAccount(ctx, account); err != nil {
		if errors.IsAlreadyExists(err) {
			s.logger.Warn("account already exists",
				"account_number", req.AccountNumber,
			)
			return nil, "", err
		}
		s.logger.Error("failed to create account",
			"account_number", req.AccountNumber,
			"error", err.Error(),
		)
		return nil, "", err
	}

	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeAccount, account.AccountNumber,
		models.AuditActionCreate, nil, balanceSnapshot(account))

	if req.InitialBalance.IsPositive() {
		result, err := s.transactions.Deposit(ctx, account.AccountNumber, req.InitialBalance, "Opening balance")
		if err != nil {
			s.logger.Error("failed to book opening balance",
				"account_number", account.AccountNumber,
				"error", err.Error(),
			)
			return nil, "", err
		}
		account.Balance = result.SenderBalance
	}

	token, err := s.tokens.GenerateToken(account.AccountNumber)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("account created successfully",
		"account_number", account.AccountNumber,
	)
	return account, token, nil
}

func (s *AccountServiceImpl) Login(ctx context.Context, req *models.LoginRequest) (*models.Account, string, error) {
	if req.Phone == "" || req.PIN == "" {
		return nil, "", errors.ErrInvalidCredentials
	}

	account, err := s.accountRepo.GetByPhone(ctx, req.Phone)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("login for unknown phone")
			return nil, "", errors.ErrInvalidCredentials
		}
		return nil, "", err
	}

	ok, err := auth.CheckPIN(account.PINHash, req.PIN)
	if err != nil {
		s.logger.Error("failed to verify login pin",
			"account_number", account.AccountNumber,
			"error", err.Error(),
		)
		return nil, "", err
	}
	if !ok {
		s.logger.Warn("login pin mismatch", "account_number", account.AccountNumber)
		return nil, "", errors.ErrInvalidCredentials
	}

	if err := s.accountRepo.UpdateLastLogin(ctx, account.AccountNumber, time.Now().UTC()); err != nil {
		s.logger.Error("failed to update last login",
			"account_number", account.AccountNumber,
			"error", err.Error(),
		)
	}

	token, err := s.tokens.GenerateToken(account.AccountNumber)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

func (s *AccountServiceImpl) GetAccount(ctx context.Context, accountNumber string) (*models.Account, error) {
	if accountNumber == "" {
		return nil, errors.ErrInvalidAccountID
	}

	account, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("account not found",
				"account_number", accountNumber,
			)
			return nil, err
		}
		s.logger.Error("failed to get account",
			"account_number", accountNumber,
			"error", err.Error(),
		)
		return nil, err
	}

	return account, nil
}

// RegisterFacePay enrolls the account's face and sets the FacePay limit and
// PIN. Re-registering replaces the previous registration and reactivates it.
func (s *AccountServiceImpl) RegisterFacePay(ctx context.Context, accountNumber string, req FacePayRegistration) (*models.FaceRegistration, error) {
	if req.PaymentLimit.IsNegative() {
		return nil, errors.NewValidationError("facepay_limit", "must not be negative")
	}
	if !req.PaymentLimit.Equal(req.PaymentLimit.Round(2)) {
		return nil, errors.NewValidationError("facepay_limit", "at most two decimal places")
	}
	if err := auth.ValidatePIN("pin", req.PIN); err != nil {
		return nil, err
	}

	if _, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber); err != nil {
		return nil, err
	}

	var previous *models.FaceRegistration
	if existing, err := s.accountRepo.GetFaceRegistration(ctx, accountNumber); err == nil {
		previous = existing
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	sealed, err := s.enroller.Enroll(ctx, accountNumber, req.Image)
	if err != nil {
		s.logger.Warn("face enrollment failed",
			"account_number", accountNumber,
			"error", err.Error(),
		)
		return nil, err
	}

	pinHash, err := auth.HashPIN(req.PIN)
	if err != nil {
		return nil, err
	}

	reg := &models.FaceRegistration{
		AccountNumber:   accountNumber,
		SealedEmbedding: sealed,
		PaymentLimit:    req.PaymentLimit,
		PINHash:         pinHash,
		IsActive:        true,
	}
	if err := s.accountRepo.UpsertFaceRegistration(ctx, reg); err != nil {
		s.logger.Error("failed to save face registration",
			"account_number", accountNumber,
			"error", err.Error(),
		)
		return nil, err
	}

	var oldValue interface{}
	if previous != nil {
		oldValue = registrationSnapshot(previous)
	}
	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeFaceRegistration, accountNumber,
		models.AuditActionRegister, oldValue, registrationSnapshot(reg))

	s.logger.Info("facepay registered",
		"account_number", accountNumber,
		"facepay_limit", req.PaymentLimit.StringFixed(2),
	)
	return reg, nil
}

// ToggleFacePay enables or disables an existing registration.
func (s *AccountServiceImpl) ToggleFacePay(ctx context.Context, accountNumber string, active bool) (*models.FaceRegistration, error) {
	existing, err := s.accountRepo.GetFaceRegistration(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if active && (len(existing.SealedEmbedding) == 0 || existing.PINHash == "") {
		return nil, errors.ErrFacePayNotRegistered
	}

	updated, err := s.accountRepo.SetFaceRegistrationActive(ctx, accountNumber, active)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeFaceRegistration, accountNumber,
		models.AuditActionToggle, registrationSnapshot(existing), registrationSnapshot(updated))

	s.logger.Info("facepay toggled",
		"account_number", accountNumber,
		"is_active", active,
	)
	return updated, nil
}

// FacePayStatus returns the registration, or errors.ErrFacePayNotRegistered.
func (s *AccountServiceImpl) FacePayStatus(ctx context.Context, accountNumber string) (*models.FaceRegistration, error) {
	return s.accountRepo.GetFaceRegistration(ctx, accountNumber)
}

// AuditTrail merges the audit rows of the account and of its FacePay
// registration, newest first.
func (s *AccountServiceImpl) AuditTrail(ctx context.Context, accountNumber string) ([]*models.AuditLog, error) {
	if _, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber); err != nil {
		return nil, err
	}
	trail := []*models.AuditLog{}
	if s.auditRepo == nil {
		return trail, nil
	}

	for _, entityType := range []string{models.EntityTypeAccount, models.EntityTypeFaceRegistration} {
		logs, err := s.auditRepo.GetByEntityID(ctx, entityType, accountNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit trail: %w", err)
		}
		trail = append(trail, logs...)
	}
	sort.SliceStable(trail, func(i, j int) bool {
		return trail[i].CreatedAt.After(trail[j].CreatedAt)
	})
	return trail, nil
}

func (s *AccountServiceImpl) validateRegisterRequest(req *models.RegisterAccountRequest) error {
	if strings.TrimSpace(req.AccountNumber) == "" {
		return errors.ErrInvalidAccountID
	}
	// deposits name this as their sender
	if strings.EqualFold(strings.TrimSpace(req.AccountNumber), models.ExternalAccount) {
		return errors.NewValidationError("account_number", "is reserved")
	}
	if strings.TrimSpace(req.Name) == "" {
		return errors.NewValidationError("name", "must be non-empty")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return errors.NewValidationError("phone", "must be non-empty")
	}
	if req.InitialBalance.IsNegative() {
		return errors.ErrNegativeBalance
	}
	if !req.InitialBalance.Equal(req.InitialBalance.Round(2)) {
		return errors.NewValidationError("initial_balance", "at most two decimal places")
	}
	return auth.ValidatePIN("pin", req.PIN)
}
