package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/notify"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// FaceVerifier scores a live sample against a sealed embedding.
type FaceVerifier interface {
	Verify(ctx context.Context, accountNumber string, sealed, image []byte) (float64, error)
	Matches(score float64) bool
}

// sessionPurger is implemented by session stores that evict in process.
type sessionPurger interface {
	Purge(ctx context.Context) int
}

type FacePayConfig struct {
	SessionTTL  time.Duration
	MaxAttempts int
	// Retention is how long a session stays readable after it expires, so a
	// settled payment can still be reported as fraud.
	Retention time.Duration
}

func DefaultFacePayConfig() FacePayConfig {
	return FacePayConfig{
		SessionTTL:  15 * time.Minute,
		MaxAttempts: 3,
		Retention:   24 * time.Hour,
	}
}

type FacePayService interface {
	Initiate(ctx context.Context, vendor string, amount decimal.Decimal) (*models.FacePaySession, error)
	ConfirmAmount(ctx context.Context, vendor, sessionID string, confirmed bool) (*models.FacePaySession, error)
	VerifyCustomer(ctx context.Context, vendor, sessionID, phone string) (*models.FacePaySession, error)
	VerifyFace(ctx context.Context, vendor, sessionID string, image []byte) (*models.FacePaySession, error)
	VerifyPINAndSettle(ctx context.Context, vendor, sessionID, pin string) (*models.FacePaySession, error)
	GetSession(ctx context.Context, vendor, sessionID string) (*models.FacePaySession, error)
	ReportFraud(ctx context.Context, sessionID string) (*models.FacePaySession, error)
	Sweep(ctx context.Context) (int, error)
}

// FacePayServiceImpl owns FacePay session state. Every operation runs under
// the session's lock and checks expiry before anything else.
type FacePayServiceImpl struct {
	sessions     repository.SessionRepository
	accountRepo  repository.AccountRepository
	auditRepo    repository.AuditRepository
	verifier     FaceVerifier
	transactions TransactionService
	notifier     notify.Notifier
	locker       SessionLocker
	cfg          FacePayConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type FacePayOption func(*FacePayServiceImpl)

func WithFacePayClock(now func() time.Time) FacePayOption {
	return func(s *FacePayServiceImpl) { s.now = now }
}

func WithFacePayMetrics(m *metrics.Metrics) FacePayOption {
	return func(s *FacePayServiceImpl) { s.metrics = m }
}

func WithNotifier(n notify.Notifier) FacePayOption {
	return func(s *FacePayServiceImpl) { s.notifier = n }
}

// WithSessionLocker replaces the in-process session lock, for deployments
// where several instances share one session store.
func WithSessionLocker(l SessionLocker) FacePayOption {
	return func(s *FacePayServiceImpl) { s.locker = l }
}

func NewFacePayService(
	sessions repository.SessionRepository,
	accountRepo repository.AccountRepository,
	auditRepo repository.AuditRepository,
	verifier FaceVerifier,
	transactions TransactionService,
	cfg FacePayConfig,
	logger *slog.Logger,
	opts ...FacePayOption,
) *FacePayServiceImpl {
	s := &FacePayServiceImpl{
		sessions:     sessions,
		accountRepo:  accountRepo,
		auditRepo:    auditRepo,
		verifier:     verifier,
		transactions: transactions,
		notifier:     notify.NewLogNotifier(logger),
		locker:       NewKeyedLocker(),
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FacePayServiceImpl) Initiate(ctx context.Context, vendor string, amount decimal.Decimal) (*models.FacePaySession, error) {
	if err := validateAmount(amount); err != nil {
		s.logger.Warn("invalid facepay amount",
			"vendor_account", vendor,
			"amount", amount.String(),
		)
		return nil, err
	}
	if _, err := s.accountRepo.GetByAccountNumber(ctx, vendor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.FacePaySession{
		ID:            uuid.NewString(),
		VendorAccount: vendor,
		Amount:        amount,
		State:         models.SessionInitiated,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.SessionTTL),
		UpdatedAt:     now,
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("facepay session initiated",
		"session_id", session.ID,
		"vendor_account", vendor,
		"amount", amount.StringFixed(2),
	)
	return session, nil
}

func (s *FacePayServiceImpl) ConfirmAmount(ctx context.Context, vendor, sessionID string, confirmed bool) (*models.FacePaySession, error) {
	return s.step(ctx, vendor, sessionID, func(session *models.FacePaySession) error {
		if !confirmed {
			return s.finish(ctx, session, models.SessionCancelled)
		}
		return s.advance(ctx, session, models.SessionAmountConfirmed)
	}, models.SessionInitiated)
}

// VerifyCustomer binds the customer found by phone. The customer needs an
// active FacePay registration.
func (s *FacePayServiceImpl) VerifyCustomer(ctx context.Context, vendor, sessionID, phone string) (*models.FacePaySession, error) {
	return s.step(ctx, vendor, sessionID, func(session *models.FacePaySession) error {
		phone = strings.TrimSpace(phone)
		if phone == "" {
			return errors.NewValidationError("customer_phone", "must be non-empty")
		}

		customer, err := s.accountRepo.GetByPhone(ctx, phone)
		if err != nil {
			if errors.IsNotFound(err) {
				return s.fail(ctx, session, &session.PhoneAttempts, errors.ErrCustomerNotFound)
			}
			return err
		}
		if customer.AccountNumber == session.VendorAccount {
			return errors.ErrSameAccount
		}

		reg, err := s.accountRepo.GetFaceRegistration(ctx, customer.AccountNumber)
		if err != nil {
			if errors.IsNotFound(err) {
				return s.fail(ctx, session, &session.PhoneAttempts, errors.ErrFacePayNotRegistered)
			}
			return err
		}
		if !reg.IsActive {
			return s.fail(ctx, session, &session.PhoneAttempts, errors.ErrRegistrationInactive)
		}

		session.CustomerAccount = customer.AccountNumber
		session.CustomerName = customer.Name
		return s.advance(ctx, session, models.SessionCustomerVerified)
	}, models.SessionAmountConfirmed)
}

// VerifyFace scores the sample against the bound customer's enrolled face.
// Samples without exactly one face are rejected without using an attempt.
func (s *FacePayServiceImpl) VerifyFace(ctx context.Context, vendor, sessionID string, image []byte) (*models.FacePaySession, error) {
	return s.step(ctx, vendor, sessionID, func(session *models.FacePaySession) error {
		reg, err := s.accountRepo.GetFaceRegistration(ctx, session.CustomerAccount)
		if err != nil {
			return err
		}
		if !reg.IsActive {
			return s.fail(ctx, session, &session.FaceAttempts, errors.ErrRegistrationInactive)
		}

		score, err := s.verifier.Verify(ctx, session.CustomerAccount, reg.SealedEmbedding, image)
		if err != nil {
			s.logger.Warn("face verification failed",
				"session_id", session.ID,
				"error", err.Error(),
			)
			return err
		}
		s.metrics.ObserveSimilarity(score)

		if !s.verifier.Matches(score) {
			return s.fail(ctx, session, &session.FaceAttempts,
				fmt.Errorf("%w: similarity %.4f", errors.ErrFaceMismatch, score))
		}

		session.SimilarityScore = score
		return s.advance(ctx, session, models.SessionFaceVerified)
	}, models.SessionCustomerVerified)
}

// VerifyPINAndSettle checks the FacePay PIN, the registration limit and
// status, then moves the money from customer to vendor. The transaction id
// is reserved on the session before any money moves; calling again on a
// SETTLING session finishes that same posting.
func (s *FacePayServiceImpl) VerifyPINAndSettle(ctx context.Context, vendor, sessionID, pin string) (*models.FacePaySession, error) {
	return s.step(ctx, vendor, sessionID, func(session *models.FacePaySession) error {
		if session.State == models.SessionSettling {
			return s.settle(ctx, session)
		}

		reg, err := s.accountRepo.GetFaceRegistration(ctx, session.CustomerAccount)
		if err != nil {
			return err
		}

		ok, err := auth.CheckPIN(reg.PINHash, pin)
		if err != nil {
			return err
		}
		if !ok {
			return s.fail(ctx, session, &session.PINAttempts, errors.ErrPINMismatch)
		}
		if session.Amount.GreaterThan(reg.PaymentLimit) {
			return s.fail(ctx, session, &session.PINAttempts,
				fmt.Errorf("%w: limit %s", errors.ErrLimitExceeded, reg.PaymentLimit.StringFixed(2)))
		}
		if !reg.IsActive {
			return s.fail(ctx, session, &session.PINAttempts, errors.ErrRegistrationInactive)
		}

		session.TransactionID = uuid.NewString()
		if err := s.advance(ctx, session, models.SessionSettling); err != nil {
			return err
		}
		return s.settle(ctx, session)
	}, models.SessionFaceVerified, models.SessionSettling)
}

// settle posts the payment reserved on a SETTLING session. A rejected
// posting fails the session. Any other error leaves it SETTLING, because the
// posting may or may not have been committed.
func (s *FacePayServiceImpl) settle(ctx context.Context, session *models.FacePaySession) error {
	result, err := s.transactions.Transfer(ctx, TransferParams{
		TransactionID: session.TransactionID,
		From:          session.CustomerAccount,
		To:            session.VendorAccount,
		Amount:        session.Amount,
		Remarks:       "FacePay to " + session.VendorAccount,
		Channel:       models.ChannelFacePay,
	})
	if err != nil {
		s.logger.Warn("facepay settlement failed",
			"session_id", session.ID,
			"transaction_id", session.TransactionID,
			"error", err.Error(),
		)
		if !settlementRejected(err) {
			return err
		}
		if ferr := s.finish(ctx, session, models.SessionFailed); ferr != nil {
			return stderrors.Join(err, ferr)
		}
		return err
	}

	if err := s.finish(ctx, session, models.SessionSettled); err != nil {
		return err
	}
	s.notifySettled(ctx, session, result.Transaction.ID)
	return nil
}

// resolve decides a SETTLING session past its deadline from the ledger: the
// reserved transaction is either recorded or it never will be.
func (s *FacePayServiceImpl) resolve(ctx context.Context, session *models.FacePaySession) error {
	txn, err := s.transactions.Lookup(ctx, session.TransactionID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	if txn == nil {
		s.logger.Warn("facepay settlement never posted",
			"session_id", session.ID,
			"transaction_id", session.TransactionID,
		)
		return s.finish(ctx, session, models.SessionFailed)
	}

	if err := s.finish(ctx, session, models.SessionSettled); err != nil {
		return err
	}
	s.notifySettled(ctx, session, txn.ID)
	return nil
}

func (s *FacePayServiceImpl) notifySettled(ctx context.Context, session *models.FacePaySession, transactionID string) {
	if err := s.notifier.PaymentSettled(ctx, notify.Settlement{
		SessionID:       session.ID,
		TransactionID:   transactionID,
		CustomerAccount: session.CustomerAccount,
		VendorAccount:   session.VendorAccount,
		Amount:          session.Amount.StringFixed(2),
	}); err != nil {
		s.logger.Error("failed to send payment notice",
			"session_id", session.ID,
			"error", err.Error(),
		)
	}
}

// settlementRejected reports whether the posting was refused outright, so
// no money can have moved under the reserved id.
func settlementRejected(err error) bool {
	return errors.IsInsufficientBalance(err) ||
		errors.IsNotFound(err) ||
		errors.IsValidationError(err) ||
		stderrors.Is(err, errors.ErrDuplicateTransaction)
}

// GetSession returns the vendor's session, applying lazy expiry. Reading an
// expired session is not an error.
func (s *FacePayServiceImpl) GetSession(ctx context.Context, vendor, sessionID string) (*models.FacePaySession, error) {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.load(ctx, vendor, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.expire(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ReportFraud disables FacePay for the customer of a settled session. It is
// reached through a link sent to the customer, so it is not tied to the
// vendor that owns the session.
func (s *FacePayServiceImpl) ReportFraud(ctx context.Context, sessionID string) (*models.FacePaySession, error) {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionSettled || session.CustomerAccount == "" {
		return nil, fmt.Errorf("%w: session is %s", errors.ErrInvalidState, session.State)
	}

	previous, err := s.accountRepo.GetFaceRegistration(ctx, session.CustomerAccount)
	if err != nil {
		return nil, err
	}
	updated, err := s.accountRepo.SetFaceRegistrationActive(ctx, session.CustomerAccount, false)
	if err != nil {
		return nil, err
	}

	recordAudit(ctx, s.auditRepo, s.logger, models.EntityTypeFaceRegistration, session.CustomerAccount,
		models.AuditActionFraudBlock, registrationSnapshot(previous), registrationSnapshot(updated))

	s.logger.Warn("facepay fraud reported",
		"session_id", session.ID,
		"customer_account", session.CustomerAccount,
		"transaction_id", session.TransactionID,
	)

	if customer, err := s.accountRepo.GetByAccountNumber(ctx, session.CustomerAccount); err == nil {
		if err := s.notifier.RegistrationBlocked(ctx, customer, session.ID); err != nil {
			s.logger.Error("failed to send blocked notice",
				"session_id", session.ID,
				"error", err.Error(),
			)
		}
	}
	return session, nil
}

// Sweep expires open sessions past their TTL and reports how many it moved
// to EXPIRED.
func (s *FacePayServiceImpl) Sweep(ctx context.Context) (int, error) {
	open, err := s.sessions.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open sessions: %w", err)
	}

	expired := 0
	for _, candidate := range open {
		if s.now().Before(candidate.ExpiresAt) {
			continue
		}
		n, err := s.sweepOne(ctx, candidate.ID)
		if err != nil {
			s.logger.Error("failed to expire session",
				"session_id", candidate.ID,
				"error", err.Error(),
			)
			continue
		}
		expired += n
	}

	if p, ok := s.sessions.(sessionPurger); ok {
		if purged := p.Purge(ctx); purged > 0 {
			s.logger.Info("purged facepay sessions", "count", purged)
		}
	}
	return expired, nil
}

func (s *FacePayServiceImpl) sweepOne(ctx context.Context, sessionID string) (int, error) {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	defer release()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	changed, err := s.expire(ctx, session)
	if err != nil || !changed {
		return 0, err
	}
	return 1, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (s *FacePayServiceImpl) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("facepay sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				s.logger.Info("expired facepay sessions", "count", n)
			}
		}
	}
}

// step loads the session under its lock, enforces expiry and the allowed
// states, then runs fn. The returned session reflects whatever fn saved.
func (s *FacePayServiceImpl) step(ctx context.Context, vendor, sessionID string, fn func(*models.FacePaySession) error, allowed ...models.SessionState) (*models.FacePaySession, error) {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.load(ctx, vendor, sessionID)
	if err != nil {
		return nil, err
	}

	expired, err := s.expire(ctx, session)
	if err != nil {
		return nil, err
	}
	if expired || session.State == models.SessionExpired {
		return session, errors.ErrSessionExpired
	}
	if !slices.Contains(allowed, session.State) {
		return session, fmt.Errorf("%w: session is %s, expected %s", errors.ErrInvalidState, session.State, allowed[0])
	}

	if err := fn(session); err != nil {
		return session, err
	}
	return session, nil
}

func (s *FacePayServiceImpl) load(ctx context.Context, vendor, sessionID string) (*models.FacePaySession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.NewValidationError("session_id", "must be non-empty")
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.VendorAccount != vendor {
		return nil, errors.ErrSessionNotFound
	}
	return session, nil
}

// expire moves a non-terminal session past its deadline to EXPIRED and
// reports whether it did.
func (s *FacePayServiceImpl) expire(ctx context.Context, session *models.FacePaySession) (bool, error) {
	if session.State.Terminal() || s.now().Before(session.ExpiresAt) {
		return false, nil
	}
	if session.State == models.SessionSettling {
		return false, s.resolve(ctx, session)
	}
	if err := s.finish(ctx, session, models.SessionExpired); err != nil {
		return false, err
	}
	return true, nil
}

// fail counts a failed attempt. Reaching the bound ends the session in
// FAILED and wraps cause with errors.ErrAttemptsExhausted.
func (s *FacePayServiceImpl) fail(ctx context.Context, session *models.FacePaySession, attempts *int, cause error) error {
	*attempts++
	s.logger.Warn("facepay attempt failed",
		"session_id", session.ID,
		"state", string(session.State),
		"attempt", *attempts,
		"error", cause.Error(),
	)

	if *attempts >= s.cfg.MaxAttempts {
		if err := s.finish(ctx, session, models.SessionFailed); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", errors.ErrAttemptsExhausted, cause)
	}

	session.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, session); err != nil {
		return err
	}
	return cause
}

func (s *FacePayServiceImpl) advance(ctx context.Context, session *models.FacePaySession, next models.SessionState) error {
	session.State = next
	session.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, session); err != nil {
		return err
	}
	s.logger.Info("facepay session advanced",
		"session_id", session.ID,
		"state", string(next),
	)
	return nil
}

func (s *FacePayServiceImpl) finish(ctx context.Context, session *models.FacePaySession, terminal models.SessionState) error {
	if err := s.advance(ctx, session, terminal); err != nil {
		return err
	}
	s.metrics.ObserveSessionTerminal(string(terminal))
	return nil
}

func (s *FacePayServiceImpl) save(ctx context.Context, session *models.FacePaySession) error {
	retention := session.ExpiresAt.Sub(s.now()) + s.cfg.Retention
	if retention < time.Minute {
		retention = time.Minute
	}
	if err := s.sessions.Save(ctx, session, retention); err != nil {
		s.logger.Error("failed to save facepay session",
			"session_id", session.ID,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
