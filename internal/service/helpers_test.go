package service

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/notify"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

var (
	errAppendFailed     = stderrors.New("ledger unavailable")
	errSessionStoreDown = stderrors.New("session store down")
	errLockUnavailable  = stderrors.New("lock unavailable")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeVerifier struct {
	mu        sync.Mutex
	score     float64
	err       error
	threshold float64
	calls     int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string, _, _ []byte) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.score, f.err
}

func (f *fakeVerifier) Matches(score float64) bool {
	return score >= f.threshold
}

func (f *fakeVerifier) set(score float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.score, f.err = score, err
}

type fakeEnroller struct {
	err error
}

func (f fakeEnroller) Enroll(_ context.Context, accountNumber string, image []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(accountNumber+":"), image...), nil
}

type staticTokens struct{}

func (staticTokens) GenerateToken(accountNumber string) (string, error) {
	return "token-" + accountNumber, nil
}

// failingLedger wraps a LedgerWriter and fails commits while fail is set.
type failingLedger struct {
	LedgerWriter
	fail bool
}

func (f *failingLedger) Commit(ctx context.Context, txn models.Transaction, adjustments ...repository.BalanceAdjustment) (*models.Block, []*models.Account, error) {
	if f.fail {
		return nil, nil, errAppendFailed
	}
	return f.LedgerWriter.Commit(ctx, txn, adjustments...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	settled []string
	blocked []string
}

func (r *recordingNotifier) PaymentSettled(_ context.Context, s notify.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, s.TransactionID)
	return nil
}

func (r *recordingNotifier) RegistrationBlocked(_ context.Context, account *models.Account, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, account.AccountNumber)
	return nil
}

// flakySessions fails every save that moves a session into failOn.
type flakySessions struct {
	repository.SessionRepository
	failOn models.SessionState
}

func (f *flakySessions) Save(ctx context.Context, session *models.FacePaySession, retention time.Duration) error {
	if f.failOn != "" && session.State == f.failOn {
		return errSessionStoreDown
	}
	return f.SessionRepository.Save(ctx, session, retention)
}

type unavailableLocker struct{}

func (unavailableLocker) Acquire(context.Context, string) (func(), error) {
	return nil, errLockUnavailable
}
