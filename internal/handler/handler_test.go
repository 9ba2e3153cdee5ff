package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/biometric"
	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/ledger"
	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/notify"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
	"github.com/riteshkumar/facepay-ledger/internal/service"
)

const (
	aliceFace    = "alice-face"
	strangerFace = "stranger-face"
)

// stubExtractor maps known sample bytes to fixed embeddings.
type stubExtractor map[string][]float32

func (s stubExtractor) Extract(_ context.Context, image []byte) ([]float32, error) {
	embedding, ok := s[string(image)]
	if !ok {
		return nil, errors.ErrNoFaceDetected
	}
	return embedding, nil
}

type HandlerSuite struct {
	suite.Suite
	router *mux.Router
	ledger *ledger.Ledger
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	accounts := repository.NewInMemoryAccountRepository()
	audits := repository.NewInMemoryAuditRepository()
	s.ledger = ledger.New(repository.NewInMemoryLedgerRepository(accounts), logger, ledger.WithMetrics(m))
	_, err := s.ledger.Init(context.Background())
	s.Require().NoError(err)

	sealer, err := biometric.NewSealer(bytes.Repeat([]byte{7}, 32))
	s.Require().NoError(err)
	matcher, err := biometric.NewMatcher(stubExtractor{
		aliceFace:    {1, 0, 0},
		strangerFace: {0, 1, 0},
	}, sealer, biometric.DefaultThreshold)
	s.Require().NoError(err)

	tokens := auth.NewTokenService("test-signing-key", "facepay-ledger", time.Hour)

	transactions := service.NewTransactionService(accounts, audits, s.ledger, m, logger)
	accountService := service.NewAccountService(accounts, audits, transactions, matcher, tokens, logger)
	facePay := service.NewFacePayService(repository.NewInMemorySessionRepository(), accounts, audits, matcher,
		transactions, service.DefaultFacePayConfig(), logger,
		service.WithFacePayMetrics(m),
		service.WithNotifier(notify.NewLogNotifier(logger)),
	)

	s.router = mux.NewRouter()
	requireAuth := auth.RequireAuth(tokens, logger)
	NewAccountHandler(accountService, transactions, logger).RegisterRoutes(s.router, requireAuth)
	NewTransactionHandler(transactions, logger).RegisterRoutes(s.router, requireAuth)
	NewFacePayHandler(facePay, logger).RegisterRoutes(s.router, requireAuth)
	NewBlockchainHandler(s.ledger, ledger.NewValidator(s.ledger, logger, m), logger).RegisterRoutes(s.router)
}

func (s *HandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *HandlerSuite) register(account, phone, balance string) string {
	rec := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name":            "Holder " + account,
		"phone":           phone,
		"account_number":  account,
		"pin":             "1357",
		"initial_balance": balance,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.AuthResponse
	s.decode(rec, &resp)
	s.Require().NotEmpty(resp.Token)
	return resp.Token
}

func (s *HandlerSuite) enrollFacePay(token, limit string) {
	rec := s.do(http.MethodPost, "/facepay/register", token, map[string]string{
		"image_base64":  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(aliceFace)),
		"facepay_limit": limit,
		"pin":           "2468",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
}

func (s *HandlerSuite) TestRegisterAndLogin() {
	s.register("ACC001", "9000000001", "100.00")

	rec := s.do(http.MethodPost, "/auth/login", "", map[string]string{"phone": "9000000001", "pin": "1357"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var login models.AuthResponse
	s.decode(rec, &login)
	s.Equal("ACC001", login.AccountNumber)

	rec = s.do(http.MethodGet, "/accounts/me", login.Token, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var me models.AccountResponse
	s.decode(rec, &me)
	s.Equal("100.00", me.Balance)

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{"phone": "9000000001", "pin": "0000"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Again", "phone": "9000000002", "account_number": "ACC001", "pin": "1357",
	})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestProtectedRoutesRequireToken() {
	for _, path := range []string{"/accounts/me", "/transactions", "/facepay/status"} {
		rec := s.do(http.MethodGet, path, "", nil)
		s.Equal(http.StatusUnauthorized, rec.Code, path)

		rec = s.do(http.MethodGet, path, "not-a-jwt", nil)
		s.Equal(http.StatusUnauthorized, rec.Code, path)
	}
}

func (s *HandlerSuite) TestInvalidPayload() {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestTransfer() {
	alice := s.register("ACC001", "9000000001", "1000.00")
	bob := s.register("ACC002", "9000000002", "0")

	rec := s.do(http.MethodPost, "/transactions/transfer", alice, map[string]string{
		"to_account": "ACC002", "amount": "250.00", "remarks": "rent",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var transfer models.TransferResponse
	s.decode(rec, &transfer)
	s.Equal("750.00", transfer.NewBalance)
	s.NotEmpty(transfer.TransactionID)

	rec = s.do(http.MethodGet, "/accounts/me", bob, nil)
	var me models.AccountResponse
	s.decode(rec, &me)
	s.Equal("250.00", me.Balance)

	rec = s.do(http.MethodPost, "/transactions/transfer", bob, map[string]string{
		"from_account": "ACC001", "to_account": "ACC002", "amount": "10.00",
	})
	s.Equal(http.StatusForbidden, rec.Code)
	var problem models.ErrorResponse
	s.decode(rec, &problem)
	s.Equal("forbidden", problem.Error)
	s.Contains(problem.Message, "your own account")

	rec = s.do(http.MethodPost, "/transactions/transfer", bob, map[string]string{
		"to_account": "ACC001", "amount": "999.00",
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/transactions/transfer", alice, map[string]string{
		"to_account": "ACC404", "amount": "1.00",
	})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/transactions", alice, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var history models.TransactionListResponse
	s.decode(rec, &history)
	s.Len(history.Transactions, 2)
}

func (s *HandlerSuite) TestDeposit() {
	token := s.register("ACC001", "9000000001", "0")

	rec := s.do(http.MethodPost, "/accounts/deposit", token, map[string]string{"amount": "42.50"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var resp models.TransferResponse
	s.decode(rec, &resp)
	s.Equal("42.50", resp.NewBalance)

	rec = s.do(http.MethodPost, "/accounts/deposit", token, map[string]string{"amount": "-1"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestAuditTrail() {
	token := s.register("CUST001", "9876543210", "100.00")
	s.enrollFacePay(token, "1000.00")

	rec := s.do(http.MethodGet, "/accounts/me/audit", token, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var trail models.AuditTrailResponse
	s.decode(rec, &trail)

	actions := make([]string, 0, len(trail.Entries))
	for _, e := range trail.Entries {
		s.Equal("CUST001", e.EntityID)
		actions = append(actions, e.Action)
	}
	s.ElementsMatch([]string{
		models.AuditActionCreate,
		models.AuditActionCredit,
		models.AuditActionRegister,
	}, actions)

	rec = s.do(http.MethodGet, "/accounts/me/audit", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestFacePayStatus() {
	token := s.register("CUST001", "9876543210", "100.00")

	rec := s.do(http.MethodGet, "/facepay/status", token, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var status models.FacePayStatusResponse
	s.decode(rec, &status)
	s.False(status.Registered)
	s.Nil(status.FacePayLimit)

	s.enrollFacePay(token, "1000.00")

	rec = s.do(http.MethodGet, "/facepay/status", token, nil)
	s.decode(rec, &status)
	s.True(status.Registered)
	s.True(status.IsActive)
	s.Require().NotNil(status.FacePayLimit)
	s.Equal("1000.00", *status.FacePayLimit)

	rec = s.do(http.MethodPost, "/facepay/toggle", token, map[string]bool{"status": false})
	s.Require().Equal(http.StatusOK, rec.Code)
	var toggle models.FacePayToggleResponse
	s.decode(rec, &toggle)
	s.False(toggle.IsActive)
}

// settle walks one payment through the terminal and returns the session id.
func (s *HandlerSuite) settle(vendor string) string {
	rec := s.do(http.MethodPost, "/facepay/initiate", vendor, map[string]string{"amount": "500.00"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var initiated models.InitiateFacePayResponse
	s.decode(rec, &initiated)
	id := initiated.SessionID

	rec = s.do(http.MethodPost, "/facepay/confirm-amount", vendor, map[string]any{"session_id": id, "confirmed": true})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/facepay/verify-phone", vendor, map[string]string{"session_id": id, "customer_phone": "9876543210"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var phone models.VerifyPhoneResponse
	s.decode(rec, &phone)
	s.Equal("Holder CUST001", phone.CustomerName)

	rec = s.do(http.MethodPost, "/facepay/verify-face", vendor, map[string]string{
		"session_id": id,
		"face_image": base64.StdEncoding.EncodeToString([]byte(strangerFace)),
	})
	s.Require().Equal(http.StatusForbidden, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/facepay/verify-face", vendor, map[string]string{
		"session_id": id,
		"face_image": base64.StdEncoding.EncodeToString([]byte(aliceFace)),
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var face models.VerifyFaceResponse
	s.decode(rec, &face)
	s.InDelta(1.0, face.SimilarityScore, 1e-9)

	rec = s.do(http.MethodPost, "/facepay/verify-pin", vendor, map[string]string{"session_id": id, "pin": "2468"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var settled models.VerifyPINResponse
	s.decode(rec, &settled)
	s.Equal("500.00", settled.Amount)
	s.NotEmpty(settled.TransactionID)
	return id
}

func (s *HandlerSuite) TestFacePayEndToEnd() {
	vendor := s.register("VEND001", "9000000009", "0")
	customer := s.register("CUST001", "9876543210", "2000.00")
	s.enrollFacePay(customer, "1000.00")

	id := s.settle(vendor)

	rec := s.do(http.MethodGet, "/facepay/sessions/"+id, vendor, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var session models.SessionResponse
	s.decode(rec, &session)
	s.Equal(string(models.SessionSettled), session.State)

	rec = s.do(http.MethodGet, "/facepay/sessions/"+id, customer, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/accounts/me", customer, nil)
	var me models.AccountResponse
	s.decode(rec, &me)
	s.Equal("1500.00", me.Balance)

	rec = s.do(http.MethodPost, "/facepay/verify-pin", vendor, map[string]string{"session_id": id, "pin": "2468"})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/blockchain/validate", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var report models.ValidationReport
	s.decode(rec, &report)
	s.True(report.Valid)
	// genesis, one opening balance and one settlement
	s.Equal(3, report.BlocksChecked)

	rec = s.do(http.MethodGet, "/blockchain/blocks", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var blocks models.BlockListResponse
	s.decode(rec, &blocks)
	s.Require().Len(blocks.Blocks, 3)
	s.Equal(ledger.GenesisPreviousHash, blocks.Blocks[0].PreviousHash)
	s.Equal(blocks.Blocks[1].Hash, blocks.Blocks[2].PreviousHash)
	s.Require().Len(blocks.Blocks[2].Transactions, 1)
	s.Equal(string(models.ChannelFacePay), blocks.Blocks[2].Transactions[0].Channel)
}

func (s *HandlerSuite) TestReportFraud() {
	vendor := s.register("VEND001", "9000000009", "0")
	customer := s.register("CUST001", "9876543210", "2000.00")
	s.enrollFacePay(customer, "1000.00")
	id := s.settle(vendor)

	rec := s.do(http.MethodPost, "/facepay/report-fraud", "", map[string]string{"session_id": id})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/facepay/status", customer, nil)
	var status models.FacePayStatusResponse
	s.decode(rec, &status)
	s.True(status.Registered)
	s.False(status.IsActive)

	rec = s.do(http.MethodPost, "/facepay/report-fraud", "", map[string]string{"session_id": "missing"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestFacePayWithoutRegistration() {
	vendor := s.register("VEND001", "9000000009", "0")
	s.register("CUST001", "9876543210", "2000.00")

	rec := s.do(http.MethodPost, "/facepay/initiate", vendor, map[string]string{"amount": "0"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/facepay/initiate", vendor, map[string]string{"amount": "10.00"})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var initiated models.InitiateFacePayResponse
	s.decode(rec, &initiated)

	rec = s.do(http.MethodPost, "/facepay/confirm-amount", vendor, map[string]any{"session_id": initiated.SessionID, "confirmed": true})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/facepay/verify-phone", vendor, map[string]string{
		"session_id": initiated.SessionID, "customer_phone": "9876543210",
	})
	s.Equal(http.StatusNotFound, rec.Code, rec.Body.String())
}

func (s *HandlerSuite) TestBlockchainGenesisOnly() {
	rec := s.do(http.MethodGet, "/blockchain/validate", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var report models.ValidationReport
	s.decode(rec, &report)
	s.True(report.Valid)
	s.Equal(1, report.BlocksChecked)
	s.Equal("Blockchain is valid", report.Message)
}

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.NewValidationError("amount", "bad"), http.StatusBadRequest},
		{"insufficient", errors.ErrInsufficentBalance, http.StatusBadRequest},
		{"not found", errors.ErrAccountNotFound, http.StatusNotFound},
		{"exists", errors.ErrAccountAlreadyExists, http.StatusConflict},
		{"expired", errors.ErrSessionExpired, http.StatusConflict},
		{"pin", errors.ErrPINMismatch, http.StatusForbidden},
		{"exhausted wraps not found", fmt.Errorf("%w: %w", errors.ErrAttemptsExhausted, errors.ErrCustomerNotFound), http.StatusForbidden},
		{"credentials", errors.ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", errors.ErrForbidden, http.StatusForbidden},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, logger, tt.err, "test")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestDecodeImage(t *testing.T) {
	raw := []byte("face-bytes")

	got, err := decodeImage("data:image/png;base64," + base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeImage(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeImage("")
	assert.True(t, errors.IsValidationError(err))

	_, err = decodeImage("***")
	assert.True(t, errors.IsValidationError(err))
}
