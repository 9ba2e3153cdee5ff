package handler

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/service"
	u "github.com/riteshkumar/facepay-ledger/internal/utils"
)

type AccountHandler struct {
	accountService     service.AccountService
	transactionService service.TransactionService
	logger             *slog.Logger
}

func NewAccountHandler(accountService service.AccountService, transactionService service.TransactionService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountService:     accountService,
		transactionService: transactionService,
		logger:             logger,
	}
}

func (h *AccountHandler) RegisterRoutes(router *mux.Router, requireAuth mux.MiddlewareFunc) {
	router.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	router.Handle("/accounts/me", requireAuth(http.HandlerFunc(h.GetMe))).Methods(http.MethodGet)
	router.Handle("/accounts/deposit", requireAuth(http.HandlerFunc(h.Deposit))).Methods(http.MethodPost)
	router.Handle("/accounts/me/audit", requireAuth(http.HandlerFunc(h.AuditTrail))).Methods(http.MethodGet)
	router.Handle("/facepay/register", requireAuth(http.HandlerFunc(h.RegisterFacePay))).Methods(http.MethodPost)
	router.Handle("/facepay/toggle", requireAuth(http.HandlerFunc(h.ToggleFacePay))).Methods(http.MethodPost)
	router.Handle("/facepay/status", requireAuth(http.HandlerFunc(h.FacePayStatus))).Methods(http.MethodGet)
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterAccountRequest
	if !u.DecodeJSON(w, r, &req) {
		h.logger.Warn("invalid register request", "remote", r.RemoteAddr)
		return
	}

	account, token, err := h.accountService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "register account")
		return
	}

	u.WriteJSON(w, http.StatusCreated, models.AuthResponse{
		AccountNumber: account.AccountNumber,
		Name:          account.Name,
		Token:         token,
	})
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	account, token, err := h.accountService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "login")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.AuthResponse{
		AccountNumber: account.AccountNumber,
		Name:          account.Name,
		Token:         token,
	})
}

func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), auth.GetAccountNumber(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "get account")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.AccountResponse{
		AccountNumber: account.AccountNumber,
		Name:          account.Name,
		Phone:         account.Phone,
		Balance:       account.Balance.StringFixed(2),
	})
}

func (h *AccountHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.accountService.AuditTrail(r.Context(), auth.GetAccountNumber(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "get audit trail")
		return
	}
	u.WriteJSON(w, http.StatusOK, models.AuditTrailResponse{Entries: trail})
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.transactionService.Deposit(r.Context(), auth.GetAccountNumber(r.Context()), req.Amount, req.Remarks)
	if err != nil {
		writeServiceError(w, h.logger, err, "deposit")
		return
	}

	u.WriteJSON(w, http.StatusCreated, models.TransferResponse{
		TransactionID: result.Transaction.ID,
		NewBalance:    result.SenderBalance.StringFixed(2),
	})
}

func (h *AccountHandler) RegisterFacePay(w http.ResponseWriter, r *http.Request) {
	var req models.FacePayRegisterRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	image, err := decodeImage(req.ImageBase64)
	if err != nil {
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	reg, err := h.accountService.RegisterFacePay(r.Context(), auth.GetAccountNumber(r.Context()), service.FacePayRegistration{
		Image:        image,
		PaymentLimit: req.FacePayLimit,
		PIN:          req.PIN,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "register facepay")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.FacePayRegisterResponse{
		Success:      true,
		FacePayLimit: reg.PaymentLimit.StringFixed(2),
	})
}

func (h *AccountHandler) ToggleFacePay(w http.ResponseWriter, r *http.Request) {
	var req models.FacePayToggleRequest
	if !u.DecodeJSON(w, r, &req) {
		return
	}

	reg, err := h.accountService.ToggleFacePay(r.Context(), auth.GetAccountNumber(r.Context()), req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err, "toggle facepay")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.FacePayToggleResponse{
		Success:  true,
		IsActive: reg.IsActive,
	})
}

func (h *AccountHandler) FacePayStatus(w http.ResponseWriter, r *http.Request) {
	reg, err := h.accountService.FacePayStatus(r.Context(), auth.GetAccountNumber(r.Context()))
	if err != nil {
		if errors.IsNotFound(err) {
			u.WriteJSON(w, http.StatusOK, models.FacePayStatusResponse{})
			return
		}
		writeServiceError(w, h.logger, err, "facepay status")
		return
	}

	limit := reg.PaymentLimit.StringFixed(2)
	u.WriteJSON(w, http.StatusOK, models.FacePayStatusResponse{
		Registered:   true,
		IsActive:     reg.IsActive,
		FacePayLimit: &limit,
	})
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, "base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len("base64,"):]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.NewValidationError("image", "must be non-empty")
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		image, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, errors.NewValidationError("image", "must be base64 encoded")
	}
	return image, nil
}
