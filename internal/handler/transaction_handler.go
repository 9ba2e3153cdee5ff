package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/service"
	u "github.com/riteshkumar/facepay-ledger/internal/utils"
)

type TransactionHandler struct {
	transactionService service.TransactionService
	logger             *slog.Logger
}

func NewTransactionHandler(transactionService service.TransactionService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		logger:             logger,
	}
}

func (h *TransactionHandler) RegisterRoutes(router *mux.Router, requireAuth mux.MiddlewareFunc) {
	router.Handle("/transactions/transfer", requireAuth(http.HandlerFunc(h.CreateTransfer))).Methods(http.MethodPost)
	router.Handle("/transactions", requireAuth(http.HandlerFunc(h.ListTransactions))).Methods(http.MethodGet)
}

// CreateTransfer sends money from the caller's account. A from_account other
// than the caller's is rejected.
func (h *TransactionHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if !u.DecodeJSON(w, r, &req) {
		h.logger.Warn("invalid create transfer request", "remote", r.RemoteAddr)
		return
	}

	caller := auth.GetAccountNumber(r.Context())
	if req.FromAccount == "" {
		req.FromAccount = caller
	}
	if req.FromAccount != caller {
		h.logger.Warn("transfer from foreign account",
			"caller", caller,
			"from_account", req.FromAccount,
		)
		writeServiceError(w, h.logger, fmt.Errorf("%w: can only transfer from your own account", errors.ErrForbidden), "create transfer")
		return
	}

	result, err := h.transactionService.Transfer(r.Context(), service.TransferParams{
		From:    req.FromAccount,
		To:      req.ToAccount,
		Amount:  req.Amount,
		Remarks: req.Remarks,
		Channel: models.ChannelTransfer,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "create transfer")
		return
	}

	u.WriteJSON(w, http.StatusCreated, models.TransferResponse{
		TransactionID: result.Transaction.ID,
		NewBalance:    result.SenderBalance.StringFixed(2),
	})
}

func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.transactionService.History(r.Context(), auth.GetAccountNumber(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "list transactions")
		return
	}

	resp := models.TransactionListResponse{Transactions: make([]models.TransactionResponse, 0, len(txns))}
	for _, t := range txns {
		resp.Transactions = append(resp.Transactions, models.NewTransactionResponse(t))
	}
	u.WriteJSON(w, http.StatusOK, resp)
}
