// Package notify delivers customer-facing notices after a FacePay payment.
// Delivery channels such as e-mail live outside this service; the default
// notifier only records the notice in the structured log.
package notify

import (
	"context"
	"log/slog"

	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// Settlement describes a completed FacePay payment.
type Settlement struct {
	SessionID       string
	TransactionID   string
	CustomerAccount string
	VendorAccount   string
	Amount          string
}

type Notifier interface {
	PaymentSettled(ctx context.Context, s Settlement) error
	RegistrationBlocked(ctx context.Context, account *models.Account, sessionID string) error
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PaymentSettled(ctx context.Context, s Settlement) error {
	n.logger.InfoContext(ctx, "facepay payment notice",
		"session_id", s.SessionID,
		"transaction_id", s.TransactionID,
		"customer_account", s.CustomerAccount,
		"vendor_account", s.VendorAccount,
		"amount", s.Amount,
	)
	return nil
}

func (n *LogNotifier) RegistrationBlocked(ctx context.Context, account *models.Account, sessionID string) error {
	n.logger.InfoContext(ctx, "facepay blocked notice",
		"account_number", account.AccountNumber,
		"email", account.Email,
		"session_id", sessionID,
	)
	return nil
}
