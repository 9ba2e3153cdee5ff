package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// recordAudit writes an audit row. Audit failures are logged and never fail
// the operation that produced them.
func recordAudit(ctx context.Context, repo repository.AuditRepository, logger *slog.Logger, entityType, entityID, action string, oldValue, newValue interface{}) {
	if repo == nil {
		return
	}

	entry := &models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
	}
	if oldValue != nil {
		entry.OldValue, _ = json.Marshal(oldValue)
	}
	entry.NewValue, _ = json.Marshal(newValue)

	if err := repo.Record(ctx, entry); err != nil {
		logger.Error("failed to create audit log",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"error", err.Error(),
		)
	}
}

func balanceSnapshot(account *models.Account) models.AccountBalanceSnapshot {
	return models.AccountBalanceSnapshot{
		AccountNumber: account.AccountNumber,
		Balance:       account.Balance.StringFixed(2),
	}
}

func registrationSnapshot(reg *models.FaceRegistration) models.FaceRegistrationSnapshot {
	return models.FaceRegistrationSnapshot{
		AccountNumber: reg.AccountNumber,
		PaymentLimit:  reg.PaymentLimit.StringFixed(2),
		IsActive:      reg.IsActive,
	}
}
