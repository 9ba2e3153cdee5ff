package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// AuditRepository records balance and registration changes. Audit rows are
// diagnostics; callers log a failed write instead of failing the operation.
type AuditRepository interface {
	Record(ctx context.Context, log *models.AuditLog) error
	GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Record inserts a new audit log entry.
func (r *PostgresAuditRepository) Record(ctx context.Context, log *models.AuditLog) error {
	query := `INSERT INTO audit_logs (entity_type, entity_id, action, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`

	var oldValue interface{}
	if log.OldValue != nil {
		oldValue = string(log.OldValue)
	}
	err := r.db.QueryRowContext(ctx, query,
		log.EntityType,
		log.EntityID,
		log.Action,
		oldValue,
		string(log.NewValue),
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// GetByEntityID retrieves audit logs for a specific entity type and ID.
func (r *PostgresAuditRepository) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	query := `SELECT id, entity_type, entity_id, action, old_value, new_value, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by entity ID: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var oldValue, newValue []byte

		err := rows.Scan(
			&log.ID, &log.EntityType, &log.EntityID, &log.Action, &oldValue, &newValue, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if oldValue != nil {
			log.OldValue = json.RawMessage(oldValue)
		}
		log.NewValue = json.RawMessage(newValue)

		logs = append(logs, log)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over audit logs: %w", err)
	}
	return logs, nil
}

type InMemoryAuditRepository struct {
	mu   sync.RWMutex
	logs []*models.AuditLog
}

func NewInMemoryAuditRepository() *InMemoryAuditRepository {
	return &InMemoryAuditRepository{}
}

func (r *InMemoryAuditRepository) Record(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.ID = uuid.NewString()
	log.CreatedAt = time.Now().UTC()
	stored := *log
	r.logs = append(r.logs, &stored)
	return nil
}

func (r *InMemoryAuditRepository) GetByEntityID(_ context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if l.EntityType == entityType && l.EntityID == entityID {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}
