package repository

import (
	"context"
	"sync"
	"time"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// InMemoryAccountRepository keeps accounts and registrations in maps. Values
// are copied on the way in and out so callers never share state with the
// store.
type InMemoryAccountRepository struct {
	mu            sync.RWMutex
	accounts      map[string]*models.Account
	byPhone       map[string]string
	registrations map[string]*models.FaceRegistration
	now           func() time.Time
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{
		accounts:      make(map[string]*models.Account),
		byPhone:       make(map[string]string),
		registrations: make(map[string]*models.FaceRegistration),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryAccountRepository) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.AccountNumber]; ok {
		return errors.ErrAccountAlreadyExists
	}
	if _, ok := r.byPhone[account.Phone]; ok && account.Phone != "" {
		return errors.ErrAccountAlreadyExists
	}

	account.CreatedAt = r.now()
	stored := *account
	r.accounts[account.AccountNumber] = &stored
	if account.Phone != "" {
		r.byPhone[account.Phone] = account.AccountNumber
	}
	return nil
}

func (r *InMemoryAccountRepository) GetByAccountNumber(_ context.Context, number string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[number]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

func (r *InMemoryAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	r.mu.RLock()
	number, ok := r.byPhone[phone]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return r.GetByAccountNumber(ctx, number)
}

func (r *InMemoryAccountRepository) UpdateLastLogin(_ context.Context, number string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[number]
	if !ok {
		return errors.ErrAccountNotFound
	}
	t := at.UTC()
	account.LastLogin = &t
	return nil
}

func (r *InMemoryAccountRepository) UpsertFaceRegistration(_ context.Context, reg *models.FaceRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[reg.AccountNumber]; !ok {
		return errors.ErrAccountNotFound
	}

	now := r.now()
	if existing, ok := r.registrations[reg.AccountNumber]; ok {
		reg.CreatedAt = existing.CreatedAt
	} else {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now

	stored := *reg
	stored.SealedEmbedding = append([]byte(nil), reg.SealedEmbedding...)
	r.registrations[reg.AccountNumber] = &stored
	return nil
}

func (r *InMemoryAccountRepository) GetFaceRegistration(_ context.Context, number string) (*models.FaceRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[number]
	if !ok {
		return nil, errors.ErrFacePayNotRegistered
	}
	return copyRegistration(reg), nil
}

func (r *InMemoryAccountRepository) SetFaceRegistrationActive(_ context.Context, number string, active bool) (*models.FaceRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registrations[number]
	if !ok {
		return nil, errors.ErrFacePayNotRegistered
	}
	reg.IsActive = active
	reg.UpdatedAt = r.now()
	return copyRegistration(reg), nil
}

func copyRegistration(reg *models.FaceRegistration) *models.FaceRegistration {
	out := *reg
	out.SealedEmbedding = append([]byte(nil), reg.SealedEmbedding...)
	return &out
}
