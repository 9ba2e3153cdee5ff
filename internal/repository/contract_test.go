package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/ledger"
	"github.com/riteshkumar/facepay-ledger/internal/models"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
)

// The contracts below run against every backend. Each constructor must
// return an empty store.

func newAccount(number, phone, balance string) *models.Account {
	return &models.Account{
		AccountNumber: number,
		Name:          "Holder " + number,
		Phone:         phone,
		Balance:       decimal.RequireFromString(balance),
		PINHash:       "$2a$10$hash",
	}
}

func testAccountRepository(t *testing.T, newRepo func(t *testing.T) repository.AccountRepository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateAccount(ctx, newAccount("ACC001", "9000000001", "100.00")))

		got, err := repo.GetByAccountNumber(ctx, "ACC001")
		require.NoError(t, err)
		assert.Equal(t, "Holder ACC001", got.Name)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString("100")))
		assert.False(t, got.CreatedAt.IsZero())
		assert.Nil(t, got.LastLogin)

		byPhone, err := repo.GetByPhone(ctx, "9000000001")
		require.NoError(t, err)
		assert.Equal(t, "ACC001", byPhone.AccountNumber)
	})

	t.Run("duplicates", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateAccount(ctx, newAccount("ACC001", "9000000001", "0")))

		err := repo.CreateAccount(ctx, newAccount("ACC001", "9000000002", "0"))
		assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)

		err = repo.CreateAccount(ctx, newAccount("ACC002", "9000000001", "0"))
		assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)
	})

	t.Run("missing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetByAccountNumber(ctx, "ACC404")
		assert.ErrorIs(t, err, errors.ErrAccountNotFound)
		_, err = repo.GetByPhone(ctx, "0000000000")
		assert.ErrorIs(t, err, errors.ErrAccountNotFound)
		assert.ErrorIs(t, repo.UpdateLastLogin(ctx, "ACC404", time.Now()), errors.ErrAccountNotFound)
	})

	t.Run("last login", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateAccount(ctx, newAccount("ACC001", "9000000001", "0")))

		at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		require.NoError(t, repo.UpdateLastLogin(ctx, "ACC001", at))

		got, err := repo.GetByAccountNumber(ctx, "ACC001")
		require.NoError(t, err)
		require.NotNil(t, got.LastLogin)
		assert.True(t, at.Equal(*got.LastLogin))
	})

	t.Run("face registration", func(t *testing.T) {
		repo := newRepo(t)

		reg := &models.FaceRegistration{
			AccountNumber:   "ACC001",
			SealedEmbedding: []byte{1, 2, 3},
			PaymentLimit:    decimal.RequireFromString("500.00"),
			PINHash:         "$2a$10$pin",
			IsActive:        true,
		}
		assert.ErrorIs(t, repo.UpsertFaceRegistration(ctx, reg), errors.ErrAccountNotFound)

		require.NoError(t, repo.CreateAccount(ctx, newAccount("ACC001", "9000000001", "0")))
		_, err := repo.GetFaceRegistration(ctx, "ACC001")
		assert.ErrorIs(t, err, errors.ErrFacePayNotRegistered)

		require.NoError(t, repo.UpsertFaceRegistration(ctx, reg))
		got, err := repo.GetFaceRegistration(ctx, "ACC001")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, got.SealedEmbedding)
		assert.Equal(t, "500.00", got.PaymentLimit.StringFixed(2))
		assert.True(t, got.IsActive)

		reg.SealedEmbedding = []byte{9}
		reg.PaymentLimit = decimal.RequireFromString("750.00")
		require.NoError(t, repo.UpsertFaceRegistration(ctx, reg))
		got, err = repo.GetFaceRegistration(ctx, "ACC001")
		require.NoError(t, err)
		assert.Equal(t, []byte{9}, got.SealedEmbedding)
		assert.Equal(t, "750.00", got.PaymentLimit.StringFixed(2))

		got, err = repo.SetFaceRegistrationActive(ctx, "ACC001", false)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		_, err = repo.SetFaceRegistrationActive(ctx, "ACC404", true)
		assert.ErrorIs(t, err, errors.ErrFacePayNotRegistered)
	})
}

func testTransaction(sender, receiver, amount string, at time.Time) models.Transaction {
	return models.Transaction{
		ID:              uuid.NewString(),
		SenderAccount:   sender,
		ReceiverAccount: receiver,
		Amount:          decimal.RequireFromString(amount),
		Remarks:         "test",
		Status:          models.TransactionCompleted,
		Channel:         models.ChannelTransfer,
		CreatedAt:       at,
	}
}

func testLedgerRepository(t *testing.T, newRepo func(t *testing.T) repository.LedgerRepository) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		repo := newRepo(t)
		head, err := repo.LatestBlock(ctx)
		require.NoError(t, err)
		assert.Nil(t, head)

		_, err = repo.GetTransaction(ctx, uuid.NewString())
		assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	})

	t.Run("append and read back", func(t *testing.T) {
		repo := newRepo(t)

		first := testTransaction("ACC001", "ACC002", "10.00", base.Add(time.Minute))
		second := testTransaction("ACC002", "ACC003", "2.50", base.Add(2*time.Minute))

		chain := []models.Block{ledger.Seal(0, ledger.GenesisPreviousHash, base, nil)}
		chain = append(chain, ledger.Seal(1, chain[0].Hash, first.CreatedAt, []models.Transaction{first}))
		chain = append(chain, ledger.Seal(2, chain[1].Hash, second.CreatedAt, []models.Transaction{second}))
		for i := range chain {
			require.NoError(t, repo.AppendBlock(ctx, &chain[i]))
		}

		head, err := repo.LatestBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), head.Index)
		assert.Equal(t, chain[2].Hash, head.Hash)
		require.Len(t, head.Transactions, 1)
		assert.Equal(t, second.ID, head.Transactions[0].ID)

		blocks, err := repo.ListBlocks(ctx)
		require.NoError(t, err)
		require.Len(t, blocks, 3)
		assert.Empty(t, blocks[0].Transactions)

		// hashes survive the round trip
		report := ledger.Check(blocks)
		assert.True(t, report.Valid, "%+v", report.Results)

		got, err := repo.GetTransaction(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "ACC002", got.ReceiverAccount)
		assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

		history, err := repo.ListTransactionsByAccount(ctx, "ACC002")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, second.ID, history[0].ID)
		assert.Equal(t, first.ID, history[1].ID)

		history, err = repo.ListTransactionsByAccount(ctx, "ACC999")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("index conflict", func(t *testing.T) {
		repo := newRepo(t)

		genesis := ledger.Seal(0, ledger.GenesisPreviousHash, base, nil)
		require.NoError(t, repo.AppendBlock(ctx, &genesis))

		again := ledger.Seal(0, ledger.GenesisPreviousHash, base.Add(time.Second), nil)
		assert.ErrorIs(t, repo.AppendBlock(ctx, &again), errors.ErrBlockConflict)
	})
}

func balanceOf(t *testing.T, repo repository.AccountRepository, number string) string {
	t.Helper()
	acc, err := repo.GetByAccountNumber(context.Background(), number)
	require.NoError(t, err)
	return acc.Balance.StringFixed(2)
}

func move(from, to, amount string) []repository.BalanceAdjustment {
	d := decimal.RequireFromString(amount)
	return []repository.BalanceAdjustment{
		{AccountNumber: from, Delta: d.Neg()},
		{AccountNumber: to, Delta: d},
	}
}

// testPosting needs an account store and a ledger store backed by the same
// database, since CommitBlock moves balances and appends in one unit.
func testPosting(t *testing.T, newStores func(t *testing.T) (repository.AccountRepository, repository.LedgerRepository)) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (repository.AccountRepository, repository.LedgerRepository, models.Block) {
		accounts, ledgerRepo := newStores(t)
		require.NoError(t, accounts.CreateAccount(ctx, newAccount("ACC001", "9000000001", "100.00")))
		require.NoError(t, accounts.CreateAccount(ctx, newAccount("ACC002", "9000000002", "5.00")))
		genesis := ledger.Seal(0, ledger.GenesisPreviousHash, base, nil)
		require.NoError(t, ledgerRepo.AppendBlock(ctx, &genesis))
		return accounts, ledgerRepo, genesis
	}

	t.Run("commit moves balances", func(t *testing.T) {
		accounts, ledgerRepo, genesis := setup(t)

		txn := testTransaction("ACC001", "ACC002", "40.25", base.Add(time.Minute))
		block := ledger.Seal(1, genesis.Hash, txn.CreatedAt, []models.Transaction{txn})
		updated, err := ledgerRepo.CommitBlock(ctx, &block, move("ACC001", "ACC002", "40.25"))
		require.NoError(t, err)
		require.Len(t, updated, 2)
		assert.Equal(t, "ACC001", updated[0].AccountNumber)
		assert.Equal(t, "59.75", updated[0].Balance.StringFixed(2))
		assert.Equal(t, "45.25", updated[1].Balance.StringFixed(2))

		assert.Equal(t, "59.75", balanceOf(t, accounts, "ACC001"))
		assert.Equal(t, "45.25", balanceOf(t, accounts, "ACC002"))
		got, err := ledgerRepo.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "40.25", got.Amount.StringFixed(2))
	})

	t.Run("overdraft stores nothing", func(t *testing.T) {
		accounts, ledgerRepo, genesis := setup(t)

		txn := testTransaction("ACC002", "ACC001", "5.01", base.Add(time.Minute))
		block := ledger.Seal(1, genesis.Hash, txn.CreatedAt, []models.Transaction{txn})
		_, err := ledgerRepo.CommitBlock(ctx, &block, move("ACC002", "ACC001", "5.01"))
		assert.ErrorIs(t, err, errors.ErrInsufficentBalance)

		assert.Equal(t, "100.00", balanceOf(t, accounts, "ACC001"))
		assert.Equal(t, "5.00", balanceOf(t, accounts, "ACC002"))
		head, err := ledgerRepo.LatestBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), head.Index)
		_, err = ledgerRepo.GetTransaction(ctx, txn.ID)
		assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	})

	t.Run("unknown account stores nothing", func(t *testing.T) {
		accounts, ledgerRepo, genesis := setup(t)

		txn := testTransaction("ACC001", "ACC404", "1.00", base.Add(time.Minute))
		block := ledger.Seal(1, genesis.Hash, txn.CreatedAt, []models.Transaction{txn})
		_, err := ledgerRepo.CommitBlock(ctx, &block, move("ACC001", "ACC404", "1.00"))
		assert.ErrorIs(t, err, errors.ErrAccountNotFound)
		assert.Equal(t, "100.00", balanceOf(t, accounts, "ACC001"))
	})

	t.Run("block conflict rolls back balances", func(t *testing.T) {
		accounts, ledgerRepo, _ := setup(t)

		txn := testTransaction("ACC001", "ACC002", "10.00", base.Add(time.Minute))
		stale := ledger.Seal(0, ledger.GenesisPreviousHash, txn.CreatedAt, []models.Transaction{txn})
		_, err := ledgerRepo.CommitBlock(ctx, &stale, move("ACC001", "ACC002", "10.00"))
		assert.ErrorIs(t, err, errors.ErrBlockConflict)

		assert.Equal(t, "100.00", balanceOf(t, accounts, "ACC001"))
		assert.Equal(t, "5.00", balanceOf(t, accounts, "ACC002"))
		_, err = ledgerRepo.GetTransaction(ctx, txn.ID)
		assert.ErrorIs(t, err, errors.ErrTransactionNotFound)
	})

	t.Run("duplicate transaction id", func(t *testing.T) {
		accounts, ledgerRepo, genesis := setup(t)

		txn := testTransaction("ACC001", "ACC002", "10.00", base.Add(time.Minute))
		first := ledger.Seal(1, genesis.Hash, txn.CreatedAt, []models.Transaction{txn})
		_, err := ledgerRepo.CommitBlock(ctx, &first, move("ACC001", "ACC002", "10.00"))
		require.NoError(t, err)

		second := ledger.Seal(2, first.Hash, txn.CreatedAt.Add(time.Second), []models.Transaction{txn})
		_, err = ledgerRepo.CommitBlock(ctx, &second, move("ACC001", "ACC002", "10.00"))
		assert.ErrorIs(t, err, errors.ErrDuplicateTransaction)

		assert.Equal(t, "90.00", balanceOf(t, accounts, "ACC001"))
		assert.Equal(t, "15.00", balanceOf(t, accounts, "ACC002"))
		head, err := ledgerRepo.LatestBlock(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), head.Index)
	})
}

func testAuditRepository(t *testing.T, newRepo func(t *testing.T) repository.AuditRepository) {
	ctx := context.Background()
	repo := newRepo(t)

	created := &models.AuditLog{
		EntityType: models.EntityTypeAccount,
		EntityID:   "ACC001",
		Action:     models.AuditActionCreate,
		NewValue:   json.RawMessage(`{"account_number":"ACC001","balance":"0.00"}`),
	}
	require.NoError(t, repo.Record(ctx, created))
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	// keep created_at strictly ordered on coarse clocks
	time.Sleep(5 * time.Millisecond)

	debited := &models.AuditLog{
		EntityType: models.EntityTypeAccount,
		EntityID:   "ACC001",
		Action:     models.AuditActionDebit,
		OldValue:   json.RawMessage(`{"account_number":"ACC001","balance":"0.00"}`),
		NewValue:   json.RawMessage(`{"account_number":"ACC001","balance":"10.00"}`),
	}
	require.NoError(t, repo.Record(ctx, debited))

	logs, err := repo.GetByEntityID(ctx, models.EntityTypeAccount, "ACC001")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionDebit, logs[0].Action)
	assert.JSONEq(t, string(debited.OldValue), string(logs[0].OldValue))
	assert.Equal(t, models.AuditActionCreate, logs[1].Action)
	assert.Nil(t, logs[1].OldValue)
	assert.JSONEq(t, string(created.NewValue), string(logs[1].NewValue))

	logs, err = repo.GetByEntityID(ctx, models.EntityTypeFaceRegistration, "ACC001")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testSession(id string, state models.SessionState, now time.Time) *models.FacePaySession {
	return &models.FacePaySession{
		ID:            id,
		VendorAccount: "VEND001",
		Amount:        decimal.RequireFromString("25.00"),
		State:         state,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	}
}

func testSessionRepository(t *testing.T, newRepo func(t *testing.T) repository.SessionRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("save and get", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)

		s := testSession(uuid.NewString(), models.SessionInitiated, now)
		require.NoError(t, repo.Save(ctx, s, time.Hour))

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.VendorAccount, got.VendorAccount)
		assert.Equal(t, models.SessionInitiated, got.State)
		assert.Equal(t, "25.00", got.Amount.StringFixed(2))
		assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

		got.State = models.SessionCancelled
		again, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionInitiated, again.State)
	})

	t.Run("open sessions", func(t *testing.T) {
		repo := newRepo(t)
		open := testSession(uuid.NewString(), models.SessionAmountConfirmed, now)
		done := testSession(uuid.NewString(), models.SessionSettled, now)
		require.NoError(t, repo.Save(ctx, open, time.Hour))
		require.NoError(t, repo.Save(ctx, done, time.Hour))

		list, err := repo.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, open.ID, list[0].ID)

		open.State = models.SessionExpired
		require.NoError(t, repo.Save(ctx, open, time.Hour))
		list, err = repo.ListOpen(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		// terminal sessions stay readable
		got, err := repo.Get(ctx, open.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.State)
	})
}
