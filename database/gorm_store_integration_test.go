//go:build integration

package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"bankcards/config"
	"bankcards/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Запуск: DB_HOST=localhost go test -tags integration ./database/...
func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST is not set")
	}
	t.Setenv("JWT_SECRET_KEY", "integration-secret")
	t.Setenv("CARD_ENCRYPTION_KEY", "integration-passphrase")
	t.Setenv("CARD_HMAC_KEY", "integration-hmac")
	cfg, err := config.NewConfig()
	require.NoError(t, err)
	cfg.DB.MigrationsPath = "file://../migrations"

	require.NoError(t, RunMigrations(cfg))
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.DB.Exec("TRUNCATE transfers, cards, users RESTART IDENTITY CASCADE")
		db.Close()
	})
	require.NoError(t, db.DB.Exec("TRUNCATE transfers, cards, users RESTART IDENTITY CASCADE").Error)
	return db.Store()
}

func TestGormStore_CardsAndTransfers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	from := seedCard(t, s, owner.ID, "fp-0001", "100.00")
	to := seedCard(t, s, owner.ID, "fp-0002", "0")

	err := s.Users().Create(ctx, &models.User{Username: "alice", Email: "x@example.com", Password: "p", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, s.Cards().Create(ctx, &models.Card{
		NumberEncrypted: "x", NumberHMAC: "fp-0001", MaskedNumber: "**** **** **** 0001",
		OwnerID: owner.ID, CardHolderName: "A", ExpiryDate: time.Now(),
	}), ErrDuplicate)

	err = s.WithinTransaction(ctx, func(tx Store) error {
		locked, err := tx.Cards().LockForUpdate(ctx, from.ID, to.ID)
		if err != nil {
			return err
		}
		locked[from.ID].Balance = locked[from.ID].Balance.Sub(decimal.NewFromInt(30))
		locked[to.ID].Balance = locked[to.ID].Balance.Add(decimal.NewFromInt(30))
		if err := tx.Cards().Save(ctx, locked[from.ID]); err != nil {
			return err
		}
		if err := tx.Cards().Save(ctx, locked[to.ID]); err != nil {
			return err
		}
		return tx.Transfers().Create(ctx, &models.Transfer{
			FromCardID: from.ID, ToCardID: to.ID, Amount: decimal.NewFromInt(30), Successful: true,
		})
	})
	require.NoError(t, err)

	got, err := s.Cards().FindByID(ctx, to.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(30)))
	require.NotNil(t, got.Owner)

	transfers, total, err := s.Transfers().List(ctx, TransferFilter{OwnerID: &owner.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.NotNil(t, transfers[0].ToCard)

	// удаленная карта остается в истории
	require.NoError(t, s.Cards().Delete(ctx, to))
	_, err = s.Cards().FindByID(ctx, to.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	tr, err := s.Transfers().FindByID(ctx, transfers[0].ID)
	require.NoError(t, err)
	require.NotNil(t, tr.ToCard)
	assert.Equal(t, to.ID, tr.ToCard.ID)
}

func TestGormStore_RollbackAndCheckConstraint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	card := seedCard(t, s, owner.ID, "fp-0001", "10.00")

	boom := errors.New("boom")
	err := s.WithinTransaction(ctx, func(tx Store) error {
		locked, err := tx.Cards().LockForUpdate(ctx, card.ID, uuid.New())
		require.NoError(t, err)
		require.Len(t, locked, 1)
		locked[card.ID].Balance = decimal.Zero
		require.NoError(t, tx.Cards().Save(ctx, locked[card.ID]))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Cards().FindByID(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("10.00")))

	got.Balance = decimal.NewFromInt(-1)
	assert.Error(t, s.Cards().Save(ctx, got))
}

func TestGormStore_ConcurrentLocksSerialize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	a := seedCard(t, s, owner.ID, "fp-0001", "100.00")
	b := seedCard(t, s, owner.ID, "fp-0002", "100.00")

	move := func(from, to uuid.UUID) error {
		return s.WithinTransaction(ctx, func(tx Store) error {
			locked, err := tx.Cards().LockForUpdate(ctx, from, to)
			if err != nil {
				return err
			}
			locked[from].Balance = locked[from].Balance.Sub(decimal.NewFromInt(1))
			locked[to].Balance = locked[to].Balance.Add(decimal.NewFromInt(1))
			if err := tx.Cards().Save(ctx, locked[from]); err != nil {
				return err
			}
			return tx.Cards().Save(ctx, locked[to])
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, move(a.ID, b.ID)) }()
		go func() { defer wg.Done(); assert.NoError(t, move(b.ID, a.ID)) }()
	}
	wg.Wait()

	gotA, err := s.Cards().FindByID(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := s.Cards().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Add(gotB.Balance).Equal(decimal.NewFromInt(200)))
}

func TestGormStore_ExpireOverdue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	card := seedCard(t, s, owner.ID, "fp-0001", "1")
	card.ExpiryDate = time.Now().AddDate(0, -1, 0)
	require.NoError(t, s.Cards().Save(ctx, card))

	expired, err := s.Cards().ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, models.CardStatusExpired, expired[0].Status)
}

func TestGormStore_MaskedNumberFilterIsLiteral(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	seedCard(t, s, owner.ID, "fp-0001", "1")
	seedCard(t, s, owner.ID, "fp-0002", "1")

	cards, total, err := s.Cards().List(ctx, CardFilter{MaskedNumber: "0002"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, cards, 1)

	for _, pattern := range []string{"%", "_", "000_"} {
		cards, total, err = s.Cards().List(ctx, CardFilter{MaskedNumber: pattern})
		require.NoError(t, err, pattern)
		assert.Zero(t, total, pattern)
		assert.Empty(t, cards, pattern)
	}
}

func TestGormStore_FailedTransferKeepsRequestedAmount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	owner := seedUser(t, s, "alice")
	from := seedCard(t, s, owner.ID, "fp-0001", "1")
	to := seedCard(t, s, owner.ID, "fp-0002", "0")

	// сумма не помещается в баланс карты, но попытка все равно попадает в журнал
	failed := &models.Transfer{
		FromCardID:    from.ID,
		ToCardID:      to.ID,
		Amount:        decimal.RequireFromString("100000000000000.005"),
		FailureReason: "Transfer amount must not exceed 9999999999999.99",
		TransferDate:  time.Now(),
	}
	require.NoError(t, s.Transfers().Create(ctx, failed))

	got, err := s.Transfers().FindByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(failed.Amount))
	assert.False(t, got.Successful)
}

func TestGormStore_FarPage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	seedCard(t, s, owner.ID, "fp-0001", "1")

	cards, total, err := s.Cards().List(ctx, CardFilter{Pagination: Pagination{Page: 1e17, Size: 100}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Empty(t, cards)
}
