package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"bankcards/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s Store, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "hash",
		Role:     models.RoleUser,
		Enabled:  true,
	}
	require.NoError(t, s.Users().Create(context.Background(), user))
	return user
}

func seedCard(t *testing.T, s Store, owner uint, fingerprint string, balance string) *models.Card {
	t.Helper()
	card := &models.Card{
		NumberEncrypted: "sealed",
		NumberHMAC:      fingerprint,
		MaskedNumber:    "**** **** **** " + fingerprint[len(fingerprint)-4:],
		OwnerID:         owner,
		CardHolderName:  "IVAN IVANOV",
		ExpiryDate:      time.Now().AddDate(1, 0, 0),
		Status:          models.CardStatusActive,
		Balance:         decimal.RequireFromString(balance),
	}
	require.NoError(t, s.Cards().Create(context.Background(), card))
	return card
}

func TestMemoryStore_UsersUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	assert.Equal(t, uint(1), alice.ID)

	err := s.Users().Create(ctx, &models.User{Username: "alice", Email: "other@example.com", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicate)
	err = s.Users().Create(ctx, &models.User{Username: "alice2", Email: "alice@example.com", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := s.Users().FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.ID)

	_, err = s.Users().FindByID(ctx, 42)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_CardLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	card := seedCard(t, s, owner.ID, "fp-1111", "100.00")
	assert.NotEqual(t, uuid.Nil, card.ID)

	found, err := s.Cards().FindByID(ctx, card.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Owner)
	assert.Equal(t, "alice", found.Owner.Username)

	// изменения копии не видны до Save
	found.Balance = decimal.NewFromInt(1)
	again, err := s.Cards().FindByID(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(decimal.RequireFromString("100.00")))

	dup := &models.Card{NumberHMAC: "fp-1111", OwnerID: owner.ID}
	assert.ErrorIs(t, s.Cards().Create(ctx, dup), ErrDuplicate)

	require.NoError(t, s.Cards().Delete(ctx, card))
	_, err = s.Cards().FindByID(ctx, card.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.ErrorIs(t, s.Cards().Delete(ctx, card), ErrRecordNotFound)

	// отпечаток удаленной карты по-прежнему занят
	byFp, err := s.Cards().FindByFingerprint(ctx, "fp-1111")
	require.NoError(t, err)
	assert.Equal(t, card.ID, byFp.ID)
}

func TestMemoryStore_NegativeBalanceRejected(t *testing.T) {
	s := NewMemoryStore()
	owner := seedUser(t, s, "alice")
	card := seedCard(t, s, owner.ID, "fp-1111", "10.00")

	card.Balance = decimal.NewFromInt(-1)
	assert.ErrorIs(t, s.Cards().Save(context.Background(), card), ErrNegativeBalance)
}

func TestMemoryStore_ListCards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	for _, fp := range []string{"fp-0001", "fp-0002", "fp-0003"} {
		seedCard(t, s, alice.ID, fp, "1")
	}
	bobCard := seedCard(t, s, bob.ID, "fp-0004", "1")
	bobCard.Status = models.CardStatusBlocked
	require.NoError(t, s.Cards().Save(ctx, bobCard))

	cards, total, err := s.Cards().List(ctx, CardFilter{OwnerID: &alice.ID, Pagination: Pagination{Page: 0, Size: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, cards, 2)

	cards, _, err = s.Cards().List(ctx, CardFilter{OwnerID: &alice.ID, Pagination: Pagination{Page: 1, Size: 2}})
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	blocked := models.CardStatusBlocked
	cards, total, err = s.Cards().List(ctx, CardFilter{Status: &blocked})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, bobCard.ID, cards[0].ID)

	cards, _, err = s.Cards().List(ctx, CardFilter{MaskedNumber: "0002"})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "**** **** **** 0002", cards[0].MaskedNumber)
}

func TestMemoryStore_TransactionRollback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	from := seedCard(t, s, owner.ID, "fp-0001", "100")
	to := seedCard(t, s, owner.ID, "fp-0002", "0")

	boom := errors.New("boom")
	err := s.WithinTransaction(ctx, func(tx Store) error {
		locked, err := tx.Cards().LockForUpdate(ctx, to.ID, from.ID)
		require.NoError(t, err)
		locked[from.ID].Balance = decimal.Zero
		locked[to.ID].Balance = decimal.NewFromInt(100)
		require.NoError(t, tx.Cards().Save(ctx, locked[from.ID]))
		require.NoError(t, tx.Cards().Save(ctx, locked[to.ID]))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Cards().FindByID(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	got, err = s.Cards().FindByID(ctx, to.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestMemoryStore_TransactionCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	from := seedCard(t, s, owner.ID, "fp-0001", "100")
	to := seedCard(t, s, owner.ID, "fp-0002", "0")

	err := s.WithinTransaction(ctx, func(tx Store) error {
		locked, err := tx.Cards().LockForUpdate(ctx, from.ID, to.ID, uuid.New())
		if err != nil {
			return err
		}
		assert.Len(t, locked, 2)
		locked[from.ID].Balance = decimal.NewFromInt(60)
		locked[to.ID].Balance = decimal.NewFromInt(40)
		if err := tx.Cards().Save(ctx, locked[from.ID]); err != nil {
			return err
		}
		if err := tx.Cards().Save(ctx, locked[to.ID]); err != nil {
			return err
		}
		return tx.Transfers().Create(ctx, &models.Transfer{
			FromCardID: from.ID,
			ToCardID:   to.ID,
			Amount:     decimal.NewFromInt(40),
			Successful: true,
		})
	})
	require.NoError(t, err)

	transfers, total, err := s.Transfers().List(ctx, TransferFilter{CardID: &to.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.NotNil(t, transfers[0].FromCard)
	assert.Equal(t, from.ID, transfers[0].FromCard.ID)

	transfers, _, err = s.Transfers().List(ctx, TransferFilter{OwnerID: &owner.ID})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	other := uint(99)
	transfers, _, err = s.Transfers().List(ctx, TransferFilter{OwnerID: &other})
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Cards().FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
	err = s.WithinTransaction(ctx, func(Store) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ExpireOverdue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	fresh := seedCard(t, s, owner.ID, "fp-0001", "1")
	stale := seedCard(t, s, owner.ID, "fp-0002", "1")
	stale.ExpiryDate = time.Now().AddDate(0, 0, -2)
	require.NoError(t, s.Cards().Save(ctx, stale))

	expired, err := s.Cards().ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	got, err := s.Cards().FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, got.Status)

	// повторный запуск ничего не меняет
	expired, err = s.Cards().ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestPagination_Normalize(t *testing.T) {
	assert.Equal(t, Pagination{Page: 0, Size: DefaultPageSize}, Pagination{Page: -1}.Normalize())
	assert.Equal(t, Pagination{Page: 2, Size: MaxPageSize}, Pagination{Page: 2, Size: 1000}.Normalize())

	huge := Pagination{Page: 1e17, Size: 100}
	assert.Equal(t, MaxOffset/100, huge.Normalize().Page)
	assert.Positive(t, huge.Offset())
	assert.LessOrEqual(t, huge.Offset(), MaxOffset)
}

func TestMemoryStore_ListFarPage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	owner := seedUser(t, s, "alice")
	seedCard(t, s, owner.ID, "fp-0001", "10")

	cards, total, err := s.Cards().List(ctx, CardFilter{Pagination: Pagination{Page: 1e17, Size: 100}})
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.Equal(t, int64(1), total)

	users, _, err := s.Users().List(ctx, Pagination{Page: 1e17, Size: 100})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSortIDs(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	assert.Equal(t, []uuid.UUID{a, b}, sortIDs([]uuid.UUID{b, a, b}))
}
