package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bankcards/database"
	"bankcards/models"
	"bankcards/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendTransferNotification(to string, transfer *models.Transfer, from, dest *models.Card) error {
	args := m.Called(to, transfer, from, dest)
	return args.Error(0)
}

func (m *mockNotifier) SendCardExpiredNotification(to string, card *models.Card) error {
	args := m.Called(to, card)
	return args.Error(0)
}

type fixture struct {
	store     *database.MemoryStore
	guard     *Guard
	metrics   *utils.Metrics
	cipher    *utils.CardCipher
	notifier  *mockNotifier
	tokens    *TokenService
	cards     *CardService
	transfers *TransferService
	users     *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := utils.NewCardCipher("test-passphrase", "test-hmac")
	require.NoError(t, err)

	notifier := &mockNotifier{}
	notifier.On("SendTransferNotification", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("SendCardExpiredNotification", mock.Anything, mock.Anything).Return(nil).Maybe()

	f := &fixture{
		store:    database.NewMemoryStore(),
		guard:    NewGuard(),
		metrics:  utils.NewMetrics(),
		cipher:   cipher,
		notifier: notifier,
		tokens:   NewTokenService("test-secret", time.Hour),
	}
	f.cards = NewCardService(f.store, f.guard, f.cipher, f.metrics)
	f.transfers = NewTransferService(f.store, f.guard, f.notifier, f.metrics, time.Second)
	f.users = NewUserService(f.store, f.guard, f.tokens)
	return f
}

// user создает пользователя напрямую в хранилище
func (f *fixture) user(t *testing.T, username string, role models.Role) Caller {
	t.Helper()
	u := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Password:  "hash",
		FirstName: "Test",
		LastName:  username,
		Role:      role,
		Enabled:   true,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return Caller{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// card кладет активную карту в хранилище, opts меняют ее до сохранения
func (f *fixture) card(t *testing.T, owner Caller, balance string, opts ...func(*models.Card)) *models.Card {
	t.Helper()
	c := &models.Card{
		NumberEncrypted: "sealed",
		NumberHMAC:      uuid.NewString(),
		MaskedNumber:    "**** **** **** 1234",
		OwnerID:         owner.UserID,
		CardHolderName:  "TEST HOLDER",
		ExpiryDate:      time.Now().AddDate(2, 0, 0),
		Status:          models.CardStatusActive,
		Balance:         decimal.RequireFromString(balance),
	}
	for _, opt := range opts {
		opt(c)
	}
	require.NoError(t, f.store.Cards().Create(context.Background(), c))
	return c
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	c, err := f.store.Cards().FindByID(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func (f *fixture) allTransfers(t *testing.T) []models.Transfer {
	t.Helper()
	transfers, _, err := f.store.Transfers().List(context.Background(), database.TransferFilter{
		Pagination: database.Pagination{Size: database.MaxPageSize},
	})
	require.NoError(t, err)
	return transfers
}

func withStatus(status models.CardStatus) func(*models.Card) {
	return func(c *models.Card) { c.Status = status }
}

func withExpiry(expiry time.Time) func(*models.Card) {
	return func(c *models.Card) { c.ExpiryDate = expiry }
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var errDiskFull = errors.New("disk full")

// faultyStore отказывает в записи выбранной карты или успешного перевода
type faultyStore struct {
	database.Store
	failSaveOf       uuid.UUID
	failTransferSave bool
	failAudit        bool
	// cause - ошибка отказа, по умолчанию errDiskFull
	cause error
}

func (s *faultyStore) Cards() database.CardRepository {
	return &faultyCards{CardRepository: s.Store.Cards(), failSaveOf: s.failSaveOf, cause: s.cause}
}

func (s *faultyStore) Transfers() database.TransferRepository {
	return &faultyTransfers{TransferRepository: s.Store.Transfers(), failSuccessful: s.failTransferSave, failAudit: s.failAudit}
}

func (s *faultyStore) WithinTransaction(ctx context.Context, fn func(tx database.Store) error) error {
	return s.Store.WithinTransaction(ctx, func(tx database.Store) error {
		return fn(&faultyStore{Store: tx, failSaveOf: s.failSaveOf, failTransferSave: s.failTransferSave, failAudit: s.failAudit, cause: s.cause})
	})
}

type faultyCards struct {
	database.CardRepository
	failSaveOf uuid.UUID
	cause      error
}

func (r *faultyCards) Save(ctx context.Context, card *models.Card) error {
	if card.ID == r.failSaveOf {
		if r.cause != nil {
			return r.cause
		}
		return errDiskFull
	}
	return r.CardRepository.Save(ctx, card)
}

type faultyTransfers struct {
	database.TransferRepository
	failSuccessful bool
	failAudit      bool
}

func (r *faultyTransfers) Create(ctx context.Context, transfer *models.Transfer) error {
	if transfer.Successful && r.failSuccessful {
		return errDiskFull
	}
	if !transfer.Successful && r.failAudit {
		return errDiskFull
	}
	return r.TransferRepository.Create(ctx, transfer)
}

func paging(page, size int) database.Pagination {
	return database.Pagination{Page: page, Size: size}
}
