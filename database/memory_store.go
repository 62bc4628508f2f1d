package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bankcards/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNegativeBalance повторяет CHECK (balance >= 0) из схемы
var ErrNegativeBalance = errors.New("card balance must not be negative")

type memoryState struct {
	cards      map[uuid.UUID]models.Card
	transfers  map[uuid.UUID]models.Transfer
	users      map[uint]models.User
	nextUserID uint
}

func newMemoryState() *memoryState {
	return &memoryState{
		cards:     make(map[uuid.UUID]models.Card),
		transfers: make(map[uuid.UUID]models.Transfer),
		users:     make(map[uint]models.User),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		cards:      make(map[uuid.UUID]models.Card, len(s.cards)),
		transfers:  make(map[uuid.UUID]models.Transfer, len(s.transfers)),
		users:      make(map[uint]models.User, len(s.users)),
		nextUserID: s.nextUserID,
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// accessor дает репозиторию доступ к состоянию
type accessor func(ctx context.Context, fn func(st *memoryState) error) error

// MemoryStore - хранилище в памяти для локального запуска и тестов.
// Транзакция работает с копией состояния под общим мьютексом
// и подменяет состояние только при успехе.
type MemoryStore struct {
	mu sync.Mutex
	st *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemoryState()}
}

func (s *MemoryStore) access(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *MemoryStore) Cards() CardRepository         { return &memoryCardRepository{access: s.access} }
func (s *MemoryStore) Transfers() TransferRepository { return &memoryTransferRepository{access: s.access} }
func (s *MemoryStore) Users() UserRepository         { return &memoryUserRepository{access: s.access} }

func (s *MemoryStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// memoryTx - хранилище внутри транзакции, мьютекс уже захвачен
type memoryTx struct {
	st *memoryState
}

func (t *memoryTx) access(ctx context.Context, fn func(st *memoryState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t.st)
}

func (t *memoryTx) Cards() CardRepository         { return &memoryCardRepository{access: t.access} }
func (t *memoryTx) Transfers() TransferRepository { return &memoryTransferRepository{access: t.access} }
func (t *memoryTx) Users() UserRepository         { return &memoryUserRepository{access: t.access} }

func (t *memoryTx) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	nested := &memoryTx{st: t.st.clone()}
	if err := fn(nested); err != nil {
		return err
	}
	t.st = nested.st
	return nil
}

func paginate[T any](items []T, page Pagination) []T {
	page = page.Normalize()
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type memoryCardRepository struct {
	access accessor
}

// withOwner возвращает копию карты с подгруженным владельцем
func withOwner(st *memoryState, card models.Card) *models.Card {
	if owner, ok := st.users[card.OwnerID]; ok {
		card.Owner = &owner
	} else {
		card.Owner = nil
	}
	return &card
}

func (r *memoryCardRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	var found *models.Card
	err := r.access(ctx, func(st *memoryState) error {
		card, ok := st.cards[id]
		if !ok || card.DeletedAt.Valid {
			return ErrRecordNotFound
		}
		found = withOwner(st, card)
		return nil
	})
	return found, err
}

func (r *memoryCardRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Card, error) {
	var found *models.Card
	err := r.access(ctx, func(st *memoryState) error {
		for _, card := range st.cards {
			if card.NumberHMAC == fingerprint {
				c := card
				found = &c
				return nil
			}
		}
		return ErrRecordNotFound
	})
	return found, err
}

func (r *memoryCardRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error) {
	locked := make(map[uuid.UUID]*models.Card, len(ids))
	err := r.access(ctx, func(st *memoryState) error {
		for _, id := range sortIDs(ids) {
			card, ok := st.cards[id]
			if !ok || card.DeletedAt.Valid {
				continue
			}
			c := card
			locked[id] = &c
		}
		return nil
	})
	return locked, err
}

func (r *memoryCardRepository) Create(ctx context.Context, card *models.Card) error {
	return r.access(ctx, func(st *memoryState) error {
		if err := card.BeforeCreate(nil); err != nil {
			return err
		}
		if _, ok := st.cards[card.ID]; ok {
			return fmt.Errorf("%w: cards_pkey", ErrDuplicate)
		}
		for _, existing := range st.cards {
			if existing.NumberHMAC == card.NumberHMAC {
				return fmt.Errorf("%w: cards_number_hmac_key", ErrDuplicate)
			}
		}
		if _, ok := st.users[card.OwnerID]; !ok {
			return fmt.Errorf("card owner %d does not exist", card.OwnerID)
		}
		if card.Balance.IsNegative() {
			return ErrNegativeBalance
		}
		if card.Status == "" {
			card.Status = models.CardStatusActive
		}
		now := time.Now()
		if card.CreatedAt.IsZero() {
			card.CreatedAt = now
		}
		card.UpdatedAt = now

		stored := *card
		stored.Owner = nil
		st.cards[card.ID] = stored
		return nil
	})
}

func (r *memoryCardRepository) Save(ctx context.Context, card *models.Card) error {
	return r.access(ctx, func(st *memoryState) error {
		if card.Balance.IsNegative() {
			return ErrNegativeBalance
		}
		card.UpdatedAt = time.Now()
		stored := *card
		stored.Owner = nil
		st.cards[card.ID] = stored
		return nil
	})
}

func (r *memoryCardRepository) Delete(ctx context.Context, card *models.Card) error {
	return r.access(ctx, func(st *memoryState) error {
		stored, ok := st.cards[card.ID]
		if !ok || stored.DeletedAt.Valid {
			return ErrRecordNotFound
		}
		stored.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
		st.cards[card.ID] = stored
		card.DeletedAt = stored.DeletedAt
		return nil
	})
}

func (r *memoryCardRepository) List(ctx context.Context, filter CardFilter) ([]models.Card, int64, error) {
	var (
		page  []models.Card
		total int64
	)
	err := r.access(ctx, func(st *memoryState) error {
		matched := make([]models.Card, 0)
		for _, card := range st.cards {
			if card.DeletedAt.Valid {
				continue
			}
			if filter.OwnerID != nil && card.OwnerID != *filter.OwnerID {
				continue
			}
			if filter.Status != nil && card.Status != *filter.Status {
				continue
			}
			if filter.MaskedNumber != "" && !strings.Contains(card.MaskedNumber, filter.MaskedNumber) {
				continue
			}
			matched = append(matched, *withOwner(st, card))
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID.String() < matched[j].ID.String()
		})
		total = int64(len(matched))
		page = paginate(matched, filter.Pagination)
		return nil
	})
	return page, total, err
}

func (r *memoryCardRepository) ExpireOverdue(ctx context.Context, today time.Time) ([]models.Card, error) {
	var expired []models.Card
	err := r.access(ctx, func(st *memoryState) error {
		for id, card := range st.cards {
			if card.DeletedAt.Valid || card.Status == models.CardStatusExpired || !card.IsExpiredAt(today) {
				continue
			}
			card.Status = models.CardStatusExpired
			card.UpdatedAt = time.Now()
			st.cards[id] = card
			expired = append(expired, card)
		}
		return nil
	})
	return expired, err
}

type memoryTransferRepository struct {
	access accessor
}

// withCards подгружает карты перевода, включая удаленные
func withCards(st *memoryState, transfer models.Transfer) models.Transfer {
	if card, ok := st.cards[transfer.FromCardID]; ok {
		transfer.FromCard = withOwner(st, card)
	}
	if card, ok := st.cards[transfer.ToCardID]; ok {
		transfer.ToCard = withOwner(st, card)
	}
	return transfer
}

func (r *memoryTransferRepository) Create(ctx context.Context, transfer *models.Transfer) error {
	return r.access(ctx, func(st *memoryState) error {
		if err := transfer.BeforeCreate(nil); err != nil {
			return err
		}
		if _, ok := st.cards[transfer.FromCardID]; !ok {
			return fmt.Errorf("source card %s does not exist", transfer.FromCardID)
		}
		if _, ok := st.cards[transfer.ToCardID]; !ok {
			return fmt.Errorf("destination card %s does not exist", transfer.ToCardID)
		}
		stored := *transfer
		stored.FromCard = nil
		stored.ToCard = nil
		st.transfers[transfer.ID] = stored
		return nil
	})
}

func (r *memoryTransferRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var found *models.Transfer
	err := r.access(ctx, func(st *memoryState) error {
		transfer, ok := st.transfers[id]
		if !ok {
			return ErrRecordNotFound
		}
		t := withCards(st, transfer)
		found = &t
		return nil
	})
	return found, err
}

func (r *memoryTransferRepository) List(ctx context.Context, filter TransferFilter) ([]models.Transfer, int64, error) {
	var (
		page  []models.Transfer
		total int64
	)
	err := r.access(ctx, func(st *memoryState) error {
		matched := make([]models.Transfer, 0)
		for _, transfer := range st.transfers {
			if filter.CardID != nil && !transfer.Involves(*filter.CardID) {
				continue
			}
			t := withCards(st, transfer)
			if filter.OwnerID != nil && !t.OwnedBy(*filter.OwnerID) {
				continue
			}
			matched = append(matched, t)
		}
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].TransferDate.Equal(matched[j].TransferDate) {
				return matched[i].TransferDate.After(matched[j].TransferDate)
			}
			return matched[i].ID.String() < matched[j].ID.String()
		})
		total = int64(len(matched))
		page = paginate(matched, filter.Pagination)
		return nil
	})
	return page, total, err
}

type memoryUserRepository struct {
	access accessor
}

func (r *memoryUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.access(ctx, func(st *memoryState) error {
		if err := user.BeforeCreate(nil); err != nil {
			return err
		}
		for _, existing := range st.users {
			if existing.Username == user.Username {
				return fmt.Errorf("%w: users_username_key", ErrDuplicate)
			}
			if existing.Email == user.Email {
				return fmt.Errorf("%w: users_email_key", ErrDuplicate)
			}
		}
		st.nextUserID++
		user.ID = st.nextUserID
		now := time.Now()
		user.CreatedAt = now
		user.UpdatedAt = now
		st.users[user.ID] = *user
		return nil
	})
}

func (r *memoryUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var found *models.User
	err := r.access(ctx, func(st *memoryState) error {
		user, ok := st.users[id]
		if !ok {
			return ErrRecordNotFound
		}
		found = &user
		return nil
	})
	return found, err
}

func (r *memoryUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var found *models.User
	err := r.access(ctx, func(st *memoryState) error {
		for _, user := range st.users {
			if user.Username == username {
				u := user
				found = &u
				return nil
			}
		}
		return ErrRecordNotFound
	})
	return found, err
}

func (r *memoryUserRepository) List(ctx context.Context, page Pagination) ([]models.User, int64, error) {
	var (
		users []models.User
		total int64
	)
	err := r.access(ctx, func(st *memoryState) error {
		all := make([]models.User, 0, len(st.users))
		for _, user := range st.users {
			all = append(all, user)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
		total = int64(len(all))
		users = paginate(all, page)
		return nil
	})
	return users, total, err
}
