package database

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"bankcards/models"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound - запись не найдена (или удалена)
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicate - нарушено ограничение уникальности
	ErrDuplicate = errors.New("duplicate record")
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxOffset ограничивает Page*Size, чтобы смещение не переполнялось
	MaxOffset = math.MaxInt32
)

// Pagination - номер страницы с нуля и ее размер
type Pagination struct {
	Page int
	Size int
}

// Normalize подставляет значения по умолчанию и ограничивает размер страницы
func (p Pagination) Normalize() Pagination {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if p.Page > MaxOffset/p.Size {
		p.Page = MaxOffset / p.Size
	}
	return p
}

func (p Pagination) Offset() int {
	p = p.Normalize()
	return p.Page * p.Size
}

// CardFilter - фильтр списка карт
type CardFilter struct {
	OwnerID      *uint
	Status       *models.CardStatus
	MaskedNumber string // подстрока маски
	Pagination
}

// TransferFilter - фильтр списка переводов
type TransferFilter struct {
	OwnerID *uint      // владелец карты-источника или карты-получателя
	CardID  *uuid.UUID // карта-источник или карта-получатель
	Pagination
}

// CardRepository хранит карты
type CardRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	// FindByFingerprint ищет и среди удаленных карт
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Card, error)
	// LockForUpdate блокирует строки в порядке возрастания id.
	// Отсутствующих карт в результате нет.
	LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error)
	Create(ctx context.Context, card *models.Card) error
	Save(ctx context.Context, card *models.Card) error
	Delete(ctx context.Context, card *models.Card) error
	List(ctx context.Context, filter CardFilter) ([]models.Card, int64, error)
	// ExpireOverdue переводит в EXPIRED карты со сроком действия раньше today
	ExpireOverdue(ctx context.Context, today time.Time) ([]models.Card, error)
}

// TransferRepository хранит журнал переводов
type TransferRepository interface {
	Create(ctx context.Context, transfer *models.Transfer) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	List(ctx context.Context, filter TransferFilter) ([]models.Transfer, int64, error)
}

// UserRepository хранит пользователей
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context, page Pagination) ([]models.User, int64, error)
}

// Store объединяет репозитории и атомарную единицу работы
type Store interface {
	Cards() CardRepository
	Transfers() TransferRepository
	Users() UserRepository
	// WithinTransaction выполняет fn атомарно. Ошибка fn откатывает все изменения.
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
}

// sortIDs упорядочивает id по возрастанию без повторов
func sortIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
