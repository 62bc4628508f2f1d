package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankcards/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// код PostgreSQL unique_violation
const uniqueViolation = "23505"

// likeEscaper экранирует спецсимволы LIKE, фильтр ищет подстроку буквально
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// GormStore реализует Store поверх GORM и PostgreSQL
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Cards() CardRepository         { return &gormCardRepository{db: s.db} }
func (s *GormStore) Transfers() TransferRepository { return &gormTransferRepository{db: s.db} }
func (s *GormStore) Users() UserRepository         { return &gormUserRepository{db: s.db} }

// WithinTransaction открывает транзакцию READ COMMITTED. Согласованность
// балансов обеспечивают блокировки строк из LockForUpdate.
func (s *GormStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// translateError приводит ошибки драйвера к ошибкам пакета
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}

type gormCardRepository struct {
	db *gorm.DB
}

func (r *gormCardRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	var card models.Card
	err := r.db.WithContext(ctx).Preload("Owner").Where("id = ?", id).Take(&card).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &card, nil
}

func (r *gormCardRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Card, error) {
	var card models.Card
	err := r.db.WithContext(ctx).Unscoped().Where("number_hmac = ?", fingerprint).Take(&card).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &card, nil
}

func (r *gormCardRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Card, error) {
	locked := make(map[uuid.UUID]*models.Card, len(ids))
	// по одной строке в фиксированном порядке, чтобы встречные переводы не взаимоблокировались
	for _, id := range sortIDs(ids) {
		var card models.Card
		err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&card).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock card %s: %w", id, err)
		}
		locked[id] = &card
	}
	return locked, nil
}

func (r *gormCardRepository) Create(ctx context.Context, card *models.Card) error {
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Create(card).Error)
}

func (r *gormCardRepository) Save(ctx context.Context, card *models.Card) error {
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Save(card).Error)
}

func (r *gormCardRepository) Delete(ctx context.Context, card *models.Card) error {
	res := r.db.WithContext(ctx).Delete(card)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *gormCardRepository) List(ctx context.Context, filter CardFilter) ([]models.Card, int64, error) {
	page := filter.Pagination.Normalize()
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.OwnerID != nil {
			db = db.Where("owner_id = ?", *filter.OwnerID)
		}
		if filter.Status != nil {
			db = db.Where("status = ?", *filter.Status)
		}
		if filter.MaskedNumber != "" {
			db = db.Where(`masked_number LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(filter.MaskedNumber)+"%")
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Card{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	var cards []models.Card
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Preload("Owner").
		Order("created_at DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		Find(&cards).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, total, nil
}

func (r *gormCardRepository) ExpireOverdue(ctx context.Context, today time.Time) ([]models.Card, error) {
	var cards []models.Card
	err := r.db.WithContext(ctx).
		Model(&cards).
		Clauses(clause.Returning{}).
		Where("expiry_date < ? AND status <> ?", today.Format(time.DateOnly), models.CardStatusExpired).
		Update("status", models.CardStatusExpired).Error
	if err != nil {
		return nil, fmt.Errorf("failed to expire cards: %w", err)
	}
	return cards, nil
}

type gormTransferRepository struct {
	db *gorm.DB
}

// карты в истории подгружаем вместе с удаленными
func unscopedCards(db *gorm.DB) *gorm.DB {
	return db.Unscoped()
}

func (r *gormTransferRepository) Create(ctx context.Context, transfer *models.Transfer) error {
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Create(transfer).Error)
}

func (r *gormTransferRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	err := r.db.WithContext(ctx).
		Preload("FromCard", unscopedCards).
		Preload("ToCard", unscopedCards).
		Where("id = ?", id).
		Take(&transfer).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &transfer, nil
}

func (r *gormTransferRepository) List(ctx context.Context, filter TransferFilter) ([]models.Transfer, int64, error) {
	page := filter.Pagination.Normalize()
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.OwnerID != nil {
			db = db.Where("(from_card_id IN (SELECT id FROM cards WHERE owner_id = ?) OR to_card_id IN (SELECT id FROM cards WHERE owner_id = ?))",
				*filter.OwnerID, *filter.OwnerID)
		}
		if filter.CardID != nil {
			db = db.Where("(from_card_id = ? OR to_card_id = ?)", *filter.CardID, *filter.CardID)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Transfer{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	var transfers []models.Transfer
	err := r.db.WithContext(ctx).
		Scopes(scope).
		Preload("FromCard", unscopedCards).
		Preload("ToCard", unscopedCards).
		Order("transfer_date DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		Find(&transfers).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, total, nil
}

type gormUserRepository struct {
	db *gorm.DB
}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return translateError(r.db.WithContext(ctx).Create(user).Error)
}

func (r *gormUserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (r *gormUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (r *gormUserRepository) List(ctx context.Context, page Pagination) ([]models.User, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}
	var users []models.User
	err := r.db.WithContext(ctx).Order("id").Limit(page.Size).Offset(page.Offset()).Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}
