package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CardStatus представляет статус карты
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// ParseCardStatus разбирает статус без учета регистра
func ParseCardStatus(s string) (CardStatus, bool) {
	switch status := CardStatus(strings.ToUpper(strings.TrimSpace(s))); status {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return status, true
	}
	return "", false
}

// Card представляет банковскую карту. Реальный номер хранится только
// в зашифрованном виде, наружу отдается маска.
type Card struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	NumberEncrypted string          `gorm:"column:number_encrypted;not null"`
	NumberHMAC      string          `gorm:"column:number_hmac;uniqueIndex;not null;size:64"`
	MaskedNumber    string          `gorm:"column:masked_number;not null;size:19"`
	OwnerID         uint            `gorm:"column:owner_id;not null;index"`
	Owner           *User           `gorm:"foreignKey:OwnerID"`
	CardHolderName  string          `gorm:"column:card_holder_name;not null;size:100"`
	ExpiryDate      time.Time       `gorm:"column:expiry_date;type:date;not null"`
	Status          CardStatus      `gorm:"column:status;type:varchar(10);not null;default:'ACTIVE'"`
	Balance         decimal.Decimal `gorm:"column:balance;type:decimal(15,2);not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"column:deleted_at;index"`
}

// TableName возвращает имя таблицы для модели Card
func (Card) TableName() string {
	return "cards"
}

// BeforeCreate проставляет UUID перед вставкой
func (c *Card) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsExpiredAt сообщает, что текущая дата уже позже даты окончания действия
func (c *Card) IsExpiredAt(now time.Time) bool {
	return dateOf(now).After(dateOf(c.ExpiryDate))
}

// IsActiveAt: статус ACTIVE и срок действия не истек
func (c *Card) IsActiveAt(now time.Time) bool {
	return c.Status == CardStatusActive && !c.IsExpiredAt(now)
}

// CanTransferAt сообщает, можно ли списывать с карты
func (c *Card) CanTransferAt(now time.Time) bool {
	return c.IsActiveAt(now) && c.Status != CardStatusBlocked
}

func (c *Card) IsExpired() bool   { return c.IsExpiredAt(time.Now()) }
func (c *Card) IsActive() bool    { return c.IsActiveAt(time.Now()) }
func (c *Card) CanTransfer() bool { return c.CanTransferAt(time.Now()) }

// OwnedBy сообщает, принадлежит ли карта пользователю
func (c *Card) OwnedBy(userID uint) bool {
	return c.OwnerID == userID
}

// OwnerName возвращает имя владельца, если он подгружен
func (c *Card) OwnerName() string {
	if c.Owner == nil {
		return ""
	}
	return strings.TrimSpace(c.Owner.FirstName + " " + c.Owner.LastName)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
