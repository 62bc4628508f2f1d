package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transfer представляет запись аудита перевода между картами.
// Создается ровно одна запись на попытку: успешную или нет.
type Transfer struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	FromCardID    uuid.UUID       `gorm:"column:from_card_id;type:uuid;not null;index"`
	FromCard      *Card           `gorm:"foreignKey:FromCardID"`
	ToCardID      uuid.UUID       `gorm:"column:to_card_id;type:uuid;not null;index"`
	ToCard        *Card           `gorm:"foreignKey:ToCardID"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric;not null"` // в журнале хранится запрошенная сумма как есть
	Description   string          `gorm:"column:description;size:255"`
	FailureReason string          `gorm:"column:failure_reason;size:255"`
	TransferDate  time.Time       `gorm:"column:transfer_date;not null"`
	Successful    bool            `gorm:"column:successful;not null"`
}

func (Transfer) TableName() string {
	return "transfers"
}

// BeforeCreate проставляет UUID и дату перевода
func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.TransferDate.IsZero() {
		t.TransferDate = time.Now()
	}
	return nil
}

// OwnedBy: перевод доступен владельцу карты-источника или карты-получателя.
// Карты должны быть подгружены.
func (t *Transfer) OwnedBy(userID uint) bool {
	return (t.FromCard != nil && t.FromCard.OwnedBy(userID)) ||
		(t.ToCard != nil && t.ToCard.OwnedBy(userID))
}

// Involves сообщает, участвует ли карта в переводе
func (t *Transfer) Involves(cardID uuid.UUID) bool {
	return t.FromCardID == cardID || t.ToCardID == cardID
}
