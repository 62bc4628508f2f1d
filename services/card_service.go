package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankcards/database"
	"bankcards/models"
	"bankcards/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	dateLayout = "2006-01-02"
	// попыток сгенерировать номер, не совпадающий с существующими
	maxGenerateAttempts = 10
)

// CardCreateRequest представляет данные для выпуска карты.
// Если номер не передан, он генерируется.
type CardCreateRequest struct {
	CardNumber     string          `json:"cardNumber" validate:"omitempty,max=32"`
	CardHolderName string          `json:"cardHolderName" validate:"required,max=100"`
	ExpiryDate     string          `json:"expiryDate" validate:"required,datetime=2006-01-02"`
	Status         string          `json:"status"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

// CardResponse представляет данные карты для ответа. Номер только в маске.
type CardResponse struct {
	ID             uuid.UUID         `json:"id"`
	MaskedNumber   string            `json:"maskedNumber"`
	CardHolderName string            `json:"cardHolderName"`
	ExpiryDate     string            `json:"expiryDate"`
	Status         models.CardStatus `json:"status"`
	Balance        decimal.Decimal   `json:"balance"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	OwnerID        uint              `json:"ownerId"`
	OwnerName      string            `json:"ownerName"`
	Expired        bool              `json:"isExpired"`
}

// CardQuery - фильтр списка карт. Неизвестный статус игнорируется.
type CardQuery struct {
	OwnerID      *uint
	Status       string
	MaskedNumber string
	database.Pagination
}

// CardService предоставляет методы для работы с картами
type CardService struct {
	store   database.Store
	guard   *Guard
	cipher  *utils.CardCipher
	metrics *utils.Metrics
	now     func() time.Time
}

// NewCardService создает новый экземпляр CardService
func NewCardService(store database.Store, guard *Guard, cipher *utils.CardCipher, metrics *utils.Metrics) *CardService {
	return &CardService{
		store:   store,
		guard:   guard,
		cipher:  cipher,
		metrics: metrics,
		now:     time.Now,
	}
}

// CreateCard выпускает карту для ownerID. Пользователь может выпустить карту только себе.
func (s *CardService) CreateCard(ctx context.Context, caller Caller, ownerID uint, req CardCreateRequest) (*CardResponse, error) {
	start := time.Now()
	if !caller.IsAdmin() && ownerID != caller.UserID {
		return nil, ErrAccessDenied
	}

	owner, err := s.store.Users().FindByID(ctx, ownerID)
	if err != nil {
		return nil, storeError(err, "User")
	}

	expiry, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		return nil, ValidationError("Expiry date must be in format YYYY-MM-DD")
	}
	status := models.CardStatusActive
	if req.Status != "" {
		parsed, ok := models.ParseCardStatus(req.Status)
		if !ok {
			return nil, ErrInvalidStatus
		}
		status = parsed
	}
	if req.InitialBalance.IsNegative() {
		return nil, newError(KindInvalidAmount, "Initial balance must be positive or zero")
	}
	if req.InitialBalance.GreaterThan(maxAmount) {
		return nil, newError(KindInvalidAmount, "Initial balance must not exceed "+maxAmount.StringFixed(2))
	}

	number, fingerprint, err := s.resolveNumber(ctx, req.CardNumber)
	if err != nil {
		return nil, err
	}
	sealed, err := s.cipher.Seal(number)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt card number: %w", err)
	}

	card := &models.Card{
		NumberEncrypted: sealed,
		NumberHMAC:      fingerprint,
		MaskedNumber:    utils.MaskCardNumber(number),
		OwnerID:         owner.ID,
		CardHolderName:  strings.TrimSpace(req.CardHolderName),
		ExpiryDate:      expiry,
		Status:          status,
		Balance:         req.InitialBalance.Round(2),
	}
	if err := s.store.Cards().Create(ctx, card); err != nil {
		s.metrics.RecordCardOperation(utils.CardOpCreate, err)
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrDuplicateCard
		}
		return nil, fmt.Errorf("failed to create card: %w", err)
	}
	card.Owner = owner

	s.metrics.RecordCardOperation(utils.CardOpCreate, nil)
	utils.LogInfo("card %s created for user %d by user %d in %s", card.ID, owner.ID, caller.UserID, time.Since(start))
	return s.toResponse(card), nil
}

// resolveNumber проверяет переданный номер или генерирует новый
func (s *CardService) resolveNumber(ctx context.Context, supplied string) (string, string, error) {
	if supplied != "" {
		number := utils.NormalizeCardNumber(supplied)
		if !utils.ValidCardNumber(number) {
			return "", "", ErrInvalidCardNumber
		}
		fingerprint := s.cipher.Fingerprint(number)
		taken, err := s.fingerprintTaken(ctx, fingerprint)
		if err != nil {
			return "", "", err
		}
		if taken {
			return "", "", ErrDuplicateCard
		}
		return number, fingerprint, nil
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		number, err := utils.GenerateCardNumber()
		if err != nil {
			return "", "", err
		}
		fingerprint := s.cipher.Fingerprint(number)
		taken, err := s.fingerprintTaken(ctx, fingerprint)
		if err != nil {
			return "", "", err
		}
		if !taken {
			return number, fingerprint, nil
		}
	}
	return "", "", errors.New("failed to generate a unique card number")
}

func (s *CardService) fingerprintTaken(ctx context.Context, fingerprint string) (bool, error) {
	_, err := s.store.Cards().FindByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, database.ErrRecordNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check card number: %w", err)
	}
}

// ListCards возвращает страницу карт. Пользователь видит только свои карты.
func (s *CardService) ListCards(ctx context.Context, caller Caller, query CardQuery) (Page[CardResponse], error) {
	filter := database.CardFilter{
		OwnerID:      query.OwnerID,
		MaskedNumber: strings.TrimSpace(query.MaskedNumber),
		Pagination:   query.Pagination,
	}
	if status, ok := models.ParseCardStatus(query.Status); ok {
		filter.Status = &status
	}
	if !caller.IsAdmin() {
		filter.OwnerID = &caller.UserID
	}

	cards, total, err := s.store.Cards().List(ctx, filter)
	if err != nil {
		return Page[CardResponse]{}, err
	}
	return newPage(cards, total, query.Pagination, func(c *models.Card) CardResponse {
		return *s.toResponse(c)
	}), nil
}

// GetCard возвращает карту владельцу или администратору
func (s *CardService) GetCard(ctx context.Context, caller Caller, id uuid.UUID) (*CardResponse, error) {
	card, err := s.store.Cards().FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "Card")
	}
	if err := s.guard.Authorize(caller, card); err != nil {
		return nil, err
	}
	return s.toResponse(card), nil
}

// UpdateStatus меняет статус карты (блокировка, активация, истечение)
func (s *CardService) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, rawStatus string) (*CardResponse, error) {
	status, ok := models.ParseCardStatus(rawStatus)
	if !ok {
		return nil, ErrInvalidStatus
	}

	var previous models.CardStatus
	err := s.store.WithinTransaction(ctx, func(tx database.Store) error {
		locked, err := tx.Cards().LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		card, ok := locked[id]
		if !ok {
			return notFound("Card")
		}
		if err := s.guard.Authorize(caller, card); err != nil {
			return err
		}
		previous = card.Status
		card.Status = status
		return tx.Cards().Save(ctx, card)
	})
	if err != nil {
		var svcErr *Error
		if !errors.As(err, &svcErr) {
			s.metrics.RecordCardOperation(statusOperation(status), err)
		}
		return nil, err
	}

	if previous != status {
		s.metrics.RecordCardOperation(statusOperation(status), nil)
	}
	utils.LogInfo("card %s status updated %s -> %s by user %d", id, previous, status, caller.UserID)
	return s.GetCard(ctx, caller, id)
}

func statusOperation(status models.CardStatus) string {
	switch status {
	case models.CardStatusBlocked:
		return utils.CardOpBlock
	case models.CardStatusExpired:
		return utils.CardOpExpire
	default:
		return utils.CardOpUnblock
	}
}

// DeleteCard удаляет карту. История переводов сохраняет ссылку на нее.
func (s *CardService) DeleteCard(ctx context.Context, caller Caller, id uuid.UUID) error {
	card, err := s.store.Cards().FindByID(ctx, id)
	if err != nil {
		return storeError(err, "Card")
	}
	if err := s.guard.Authorize(caller, card); err != nil {
		return err
	}
	if err := s.store.Cards().Delete(ctx, card); err != nil {
		s.metrics.RecordCardOperation(utils.CardOpDelete, err)
		return storeError(err, "Card")
	}

	s.metrics.RecordCardOperation(utils.CardOpDelete, nil)
	utils.LogInfo("card %s deleted by user %d", id, caller.UserID)
	return nil
}

func (s *CardService) toResponse(card *models.Card) *CardResponse {
	return &CardResponse{
		ID:             card.ID,
		MaskedNumber:   card.MaskedNumber,
		CardHolderName: card.CardHolderName,
		ExpiryDate:     card.ExpiryDate.Format(dateLayout),
		Status:         card.Status,
		Balance:        card.Balance,
		CreatedAt:      card.CreatedAt,
		UpdatedAt:      card.UpdatedAt,
		OwnerID:        card.OwnerID,
		OwnerName:      card.OwnerName(),
		Expired:        card.IsExpiredAt(s.now()),
	}
}
