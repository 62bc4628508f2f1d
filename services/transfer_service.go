package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"bankcards/database"
	"bankcards/models"
	"bankcards/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxFailureReasonLength = 255

// maxAmount - наибольшее значение, которое помещается в NUMERIC(15,2)
var maxAmount = decimal.RequireFromString("9999999999999.99")

// TransferRequest - запрос на перевод между своими картами
type TransferRequest struct {
	FromCardID  uuid.UUID       `json:"fromCardId" validate:"required"`
	ToCardID    uuid.UUID       `json:"toCardId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

// TransferResponse - результат перевода
type TransferResponse struct {
	ID             uuid.UUID       `json:"id"`
	FromCardID     uuid.UUID       `json:"fromCardId"`
	FromCardNumber string          `json:"fromCardNumber"`
	ToCardID       uuid.UUID       `json:"toCardId"`
	ToCardNumber   string          `json:"toCardNumber"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	TransferDate   time.Time       `json:"transferDate"`
	Successful     bool            `json:"successful"`
	FailureReason  string          `json:"failureReason,omitempty"`
}

// TransferQuery - фильтр истории переводов
type TransferQuery struct {
	CardID *uuid.UUID
	database.Pagination
}

// TransferService выполняет переводы и отдает их историю
type TransferService struct {
	store    database.Store
	guard    *Guard
	notifier Notifier
	metrics  *utils.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// NewTransferService создает новый экземпляр TransferService.
// timeout ограничивает весь перевод вместе с записью в журнал.
func NewTransferService(store database.Store, guard *Guard, notifier Notifier, metrics *utils.Metrics, timeout time.Duration) *TransferService {
	return &TransferService{
		store:    store,
		guard:    guard,
		notifier: notifier,
		metrics:  metrics,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Transfer переводит деньги между двумя картами вызывающего.
// Блокировки карт, проверки, списание, зачисление и запись журнала
// выполняются в одной транзакции.
func (s *TransferService) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*TransferResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		transfer *models.Transfer
		from, to *models.Card
		// пара карт существует и принадлежит вызывающему, неудачу пишем в журнал
		auditable bool
	)

	err := s.store.WithinTransaction(ctx, func(tx database.Store) error {
		cards, err := tx.Cards().LockForUpdate(ctx, req.FromCardID, req.ToCardID)
		if err != nil {
			return err
		}

		var ok bool
		if from, ok = cards[req.FromCardID]; !ok {
			return notFound("Source card")
		}
		if to, ok = cards[req.ToCardID]; !ok {
			return notFound("Destination card")
		}
		if err := s.guard.RequireOwner(caller, from, to); err != nil {
			return err
		}
		auditable = true

		if err := s.check(from, to, req.Amount); err != nil {
			return err
		}

		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)
		if err := tx.Cards().Save(ctx, from); err != nil {
			return fmt.Errorf("failed to save source card: %w", err)
		}
		if err := tx.Cards().Save(ctx, to); err != nil {
			return fmt.Errorf("failed to save destination card: %w", err)
		}

		transfer = &models.Transfer{
			FromCardID:   from.ID,
			ToCardID:     to.ID,
			Amount:       req.Amount,
			Description:  req.Description,
			TransferDate: s.now(),
			Successful:   true,
		}
		if err := tx.Transfers().Create(ctx, transfer); err != nil {
			return fmt.Errorf("failed to save transfer: %w", err)
		}
		return nil
	})

	fields := logrus.Fields{
		"user_id":      caller.UserID,
		"from_card_id": req.FromCardID,
		"to_card_id":   req.ToCardID,
		"amount":       req.Amount.String(),
	}

	if err != nil {
		var svcErr *Error
		if !errors.As(err, &svcErr) {
			svcErr = transferFailed(err)
		}
		s.metrics.RecordTransfer(req.Amount, false, string(svcErr.Kind))
		utils.LogOperation("transfer", start, svcErr, fields)

		if !auditable {
			return nil, svcErr
		}
		if auditErr := s.recordFailure(ctx, req, svcErr); auditErr != nil {
			utils.LogError("failed to record failed transfer %s -> %s: %v", req.FromCardID, req.ToCardID, auditErr)
			return nil, errors.Join(svcErr, fmt.Errorf("failed to record failed transfer: %w", auditErr))
		}
		return nil, svcErr
	}

	s.metrics.RecordTransfer(req.Amount, true, "")
	fields["transfer_id"] = transfer.ID
	utils.LogOperation("transfer", start, nil, fields)

	transfer.FromCard = from
	transfer.ToCard = to
	s.notify(ctx, caller, transfer)

	return toTransferResponse(transfer), nil
}

// check выполняет бизнес-проверки по порядку, первая неудача определяет ошибку
func (s *TransferService) check(from, to *models.Card, amount decimal.Decimal) error {
	now := s.now()
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return newError(KindInvalidAmount, "Transfer amount must have at most 2 decimal places")
	}
	if amount.GreaterThan(maxAmount) {
		return newError(KindInvalidAmount, "Transfer amount must not exceed "+maxAmount.StringFixed(2))
	}
	if from.ID == to.ID {
		return ErrSameCard
	}
	if !from.CanTransferAt(now) {
		return cardNotAvailable(SideSource)
	}
	if !to.IsActiveAt(now) {
		return cardNotAvailable(SideDestination)
	}
	if from.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

// recordFailure пишет неуспешную попытку отдельной записью после отката.
// Контекст запроса может быть уже отменен, поэтому берем новый таймаут.
func (s *TransferService) recordFailure(ctx context.Context, req TransferRequest, cause *Error) error {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	return s.store.Transfers().Create(auditCtx, &models.Transfer{
		FromCardID:    req.FromCardID,
		ToCardID:      req.ToCardID,
		Amount:        req.Amount,
		Description:   req.Description,
		FailureReason: truncateRunes(cause.Error(), maxFailureReasonLength),
		TransferDate:  s.now(),
		Successful:    false,
	})
}

// truncateRunes обрезает строку до n символов, VARCHAR считает символы, а не байты
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// notify отправляет письмо владельцу, ошибки только логируются
func (s *TransferService) notify(ctx context.Context, caller Caller, transfer *models.Transfer) {
	if s.notifier == nil {
		return
	}
	owner, err := s.store.Users().FindByID(context.WithoutCancel(ctx), caller.UserID)
	if err != nil {
		utils.LogError("failed to load owner %d for transfer notification: %v", caller.UserID, err)
		return
	}
	if err := s.notifier.SendTransferNotification(owner.Email, transfer, transfer.FromCard, transfer.ToCard); err != nil {
		utils.LogError("failed to send transfer notification: %v", err)
	}
}

// ListTransfers возвращает историю переводов. Пользователь видит только переводы своих карт.
func (s *TransferService) ListTransfers(ctx context.Context, caller Caller, query TransferQuery) (Page[TransferResponse], error) {
	filter := database.TransferFilter{Pagination: query.Pagination}

	if query.CardID != nil {
		card, err := s.store.Cards().FindByID(ctx, *query.CardID)
		if err != nil {
			return Page[TransferResponse]{}, storeError(err, "Card")
		}
		if err := s.guard.Authorize(caller, card); err != nil {
			return Page[TransferResponse]{}, err
		}
		filter.CardID = query.CardID
	}
	if !caller.IsAdmin() {
		filter.OwnerID = &caller.UserID
	}

	transfers, total, err := s.store.Transfers().List(ctx, filter)
	if err != nil {
		return Page[TransferResponse]{}, err
	}
	return newPage(transfers, total, query.Pagination, func(t *models.Transfer) TransferResponse {
		return *toTransferResponse(t)
	}), nil
}

// GetTransfer возвращает перевод, если вызывающий владеет одной из карт или является администратором
func (s *TransferService) GetTransfer(ctx context.Context, caller Caller, id uuid.UUID) (*TransferResponse, error) {
	transfer, err := s.store.Transfers().FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "Transfer")
	}
	if err := s.guard.Authorize(caller, transfer); err != nil {
		return nil, err
	}
	return toTransferResponse(transfer), nil
}

func toTransferResponse(t *models.Transfer) *TransferResponse {
	resp := &TransferResponse{
		ID:            t.ID,
		FromCardID:    t.FromCardID,
		ToCardID:      t.ToCardID,
		Amount:        t.Amount,
		Description:   t.Description,
		TransferDate:  t.TransferDate,
		Successful:    t.Successful,
		FailureReason: t.FailureReason,
	}
	if t.FromCard != nil {
		resp.FromCardNumber = t.FromCard.MaskedNumber
	}
	if t.ToCard != nil {
		resp.ToCardNumber = t.ToCard.MaskedNumber
	}
	return resp
}

// storeError превращает ErrRecordNotFound в NotFound, остальное отдает как есть
func storeError(err error, what string) error {
	if errors.Is(err, database.ErrRecordNotFound) {
		return notFound(what)
	}
	return err
}
