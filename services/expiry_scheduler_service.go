package services

import (
	"context"
	"fmt"
	"time"

	"bankcards/database"
	"bankcards/utils"

	"github.com/robfig/cron/v3"
)

// ExpirySchedulerService периодически переводит просроченные карты в EXPIRED
type ExpirySchedulerService struct {
	store    database.Store
	notifier Notifier
	metrics  *utils.Metrics
	timeout  time.Duration
	cron     *cron.Cron
	now      func() time.Time
}

// NewExpirySchedulerService создает новый экземпляр ExpirySchedulerService
func NewExpirySchedulerService(store database.Store, notifier Notifier, metrics *utils.Metrics, timeout time.Duration) *ExpirySchedulerService {
	return &ExpirySchedulerService{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		timeout:  timeout,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		now:      time.Now,
	}
}

// Start запускает планировщик по расписанию spec (формат cron или @daily).
// Пустое расписание отключает планировщик.
func (s *ExpirySchedulerService) Start(spec string) error {
	if spec == "" {
		utils.LogInfo("card expiry scheduler disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", spec, err)
	}
	s.cron.Start()
	utils.LogInfo("card expiry scheduler started with schedule %s", spec)
	return nil
}

// Stop останавливает планировщик и ждет завершения текущего запуска
func (s *ExpirySchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ExpirySchedulerService) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.ExpireCards(ctx); err != nil {
		utils.LogError("Ошибка при обработке просроченных карт: %v", err)
	}
}

// ExpireCards помечает просроченные карты и уведомляет владельцев. Возвращает число карт.
func (s *ExpirySchedulerService) ExpireCards(ctx context.Context) (int, error) {
	start := time.Now()
	cards, err := s.store.Cards().ExpireOverdue(ctx, s.now())
	if err != nil {
		s.metrics.RecordCriticalError(err)
		return 0, err
	}

	for i := range cards {
		card := &cards[i]
		s.metrics.RecordCardOperation(utils.CardOpExpire, nil)
		if s.notifier == nil {
			continue
		}
		owner, err := s.store.Users().FindByID(ctx, card.OwnerID)
		if err != nil {
			utils.LogError("failed to load owner %d of expired card %s: %v", card.OwnerID, card.ID, err)
			continue
		}
		if err := s.notifier.SendCardExpiredNotification(owner.Email, card); err != nil {
			utils.LogError("failed to send expiry notification for card %s: %v", card.ID, err)
		}
	}

	utils.LogInfo("expired %d cards in %s", len(cards), time.Since(start))
	return len(cards), nil
}
