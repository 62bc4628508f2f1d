package services

import (
	"fmt"
	"time"

	"bankcards/config"
	"bankcards/models"

	"gopkg.in/gomail.v2"
)

// Notifier отправляет уведомления владельцам карт
type Notifier interface {
	SendTransferNotification(to string, transfer *models.Transfer, from, dest *models.Card) error
	SendCardExpiredNotification(to string, card *models.Card) error
}

// EmailService предоставляет методы для отправки email.
// Без SMTP_HOST письма не отправляются.
type EmailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	if cfg.SMTP.Host == "" {
		return &EmailService{}
	}
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	return &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
	}
}

// Enabled сообщает, настроен ли SMTP
func (s *EmailService) Enabled() bool {
	return s.dialer != nil
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	if !s.Enabled() || to == "" {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %w", err)
	}

	return nil
}

// SendTransferNotification отправляет уведомление о переводе
func (s *EmailService) SendTransferNotification(to string, transfer *models.Transfer, from, dest *models.Card) error {
	subject := "Уведомление о переводе"
	body := fmt.Sprintf(`
		<h2>Перевод между картами</h2>
		<p>Со счета: %s</p>
		<p>На счет: %s</p>
		<p>Сумма: %s</p>
		<p>Дата: %s</p>
	`, from.MaskedNumber, dest.MaskedNumber, transfer.Amount.StringFixed(2), transfer.TransferDate.Format("02.01.2006 15:04:05"))

	return s.SendEmail(to, subject, body)
}

// SendCardExpiredNotification сообщает об истечении срока действия карты
func (s *EmailService) SendCardExpiredNotification(to string, card *models.Card) error {
	subject := "Срок действия карты истек"
	body := fmt.Sprintf(`
		<h2>Срок действия карты истек</h2>
		<p>Карта: %s</p>
		<p>Действовала до: %s</p>
		<p>Дата: %s</p>
	`, card.MaskedNumber, card.ExpiryDate.Format("01/06"), time.Now().Format("02.01.2006 15:04:05"))

	return s.SendEmail(to, subject, body)
}
