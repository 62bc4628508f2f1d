package utils

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Операции с картами, которые учитываются в метриках
const (
	CardOpCreate  = "create"
	CardOpDelete  = "delete"
	CardOpBlock   = "block"
	CardOpUnblock = "unblock"
	CardOpExpire  = "expire"
)

// Metrics содержит метрики приложения
type Metrics struct {
	mu sync.RWMutex

	// Метрики запросов
	TotalRequests   int64
	FailedRequests  int64
	RequestLatency  time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
	windowStart     time.Time
	windowRequests  int64
	RequestsPerMin  float64

	// Метрики карт
	CardsCreated      int64
	CardsDeleted      int64
	CardsBlocked      int64
	CardsUnblocked    int64
	CardsExpired      int64
	LastCardOperation time.Time

	// Метрики переводов
	SuccessfulTransfers int64
	FailedTransfers     int64
	TransferredAmount   decimal.Decimal
	FailureReasons      map[string]int64

	// Метрики ошибок
	ErrorCount     int64
	LastErrorTime  time.Time
	ErrorTypes     map[string]int64
	CriticalErrors int64
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// NewMetrics создает пустой набор метрик
func NewMetrics() *Metrics {
	return &Metrics{
		ErrorTypes:     make(map[string]int64),
		FailureReasons: make(map[string]int64),
	}
}

// GetMetrics возвращает общий экземпляр метрик
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// RecordRequest записывает метрики запроса
func (m *Metrics) RecordRequest(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.TotalRequests++
	m.RequestLatency += duration
	m.AverageLatency = m.RequestLatency / time.Duration(m.TotalRequests)
	m.LastRequestTime = now

	if err != nil {
		m.FailedRequests++
		m.recordErrorLocked(err)
	}

	// Количество запросов в минуту считаем по последнему завершенному окну
	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.windowRequests++
	if elapsed := now.Sub(m.windowStart); elapsed >= time.Minute {
		m.RequestsPerMin = float64(m.windowRequests) / elapsed.Minutes()
		m.windowStart = now
		m.windowRequests = 0
	}
}

// RecordCardOperation записывает метрики операции с картой
func (m *Metrics) RecordCardOperation(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastCardOperation = time.Now()
	if err != nil {
		m.recordErrorLocked(err)
		return
	}

	switch operation {
	case CardOpCreate:
		m.CardsCreated++
	case CardOpDelete:
		m.CardsDeleted++
	case CardOpBlock:
		m.CardsBlocked++
	case CardOpUnblock:
		m.CardsUnblocked++
	case CardOpExpire:
		m.CardsExpired++
	}
}

// RecordTransfer записывает результат перевода. reason учитывается только для неуспешных.
func (m *Metrics) RecordTransfer(amount decimal.Decimal, successful bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if successful {
		m.SuccessfulTransfers++
		m.TransferredAmount = m.TransferredAmount.Add(amount)
		return
	}
	m.FailedTransfers++
	m.FailureReasons[reason]++
}

// RecordError записывает метрики ошибки
func (m *Metrics) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordErrorLocked(err)
}

// RecordCriticalError записывает метрики критической ошибки
func (m *Metrics) RecordCriticalError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CriticalErrors++
	m.recordErrorLocked(err)
}

func (m *Metrics) recordErrorLocked(err error) {
	m.ErrorCount++
	m.LastErrorTime = time.Now()

	errorType := "unknown"
	if err != nil {
		errorType = err.Error()
	}
	m.ErrorTypes[errorType]++
}

// GetMetricsSnapshot возвращает снимок текущих метрик
func (m *Metrics) GetMetricsSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_requests":       m.TotalRequests,
		"failed_requests":      m.FailedRequests,
		"average_latency":      m.AverageLatency.String(),
		"requests_per_minute":  m.RequestsPerMin,
		"cards_created":        m.CardsCreated,
		"cards_deleted":        m.CardsDeleted,
		"cards_blocked":        m.CardsBlocked,
		"cards_unblocked":      m.CardsUnblocked,
		"cards_expired":        m.CardsExpired,
		"successful_transfers": m.SuccessfulTransfers,
		"failed_transfers":     m.FailedTransfers,
		"transferred_amount":   m.TransferredAmount.StringFixed(2),
		"failure_reasons":      copyCounters(m.FailureReasons),
		"error_count":          m.ErrorCount,
		"critical_errors":      m.CriticalErrors,
		"last_error_time":      m.LastErrorTime,
		"error_types":          copyCounters(m.ErrorTypes),
	}
}

// ResetMetrics сбрасывает все метрики
func (m *Metrics) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests = 0
	m.FailedRequests = 0
	m.RequestLatency = 0
	m.AverageLatency = 0
	m.windowStart = time.Time{}
	m.windowRequests = 0
	m.RequestsPerMin = 0
	m.CardsCreated = 0
	m.CardsDeleted = 0
	m.CardsBlocked = 0
	m.CardsUnblocked = 0
	m.CardsExpired = 0
	m.SuccessfulTransfers = 0
	m.FailedTransfers = 0
	m.TransferredAmount = decimal.Zero
	m.FailureReasons = make(map[string]int64)
	m.ErrorCount = 0
	m.CriticalErrors = 0
	m.ErrorTypes = make(map[string]int64)
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
