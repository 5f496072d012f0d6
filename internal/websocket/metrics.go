package websocket

import (
	"sync"
	"time"
)

// HubMetrics представляет агрегированные метрики WebSocket-сервера
type HubMetrics struct {
	totalConnections       int64     // Общее количество подключений за все время
	activeConnections      int64     // Текущее количество активных подключений
	messagesSent           int64     // Общее количество отправленных сообщений
	messagesReceived       int64     // Общее количество полученных сообщений
	inactiveClientsRemoved int64     // Общее количество удаленных неактивных клиентов
	startTime              time.Time // Время запуска сервера
	lastCleanupTime        time.Time // Время последней очистки

	mu sync.RWMutex
}

// NewHubMetrics создает новый экземпляр метрик хаба
func NewHubMetrics() *HubMetrics {
	return &HubMetrics{
		startTime:       time.Now(),
		lastCleanupTime: time.Now(),
	}
}

// IncrementTotalConnections увеличивает счетчик общего количества подключений
func (m *HubMetrics) IncrementTotalConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalConnections++
	m.activeConnections++
}

// DecrementActiveConnections уменьшает счетчик активных подключений
func (m *HubMetrics) DecrementActiveConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeConnections > 0 {
		m.activeConnections--
	}
}

// AddMessageSent увеличивает счетчик отправленных сообщений
func (m *HubMetrics) AddMessageSent(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent += count
}

// AddMessageReceived увеличивает счетчик полученных сообщений
func (m *HubMetrics) AddMessageReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
}

// AddInactiveClientsRemoved увеличивает счетчик удаленных неактивных клиентов
func (m *HubMetrics) AddInactiveClientsRemoved(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactiveClientsRemoved += count
}

// UpdateLastCleanupTime обновляет время последней очистки
func (m *HubMetrics) UpdateLastCleanupTime() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCleanupTime = time.Now()
}

// GetAllMetrics возвращает все метрики в формате карты для JSON-ответа
func (m *HubMetrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_connections":        m.totalConnections,
		"active_connections":       m.activeConnections,
		"messages_sent":            m.messagesSent,
		"messages_received":        m.messagesReceived,
		"inactive_clients_removed": m.inactiveClientsRemoved,
		"uptime_seconds":           time.Since(m.startTime).Seconds(),
		"start_time":               m.startTime.Format(time.RFC3339),
		"last_cleanup":             m.lastCleanupTime.Format(time.RFC3339),
	}
}
