package websocket

import (
	"encoding/json"
	"fmt"
	"log"
)

// Event представляет структуру WebSocket-сообщения
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Manager обрабатывает WebSocket сообщения
type Manager struct {
	hub            HubInterface
	messageHandler map[string]func(data json.RawMessage, client *Client) error
}

// NewManager создает новый менеджер WebSocket
func NewManager(hub HubInterface) *Manager {
	return &Manager{
		hub:            hub,
		messageHandler: make(map[string]func(data json.RawMessage, client *Client) error),
	}
}

// RegisterHandler регистрирует обработчик для определенного типа сообщений
func (m *Manager) RegisterHandler(eventType string, handler func(data json.RawMessage, client *Client) error) {
	m.messageHandler[eventType] = handler
	log.Printf("[WebSocketManager] Зарегистрирован обработчик для сообщений типа: %s", eventType)
}

// HandleMessage обрабатывает входящее сообщение от клиента.
// Возвращает error, если обработка не удалась и соединение нужно закрыть.
func (m *Manager) HandleMessage(message []byte, client *Client) error {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("Failed to unmarshal message from %s: %v, Message: %s", client.UserID, err, string(message))
		m.SendErrorToClient(client, "invalid_message_format", "Invalid JSON format")
		return err // Ошибка парсинга - закрываем соединение
	}

	handler, ok := m.messageHandler[event.Type]
	if !ok {
		log.Printf("No handler registered for message type '%s' from client %s", event.Type, client.UserID)
		m.SendErrorToClient(client, "unknown_message_type", fmt.Sprintf("Unknown message type: %s", event.Type))
		return nil // Неизвестный тип - не закрываем соединение
	}

	rawMessage, _ := json.Marshal(event.Data)
	if err := handler(rawMessage, client); err != nil {
		log.Printf("Handler for type '%s' returned error for client %s: %v", event.Type, client.UserID, err)
		return err
	}

	return nil
}

// SendErrorToClient отправляет стандартизированное сообщение об ошибке клиенту.
// Этот метод НЕ закрывает соединение.
func (m *Manager) SendErrorToClient(client *Client, code string, message string) {
	errorEvent := Event{
		Type: "server:error",
		Data: map[string]string{
			"code":    code,
			"message": message,
		},
	}
	if err := m.hub.SendJSONToUser(client.UserID, errorEvent); err != nil {
		log.Printf("ERROR sending error to client %s: %v", client.UserID, err)
	}
}

// BroadcastEvent отправляет событие всем клиентам
func (m *Manager) BroadcastEvent(eventType string, data interface{}) error {
	return m.hub.BroadcastJSON(Event{Type: eventType, Data: data})
}

// SendEventToUser отправляет событие конкретному пользователю
func (m *Manager) SendEventToUser(userID string, eventType string, data interface{}) error {
	return m.hub.SendJSONToUser(userID, Event{Type: eventType, Data: data})
}

// BroadcastToSession отправляет событие всем подписчикам сессии
func (m *Manager) BroadcastToSession(sessionID uint, eventType string, data interface{}) error {
	jsonBytes, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s for session %d: %w", eventType, sessionID, err)
	}

	m.hub.BroadcastToSession(sessionID, jsonBytes)
	return nil
}

// SubscribeClientToSession подписывает клиента на события сессии
func (m *Manager) SubscribeClientToSession(client *Client, sessionID uint) error {
	hub, ok := m.hub.(*SessionHub)
	if !ok {
		return fmt.Errorf("hub type %T does not support session subscriptions", m.hub)
	}

	hub.SubscribeToSession(client, sessionID)
	log.Printf("[WebSocketManager] Клиент %s подписан на сессию #%d", client.UserID, sessionID)
	return nil
}

// UnsubscribeClientFromSession отписывает клиента от его текущей сессии
func (m *Manager) UnsubscribeClientFromSession(client *Client) error {
	hub, ok := m.hub.(*SessionHub)
	if !ok {
		return fmt.Errorf("hub type %T does not support session subscriptions", m.hub)
	}

	hub.UnsubscribeFromSession(client)
	return nil
}

// GetSessionSubscribers возвращает список ID пользователей, подписанных на сессию.
// Делегирует вызов нижележащему хабу.
func (m *Manager) GetSessionSubscribers(sessionID uint) ([]uint, error) {
	if m.hub == nil {
		return nil, fmt.Errorf("websocket manager has no underlying hub")
	}
	return m.hub.GetSessionSubscribers(sessionID)
}

// SendTokenExpirationWarning отправляет пользователю предупреждение
// о скором истечении срока действия токена
func (m *Manager) SendTokenExpirationWarning(userID string, expiresIn int) {
	err := m.SendEventToUser(userID, TOKEN_EXPIRE_SOON, map[string]interface{}{
		"expires_in": expiresIn,
		"unit":       "seconds",
	})
	if err != nil {
		log.Printf("[WebSocketManager] Не удалось отправить предупреждение о истечении токена пользователю ID=%s: %v", userID, err)
	}
}

// SendTokenExpiredNotification отправляет пользователю уведомление
// об истечении срока действия токена
func (m *Manager) SendTokenExpiredNotification(userID string) {
	err := m.SendEventToUser(userID, TOKEN_EXPIRED, map[string]interface{}{
		"message": "Срок действия токена истек. Необходимо выполнить повторный вход.",
	})
	if err != nil {
		log.Printf("[WebSocketManager] Не удалось отправить уведомление о истечении токена пользователю ID=%s: %v", userID, err)
	}
}

// GetMetrics возвращает текущие метрики WebSocket-системы
func (m *Manager) GetMetrics() map[string]interface{} {
	return m.hub.GetMetrics()
}
