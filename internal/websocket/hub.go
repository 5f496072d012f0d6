package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/quizlive-api/internal/config"
)

// SessionHub хранит подключенных клиентов и их подписки на сессии.
// Рассылка по сессии доставляется только подписанным клиентам; при включенном
// кластере сообщения дополнительно публикуются через Pub/Sub для других
// экземпляров.
type SessionHub struct {
	// Все подключенные клиенты
	clients sync.Map // *Client -> struct{}

	// Индекс клиентов по UserID (последнее соединение пользователя выигрывает)
	userClients sync.Map // string -> *Client

	// Подписки клиентов на сессии
	sessions   map[uint]map[*Client]struct{}
	sessionsMu sync.RWMutex

	// Каналы регистрации и рассылки, обрабатываются в Run
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// Менеджер метрик
	metrics *HubMetrics

	// Компонент для межсерверного взаимодействия
	cluster *ClusterHub

	// Канал для завершения работы фоновых горутин
	done chan struct{}

	closeOnce sync.Once

	cleanupInterval   time.Duration
	inactivityTimeout time.Duration
}

// Проверка компилятором, что SessionHub реализует интерфейс HubInterface
var _ HubInterface = (*SessionHub)(nil)

// Проверка компилятором, что SessionHub реализует интерфейс ClusterAwareHub
var _ ClusterAwareHub = (*SessionHub)(nil)

// NewSessionHub создает новый хаб с указанной конфигурацией и Pub/Sub провайдером
func NewSessionHub(wsConfig config.WebSocketConfig, provider PubSubProvider) *SessionHub {
	cleanupInterval := time.Duration(wsConfig.Limits.CleanupInterval) * time.Second
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
		log.Printf("[SessionHub] Используется интервал очистки по умолчанию: %v", cleanupInterval)
	}
	inactivityTimeout := time.Duration(wsConfig.Limits.PongWait) * time.Second
	if inactivityTimeout <= 0 {
		inactivityTimeout = 60 * time.Second
		log.Printf("[SessionHub] Используется таймаут неактивности по умолчанию: %v", inactivityTimeout)
	}

	hub := &SessionHub{
		sessions:          make(map[uint]map[*Client]struct{}),
		register:          make(chan *Client, 64),
		unregister:        make(chan *Client, 64),
		broadcast:         make(chan []byte, 256),
		metrics:           NewHubMetrics(),
		done:              make(chan struct{}),
		cleanupInterval:   cleanupInterval,
		inactivityTimeout: inactivityTimeout,
	}

	hub.cluster = NewClusterHub(hub, wsConfig.Cluster, provider)

	log.Println("[SessionHub] Хаб создан")
	return hub
}

// Run обрабатывает регистрацию клиентов и широковещательную рассылку.
// Запускается в отдельной горутине и работает до вызова Close.
func (h *SessionHub) Run() {
	log.Println("[SessionHub] Запуск цикла обработки")

	if err := h.cluster.Start(); err != nil {
		log.Printf("[SessionHub] Ошибка запуска кластерного компонента: %v", err)
	}

	cleanupTicker := time.NewTicker(h.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.BroadcastBytesLocal(message)
		case <-cleanupTicker.C:
			h.cleanupInactiveClients()
		case <-h.done:
			log.Println("[SessionHub] Цикл обработки остановлен")
			return
		}
	}
}

func (h *SessionHub) registerClient(client *Client) {
	// Прежнее соединение того же пользователя вытесняется
	if prev, ok := h.userClients.Load(client.UserID); ok {
		prevClient := prev.(*Client)
		if prevClient != client {
			log.Printf("[SessionHub] Пользователь %s переподключился, закрываем старое соединение %s",
				client.UserID, prevClient.ConnectionID)
			h.removeClient(prevClient)
		}
	}

	h.clients.Store(client, struct{}{})
	h.userClients.Store(client.UserID, client)
	h.metrics.IncrementTotalConnections()

	// Сообщаем клиенту о завершении регистрации
	if client.registrationComplete != nil {
		select {
		case client.registrationComplete <- struct{}{}:
		default:
		}
	}

	log.Printf("[SessionHub] Клиент %s (Conn: %s) зарегистрирован, всего клиентов: %d",
		client.UserID, client.ConnectionID, h.ClientCount())
}

func (h *SessionHub) removeClient(client *Client) {
	if _, loaded := h.clients.LoadAndDelete(client); !loaded {
		return
	}

	// Удаляем индекс по UserID, только если там именно это соединение
	if cur, ok := h.userClients.Load(client.UserID); ok && cur.(*Client) == client {
		h.userClients.Delete(client.UserID)
	}

	h.detachFromSession(client)
	client.CloseSend()
	h.metrics.DecrementActiveConnections()

	log.Printf("[SessionHub] Клиент %s (Conn: %s) удален", client.UserID, client.ConnectionID)
}

// RegisterClient регистрирует клиента в хабе
func (h *SessionHub) RegisterClient(client *Client) {
	h.register <- client
}

// RegisterSync регистрирует клиента и сигнализирует о завершении через done
func (h *SessionHub) RegisterSync(client *Client, done chan struct{}) {
	client.registrationComplete = done
	h.register <- client
}

// UnregisterClient отменяет регистрацию клиента
func (h *SessionHub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SubscribeToSession подписывает клиента на события сессии.
// Предыдущая подписка клиента снимается.
func (h *SessionHub) SubscribeToSession(client *Client, sessionID uint) {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()

	h.dropSubscription(client)

	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[sessionID] = set
	}
	set[client] = struct{}{}
	client.SetSessionID(sessionID)
}

// UnsubscribeFromSession снимает подписку клиента на сессию
func (h *SessionHub) UnsubscribeFromSession(client *Client) {
	h.detachFromSession(client)
	client.ClearSessionID()
}

func (h *SessionHub) detachFromSession(client *Client) {
	h.sessionsMu.Lock()
	defer h.sessionsMu.Unlock()
	h.dropSubscription(client)
}

// dropSubscription удаляет клиента из его текущей сессии.
// Вызывающий держит sessionsMu.
func (h *SessionHub) dropSubscription(client *Client) {
	sessionID := client.GetSessionID()
	if sessionID == 0 {
		return
	}
	if set, ok := h.sessions[sessionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// sendToClient кладет сообщение в буфер клиента.
// При систематическом переполнении буфера клиент отключается.
func (h *SessionHub) sendToClient(client *Client, message []byte) bool {
	if client.IsSendClosed() {
		return false
	}

	select {
	case client.send <- message:
		h.metrics.AddMessageSent(1)
		return true
	default:
		warnings := client.incrementBufferWarningCount()
		log.Printf("[SessionHub] Буфер клиента %s (Conn: %s) переполнен, предупреждение %d/%d, тип: %s",
			client.UserID, client.ConnectionID, warnings, maxBufferWarnings, messageTypeFromBytes(message))
		if warnings >= maxBufferWarnings {
			log.Printf("[SessionHub] Клиент %s отключен: буфер не освобождается", client.UserID)
			h.UnregisterClient(client)
		}
		return false
	}
}

// Broadcast отправляет сообщение всем клиентам
func (h *SessionHub) Broadcast(message []byte) {
	h.BroadcastBytes(message)
}

// BroadcastBytes отправляет байтовое сообщение всем клиентам.
// При включенном кластере сообщение также публикуется через Pub/Sub.
func (h *SessionHub) BroadcastBytes(message []byte) {
	h.BroadcastBytesLocal(message)
	if h.cluster != nil {
		if err := h.cluster.BroadcastToCluster(message); err != nil {
			log.Printf("[SessionHub] Ошибка отправки broadcast сообщения в кластер: %v", err)
		}
	}
}

// BroadcastBytesLocal отправляет байтовое сообщение только локальным клиентам
func (h *SessionHub) BroadcastBytesLocal(message []byte) {
	h.clients.Range(func(key, _ interface{}) bool {
		h.sendToClient(key.(*Client), message)
		return true
	})
}

// BroadcastJSON сериализует объект в JSON и отправляет его всем клиентам
func (h *SessionHub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastBytes(data)
	return nil
}

// BroadcastToSession отправляет сообщение всем клиентам указанной сессии.
// При включенном кластере сообщение также доставляется клиентам других экземпляров.
func (h *SessionHub) BroadcastToSession(sessionID uint, message []byte) {
	h.BroadcastToSessionLocal(sessionID, message)
	if h.cluster != nil {
		if err := h.cluster.BroadcastToSessionInCluster(sessionID, message); err != nil {
			log.Printf("[SessionHub] Ошибка кластерной рассылки в сессию #%d: %v", sessionID, err)
		}
	}
}

// BroadcastToSessionLocal отправляет сообщение локальным подписчикам сессии
func (h *SessionHub) BroadcastToSessionLocal(sessionID uint, message []byte) {
	h.sessionsMu.RLock()
	set, ok := h.sessions[sessionID]
	if !ok || len(set) == 0 {
		h.sessionsMu.RUnlock()
		return
	}
	subscribers := make([]*Client, 0, len(set))
	for client := range set {
		subscribers = append(subscribers, client)
	}
	h.sessionsMu.RUnlock()

	delivered := 0
	for _, client := range subscribers {
		if h.sendToClient(client, message) {
			delivered++
		}
	}
	log.Printf("[SessionHub] Сообщение доставлено %d/%d подписчикам сессии #%d",
		delivered, len(subscribers), sessionID)
}

// SendToUser отправляет сообщение конкретному пользователю.
// Если пользователь не подключен локально, пробуем доставить через кластер.
func (h *SessionHub) SendToUser(userID string, message []byte) bool {
	if v, ok := h.userClients.Load(userID); ok {
		return h.sendToClient(v.(*Client), message)
	}

	if h.cluster != nil {
		go func() {
			if err := h.cluster.SendToUserInCluster(userID, message); err != nil {
				log.Printf("[SessionHub] Ошибка отправки сообщения пользователю %s через кластер: %v", userID, err)
			}
		}()
	}
	return false
}

// SendJSONToUser отправляет JSON структуру конкретному пользователю
func (h *SessionHub) SendJSONToUser(userID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !h.SendToUser(userID, data) {
		return fmt.Errorf("user %s is not connected", userID)
	}
	return nil
}

// GetSessionSubscribers возвращает UserID локальных подписчиков сессии
func (h *SessionHub) GetSessionSubscribers(sessionID uint) ([]uint, error) {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()

	set, ok := h.sessions[sessionID]
	if !ok {
		return []uint{}, nil
	}

	subscribers := make([]uint, 0, len(set))
	for client := range set {
		if id := client.GetUserIDUint(); id != 0 {
			subscribers = append(subscribers, id)
		}
	}
	return subscribers, nil
}

// ClientCount возвращает количество подключенных клиентов
func (h *SessionHub) ClientCount() int {
	count := 0
	h.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// GetMetrics возвращает метрики хаба
func (h *SessionHub) GetMetrics() map[string]interface{} {
	metrics := h.metrics.GetAllMetrics()

	h.sessionsMu.RLock()
	sessionCounts := make(map[uint]int, len(h.sessions))
	for sessionID, set := range h.sessions {
		sessionCounts[sessionID] = len(set)
	}
	h.sessionsMu.RUnlock()

	metrics["active_sessions"] = len(sessionCounts)
	metrics["session_subscribers"] = sessionCounts
	metrics["client_count"] = h.ClientCount()
	return metrics
}

// GetInstanceID возвращает уникальный ID этого экземпляра хаба
func (h *SessionHub) GetInstanceID() string {
	if h.cluster != nil && h.cluster.config.Enabled {
		return h.cluster.config.InstanceID
	}
	return "standalone_instance"
}

// cleanupInactiveClients отключает клиентов, не подававших признаков жизни
func (h *SessionHub) cleanupInactiveClients() {
	cutoff := time.Now().Add(-h.inactivityTimeout)
	var removed int64

	h.clients.Range(func(key, _ interface{}) bool {
		client := key.(*Client)
		if client.LastActivity().Before(cutoff) {
			log.Printf("[SessionHub] Клиент %s (Conn: %s) неактивен с %v, отключаем",
				client.UserID, client.ConnectionID, client.LastActivity())
			h.removeClient(client)
			removed++
		}
		return true
	})

	if removed > 0 {
		h.metrics.AddInactiveClientsRemoved(removed)
	}
	h.metrics.UpdateLastCleanupTime()
}

// Close останавливает хаб и закрывает все соединения
func (h *SessionHub) Close() {
	h.closeOnce.Do(func() {
		log.Println("[SessionHub] Остановка хаба")

		if h.cluster != nil {
			h.cluster.Stop()
		}

		h.clients.Range(func(key, _ interface{}) bool {
			h.removeClient(key.(*Client))
			return true
		})

		close(h.done)
		log.Println("[SessionHub] Хаб остановлен")
	})
}
