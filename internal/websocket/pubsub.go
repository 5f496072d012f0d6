package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/yourusername/quizlive-api/internal/config"
)

// ClusterAwareHub определяет интерфейс хаба, который может работать в кластере
type ClusterAwareHub interface {
	// BroadcastBytesLocal отправляет байтовое сообщение только локальным клиентам.
	// Используется для предотвращения циклов при получении сообщения из кластера.
	BroadcastBytesLocal(message []byte)

	// BroadcastToSessionLocal отправляет сообщение локальным подписчикам сессии
	BroadcastToSessionLocal(sessionID uint, message []byte)

	// SendToUser отправляет байтовое сообщение конкретному локальному пользователю
	SendToUser(userID string, message []byte) bool

	// GetInstanceID возвращает уникальный ID этого экземпляра хаба
	GetInstanceID() string
}

// PubSubProvider определяет интерфейс для провайдеров публикации/подписки
type PubSubProvider interface {
	// Publish публикует сообщение в указанный канал
	Publish(channel string, message []byte) error

	// Subscribe подписывается на указанный канал и возвращает канал для сообщений
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close закрывает все соединения и освобождает ресурсы
	Close() error
}

// ClusterMessage представляет сообщение, передаваемое между экземплярами хаба
type ClusterMessage struct {
	// MessageType определяет тип сообщения кластера:
	// broadcast - сообщение для всех клиентов,
	// session - сообщение для подписчиков конкретной сессии,
	// direct - сообщение для конкретного пользователя
	MessageType string `json:"type"`

	// SessionID содержит ID сессии для session-сообщений
	SessionID uint `json:"session_id,omitempty"`

	// RecipientID содержит ID получателя для direct-сообщений
	RecipientID string `json:"recipient_id,omitempty"`

	// InstanceID содержит ID отправителя для избежания дублирования
	InstanceID string `json:"instance_id"`

	// Payload содержит данные сообщения
	Payload json.RawMessage `json:"payload"`

	// Timestamp содержит время создания сообщения
	Timestamp time.Time `json:"timestamp"`
}

// NoOpPubSub реализует PubSubProvider для одиночного режима работы.
// Используется, когда горизонтальное масштабирование отключено.
type NoOpPubSub struct{}

// Publish реализует метод PubSubProvider.Publish для NoOpPubSub
func (p *NoOpPubSub) Publish(channel string, message []byte) error {
	return nil
}

// Subscribe реализует метод PubSubProvider.Subscribe для NoOpPubSub
func (p *NoOpPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(msgCh)
	}()
	return msgCh, nil
}

// Close реализует метод PubSubProvider.Close для NoOpPubSub
func (p *NoOpPubSub) Close() error {
	return nil
}

// ClusterHub управляет взаимодействием экземпляра хаба с кластером через Pub/Sub
type ClusterHub struct {
	config   config.ClusterConfig
	parent   ClusterAwareHub
	Provider PubSubProvider
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewClusterHub создает новый экземпляр ClusterHub
func NewClusterHub(parent ClusterAwareHub, cfg config.ClusterConfig, provider PubSubProvider) *ClusterHub {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.InstanceID == "" {
		cfg.InstanceID = "instance_" + uuid.New().String()
		log.Printf("ClusterHub: Instance ID не задан, сгенерирован: %s", cfg.InstanceID)
	}

	if provider == nil {
		log.Println("ClusterHub: Провайдер Pub/Sub не предоставлен, используется NoOpPubSub")
		provider = &NoOpPubSub{}
	}

	return &ClusterHub{
		config:   cfg,
		parent:   parent,
		Provider: provider,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает обработку сообщений кластера
func (ch *ClusterHub) Start() error {
	if !ch.config.Enabled {
		log.Println("ClusterHub: кластерный режим отключен, работаем в автономном режиме")
		return nil
	}

	log.Printf("ClusterHub: запуск кластерного режима, ID экземпляра: %s", ch.config.InstanceID)

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.handleBroadcastMessages()
	}()

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.handleDirectMessages()
	}()

	return nil
}

// Stop останавливает обработку сообщений кластера
func (ch *ClusterHub) Stop() {
	if !ch.config.Enabled {
		return
	}

	log.Println("ClusterHub: остановка кластерного режима")
	ch.cancel()
	ch.wg.Wait()
}

func (ch *ClusterHub) publish(channel string, msg ClusterMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ch.Provider.Publish(channel, data)
}

// BroadcastToCluster отправляет широковещательное сообщение всем экземплярам хаба
func (ch *ClusterHub) BroadcastToCluster(payload []byte) error {
	if !ch.config.Enabled {
		return nil
	}

	return ch.publish(ch.config.BroadcastChannel, ClusterMessage{
		MessageType: "broadcast",
		InstanceID:  ch.config.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// BroadcastToSessionInCluster отправляет сообщение подписчикам сессии
// на других экземплярах хаба
func (ch *ClusterHub) BroadcastToSessionInCluster(sessionID uint, payload []byte) error {
	if !ch.config.Enabled {
		return nil
	}

	return ch.publish(ch.config.BroadcastChannel, ClusterMessage{
		MessageType: "session",
		SessionID:   sessionID,
		InstanceID:  ch.config.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// SendToUserInCluster отправляет сообщение конкретному пользователю через кластер
func (ch *ClusterHub) SendToUserInCluster(userID string, payload []byte) error {
	if !ch.config.Enabled {
		return nil
	}

	return ch.publish(ch.config.DirectChannel, ClusterMessage{
		MessageType: "direct",
		RecipientID: userID,
		InstanceID:  ch.config.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	})
}

// handleBroadcastMessages обрабатывает входящие широковещательные
// и сессионные сообщения кластера
func (ch *ClusterHub) handleBroadcastMessages() {
	broadcastCh, err := ch.Provider.Subscribe(ch.ctx, ch.config.BroadcastChannel)
	if err != nil {
		log.Printf("ClusterHub: ошибка подписки на канал %s: %v", ch.config.BroadcastChannel, err)
		return
	}

	log.Printf("ClusterHub: начата обработка широковещательных сообщений")

	for {
		select {
		case <-ch.ctx.Done():
			return
		case data, ok := <-broadcastCh:
			if !ok {
				log.Println("ClusterHub: канал широковещательных сообщений закрыт")
				return
			}

			var msg ClusterMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("ClusterHub: ошибка десериализации широковещательного сообщения: %v, Сообщение: %s", err, string(data))
				continue
			}

			// Пропускаем сообщения от самого себя: локальная доставка
			// уже выполнена при публикации
			if msg.InstanceID == ch.parent.GetInstanceID() {
				continue
			}

			switch msg.MessageType {
			case "broadcast":
				ch.parent.BroadcastBytesLocal(msg.Payload)
			case "session":
				ch.parent.BroadcastToSessionLocal(msg.SessionID, msg.Payload)
			default:
				log.Printf("ClusterHub: получено неизвестное сообщение в broadcast канале от %s: %s", msg.InstanceID, msg.MessageType)
			}
		}
	}
}

// handleDirectMessages прослушивает канал прямых сообщений и обрабатывает их
func (ch *ClusterHub) handleDirectMessages() {
	if ch.config.DirectChannel == "" {
		log.Println("[ClusterHub:Direct] Канал прямых сообщений не настроен, обработчик не запущен.")
		return
	}

	msgCh, err := ch.Provider.Subscribe(ch.ctx, ch.config.DirectChannel)
	if err != nil {
		log.Printf("[ClusterHub:Direct] CRITICAL: Не удалось подписаться на канал прямых сообщений %s: %v", ch.config.DirectChannel, err)
		return
	}
	log.Printf("[ClusterHub:Direct] Успешно подписан на канал прямых сообщений: %s", ch.config.DirectChannel)

	for {
		select {
		case <-ch.ctx.Done():
			return
		case msgBytes, ok := <-msgCh:
			if !ok {
				log.Println("[ClusterHub:Direct] Канал прямых сообщений закрыт.")
				return
			}

			var msg ClusterMessage
			if err := json.Unmarshal(msgBytes, &msg); err != nil {
				log.Printf("[ClusterHub:Direct] Ошибка десериализации сообщения из канала %s: %v. Сообщение: %s", ch.config.DirectChannel, err, string(msgBytes))
				continue
			}

			if msg.InstanceID == ch.config.InstanceID {
				continue
			}

			if msg.MessageType == "direct" && msg.RecipientID != "" {
				// SendToUser сам логирует, если получатель не найден локально
				_ = ch.parent.SendToUser(msg.RecipientID, msg.Payload)
			} else {
				log.Printf("[ClusterHub:Direct] Получено сообщение неверного типа или без получателя в канале %s: %+v", ch.config.DirectChannel, msg)
			}
		}
	}
}

// RedisPubSub реализует PubSubProvider с использованием Redis
type RedisPubSub struct {
	client        redis.UniversalClient
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions sync.Map // channel -> *redis.PubSub
	mu            sync.Mutex
}

// NewRedisPubSub создает новый Redis Pub/Sub провайдер,
// используя существующий UniversalClient.
func NewRedisPubSub(client redis.UniversalClient) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil for RedisPubSub")
	}

	ctx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCheck()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("provided redis client failed ping check: %w", err)
	}

	ctxPubSub, cancelPubSub := context.WithCancel(context.Background())

	log.Println("RedisPubSub provider created using existing client.")
	return &RedisPubSub{
		client: client,
		ctx:    ctxPubSub,
		cancel: cancelPubSub,
	}, nil
}

// Publish публикует сообщение в указанный канал
func (p *RedisPubSub) Publish(channel string, message []byte) error {
	cmd := p.client.Publish(p.ctx, channel, message)
	if err := cmd.Err(); err != nil {
		log.Printf("RedisPubSub: Error publishing to channel '%s': %v", channel, err)
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на указанный канал Redis
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subscriptions.Load(channel); ok {
		return nil, fmt.Errorf("already subscribed to Redis channel %s", channel)
	}

	log.Printf("RedisPubSub: Subscribing to channel '%s'", channel)

	pubsub := p.client.Subscribe(p.ctx, channel)

	// Ждем подтверждения подписки
	if _, err := pubsub.Receive(p.ctx); err != nil {
		pubsub.Close()
		log.Printf("RedisPubSub: Error receiving subscription confirmation for channel '%s': %v", channel, err)
		return nil, fmt.Errorf("failed to subscribe to Redis channel %s: %w", channel, err)
	}

	p.subscriptions.Store(channel, pubsub)
	log.Printf("RedisPubSub: Successfully subscribed to channel '%s'", channel)

	msgCh := make(chan []byte, 100)

	go func() {
		defer func() {
			p.subscriptions.Delete(channel)
			pubsub.Close()
			close(msgCh)
			log.Printf("RedisPubSub: Unsubscribed and closed channel '%s'", channel)
		}()

		redisCh := pubsub.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					log.Printf("RedisPubSub: Redis channel '%s' closed by server.", channel)
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				case <-p.ctx.Done():
					return
				case <-ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgCh, nil
}

// Close закрывает все активные подписки и клиента Redis
func (p *RedisPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	log.Println("RedisPubSub: Closing Redis client and all subscriptions...")
	p.cancel()

	var lastErr error

	p.subscriptions.Range(func(key, value interface{}) bool {
		channel := key.(string)
		if pubsub, ok := value.(*redis.PubSub); ok {
			if err := pubsub.Close(); err != nil {
				log.Printf("RedisPubSub: Error closing subscription to channel '%s': %v", channel, err)
				lastErr = err
			}
		}
		return true
	})

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			log.Printf("RedisPubSub: Error closing Redis client: %v", err)
			lastErr = err
		}
	}

	log.Println("RedisPubSub: Closed.")
	return lastErr
}
