package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/yourusername/quizlive-api/internal/service"
	"github.com/yourusername/quizlive-api/internal/websocket"
	"github.com/yourusername/quizlive-api/pkg/auth"
)

// WSHandler обрабатывает WebSocket соединения
type WSHandler struct {
	wsHub          *websocket.SessionHub
	wsManager      *websocket.Manager
	sessionManager *service.SessionManager
	jwtService     *auth.JWTService
}

// NewWSHandler создает новый обработчик WebSocket
func NewWSHandler(
	wsHub *websocket.SessionHub,
	wsManager *websocket.Manager,
	sessionManager *service.SessionManager,
	jwtService *auth.JWTService,
) *WSHandler {
	handler := &WSHandler{
		wsHub:          wsHub,
		wsManager:      wsManager,
		sessionManager: sessionManager,
		jwtService:     jwtService,
	}

	// Регистрируем обработчики сообщений один раз при создании обработчика
	handler.registerMessageHandlers()

	return handler
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Пустой Origin - не браузерный клиент (мобильное приложение, curl и т.д.)
		if origin == "" {
			return true
		}

		// Список разрешенных origin (синхронизирован с CORS в main.go)
		allowedOrigins := []string{
			"https://quizlive.vercel.app",
			"https://quizlive-host.vercel.app",
			"http://localhost:5173",
			"http://localhost:3000",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: rejected unauthorized origin: %s", origin)
		return false
	},
	EnableCompression: true,
}

// HandleConnection обрабатывает входящее WebSocket соединение.
// Аутентификация через короткоживущий тикет (?ticket=...), а не access-токен:
// тикет попадает в URL и не должен давать долгосрочный доступ.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	ticket := c.Query("ticket")
	// НЕ логируем тикет - это секретные данные аутентификации

	if ticket == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authentication ticket parameter"})
		return
	}

	claims, err := h.jwtService.ParseWSTicket(ticket)
	if err != nil {
		log.Printf("WebSocket: Invalid or expired ticket - %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired ticket"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}

	log.Printf("WebSocket: Connection upgraded for UserID: %d", claims.UserID)

	client := websocket.NewClient(h.wsHub, conn, fmt.Sprintf("%d", claims.UserID))

	client.StartPumps(h.wsManager.HandleMessage)
}

// registerMessageHandlers регистрирует обработчики для различных типов сообщений
func (h *WSHandler) registerMessageHandlers() {
	// Подписка на события сессии. После подписки клиенту сразу отправляется
	// актуальный снимок: push-события, пропущенные до подписки, не теряются.
	h.wsManager.RegisterHandler("session:subscribe", func(data json.RawMessage, client *websocket.Client) error {
		var subscribeEvent struct {
			SessionID uint `json:"session_id"`
		}
		if err := json.Unmarshal(data, &subscribeEvent); err != nil {
			log.Printf("[WSHandler] Ошибка парсинга session:subscribe: %v, Data: %s", err, string(data))
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse session:subscribe event")
			return fmt.Errorf("failed to parse session:subscribe event: %w", err)
		}

		if subscribeEvent.SessionID == 0 {
			h.wsManager.SendErrorToClient(client, "invalid_format", "session_id is required")
			return nil
		}

		if err := h.wsManager.SubscribeClientToSession(client, subscribeEvent.SessionID); err != nil {
			log.Printf("[WSHandler] Ошибка при подписке User %s на Session %d: %v", client.UserID, subscribeEvent.SessionID, err)
			h.wsManager.SendErrorToClient(client, "subscribe_error", fmt.Sprintf("Failed to subscribe to session %d", subscribeEvent.SessionID))
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snapshot, err := h.sessionManager.GetSnapshot(ctx, subscribeEvent.SessionID)
		if err != nil {
			log.Printf("[WSHandler] Ошибка получения снимка сессии %d для User %s: %v", subscribeEvent.SessionID, client.UserID, err)
			h.wsManager.SendErrorToClient(client, "snapshot_error", err.Error())
			return nil
		}

		if err := h.wsManager.SendEventToUser(client.UserID, "session:state", snapshot); err != nil {
			log.Printf("[WSHandler] Ошибка отправки session:state пользователю %s: %v", client.UserID, err)
		}
		return nil
	})

	// Отписка от событий сессии
	h.wsManager.RegisterHandler("session:unsubscribe", func(data json.RawMessage, client *websocket.Client) error {
		if err := h.wsManager.UnsubscribeClientFromSession(client); err != nil {
			log.Printf("[WSHandler] Ошибка при отписке User %s: %v", client.UserID, err)
		}
		return nil
	})

	// Обработчик для проверки соединения
	h.wsManager.RegisterHandler("user:heartbeat", func(data json.RawMessage, client *websocket.Client) error {
		heartbeatResponse := map[string]interface{}{
			"timestamp": time.Now().UnixNano() / int64(time.Millisecond),
		}
		if err := h.wsManager.SendEventToUser(client.UserID, "server:heartbeat", heartbeatResponse); err != nil {
			log.Printf("[WSHandler] WARNING: Ошибка при отправке server:heartbeat пользователю %s: %v", client.UserID, err)
		}
		return nil // Никогда не закрываем соединение из-за heartbeat
	})
}
