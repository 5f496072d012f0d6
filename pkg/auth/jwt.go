package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	"github.com/yourusername/quizlive-api/internal/websocket"
)

const (
	// Канал Pub/Sub для синхронизации инвалидации токенов между инстансами
	invalidationChannel = "jwt_invalidation_events"

	// Интервал периодической очистки кеша инвалидаций
	invalidationCleanupInterval = 1 * time.Hour

	wsTicketUsage = "websocket_auth"
)

// JWTCustomClaims содержит пользовательские поля для токена
type JWTCustomClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
	// Usage отличает короткоживущие WS-тикеты от токенов доступа
	Usage string `json:"usage,omitempty"`
}

// JWTService предоставляет методы для работы с JWT.
// Подпись - HS256 с общим секретом из конфигурации.
type JWTService struct {
	secret        []byte
	expirationHrs int
	// Время жизни WS-тикета
	wsTicketExpiry time.Duration

	// Черный список инвалидированных пользователей (in-memory кеш поверх БД)
	invalidatedUsers map[uint]time.Time
	mu               sync.RWMutex

	invalidTokenRepo repository.InvalidTokenRepository
	pubSubProvider   websocket.PubSubProvider
	appCtx           context.Context
}

// NewJWTService создает новый сервис JWT
func NewJWTService(
	secret string,
	expirationHrs int,
	wsTicketExpirySec int,
	invalidTokenRepo repository.InvalidTokenRepository,
	pubSubProvider websocket.PubSubProvider,
	appCtx context.Context,
) (*JWTService, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if invalidTokenRepo == nil {
		return nil, errors.New("InvalidTokenRepository is required for JWTService")
	}
	if pubSubProvider == nil {
		return nil, errors.New("PubSubProvider is required for JWTService")
	}
	if appCtx == nil {
		return nil, errors.New("appCtx is required for JWTService")
	}
	if expirationHrs <= 0 {
		expirationHrs = 24
	}
	wsExpiry := time.Duration(wsTicketExpirySec) * time.Second
	if wsExpiry <= 0 {
		wsExpiry = 60 * time.Second
	}

	service := &JWTService{
		secret:           []byte(secret),
		expirationHrs:    expirationHrs,
		wsTicketExpiry:   wsExpiry,
		invalidatedUsers: make(map[uint]time.Time),
		invalidTokenRepo: invalidTokenRepo,
		pubSubProvider:   pubSubProvider,
		appCtx:           appCtx,
	}

	// Загружаем инвалидированные токены из БД при старте
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	service.loadInvalidatedTokensFromDB(startupCtx)

	// Периодическая очистка кеша и синхронизация между инстансами через Pub/Sub
	go service.runCleanupRoutine()
	go service.listenForInvalidationEvents()

	return service, nil
}

// loadInvalidatedTokensFromDB загружает информацию об инвалидированных токенах из БД
func (s *JWTService) loadInvalidatedTokensFromDB(ctx context.Context) {
	tokens, err := s.invalidTokenRepo.GetAllInvalidTokens(ctx)
	if err != nil {
		log.Printf("[JWT] Ошибка загрузки инвалидированных токенов из БД: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tokens {
		s.invalidatedUsers[token.UserID] = token.InvalidationTime
	}

	log.Printf("[JWT] Загружено %d записей инвалидации из БД", len(tokens))
}

// GenerateToken создает новый токен доступа для пользователя
func (s *JWTService) GenerateToken(userID uint, email string) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour * time.Duration(s.expirationHrs))),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "quizlive-api",
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  jwt.ClaimStrings{"quizlive-user"},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		log.Printf("[JWT] Ошибка генерации токена для пользователя ID=%d: %v", userID, err)
		return "", err
	}
	return tokenString, nil
}

func (s *JWTService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secret, nil
}

// ParseToken проверяет и расшифровывает JWT токен
func (s *JWTService) ParseToken(ctx context.Context, tokenString string) (*JWTCustomClaims, error) {
	claims := &JWTCustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, errors.New("token is malformed")
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return nil, errors.New("token is expired")
			case ve.Errors&jwt.ValidationErrorNotValidYet != 0:
				return nil, errors.New("token not valid yet")
			case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				log.Printf("[JWT] Неверная подпись токена для пользователя ID=%d", claims.UserID)
				return nil, errors.New("signature is invalid")
			default:
				return nil, errors.New("token validation failed")
			}
		}
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	// WS-тикеты проходят через ParseWSTicket, токеном доступа не являются
	if claims.Usage == wsTicketUsage {
		return nil, errors.New("ws ticket cannot be used as access token")
	}

	// Проверка инвалидации: токен, выпущенный до момента инвалидации, недействителен
	if claims.UserID > 0 {
		s.mu.RLock()
		invTime, exists := s.invalidatedUsers[claims.UserID]
		s.mu.RUnlock()

		if exists && claims.IssuedAt != nil && !claims.IssuedAt.Time.After(invTime) {
			log.Printf("[JWT] Токен инвалидирован для пользователя ID=%d (выдан %v, инвалидация %v)",
				claims.UserID, claims.IssuedAt.Time, invTime)
			return nil, errors.New("token has been invalidated")
		}
	}

	return claims, nil
}

// GenerateWSTicket создает короткоживущий JWT для аутентификации WebSocket.
// Тикет передается в query-параметре, поэтому живет секунды, а не часы.
func (s *JWTService) GenerateWSTicket(userID uint, email string) (string, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		UserID: userID,
		Email:  email,
		Usage:  wsTicketUsage,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.wsTicketExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "quizlive-api",
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  jwt.ClaimStrings{"quizlive-ws"},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		log.Printf("[JWT] Ошибка генерации WS-тикета для пользователя ID=%d: %v", userID, err)
		return "", err
	}

	log.Printf("[JWT] WS-тикет сгенерирован для пользователя ID=%d, истекает через %v", userID, s.wsTicketExpiry)
	return tokenString, nil
}

// ParseWSTicket проверяет JWT, используемый как WS тикет
func (s *JWTService) ParseWSTicket(ticketString string) (*JWTCustomClaims, error) {
	claims := &JWTCustomClaims{}
	token, err := jwt.ParseWithClaims(ticketString, claims, s.keyFunc)
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.New("ticket is expired")
		}
		return nil, fmt.Errorf("invalid ticket: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid ticket")
	}
	if claims.Usage != wsTicketUsage {
		return nil, errors.New("invalid ticket usage")
	}

	return claims, nil
}

// InvalidateTokensForUser добавляет пользователя в черный список,
// делая все ранее выданные токены недействительными
func (s *JWTService) InvalidateTokensForUser(ctx context.Context, userID uint) error {
	now := time.Now()
	s.mu.Lock()
	s.invalidatedUsers[userID] = now
	s.mu.Unlock()

	if err := s.invalidTokenRepo.AddInvalidToken(ctx, userID, now); err != nil {
		log.Printf("[JWT] Ошибка записи инвалидации в БД для пользователя ID=%d: %v", userID, err)
		return err
	}

	// Рассылаем событие остальным инстансам; ошибка публикации не прерывает logout
	event := map[string]interface{}{"user_id": userID, "invalidation_time": now.Unix()}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("[JWT] Ошибка сериализации события инвалидации для userID %d: %v", userID, err)
	} else if pubErr := s.pubSubProvider.Publish(invalidationChannel, eventBytes); pubErr != nil {
		log.Printf("[JWT] Ошибка публикации события инвалидации для userID %d: %v", userID, pubErr)
	}

	log.Printf("[JWT] Токены инвалидированы для пользователя ID=%d в %v", userID, now)
	return nil
}

// ResetInvalidationForUser удаляет пользователя из черного списка,
// разрешая использование существующих токенов
func (s *JWTService) ResetInvalidationForUser(ctx context.Context, userID uint) {
	if userID == 0 {
		return
	}

	s.mu.Lock()
	delete(s.invalidatedUsers, userID)
	s.mu.Unlock()

	if err := s.invalidTokenRepo.RemoveInvalidToken(ctx, userID); err != nil {
		log.Printf("[JWT] Ошибка удаления записи инвалидации из БД для пользователя ID=%d: %v", userID, err)
	}
}

// CleanupInvalidatedUsers удаляет устаревшие записи об инвалидации из БД и из кеша.
// Запись старше двойного срока жизни токена уже ничего не блокирует.
func (s *JWTService) CleanupInvalidatedUsers(ctx context.Context) error {
	cutoffTime := time.Now().Add(-time.Hour * time.Duration(s.expirationHrs*2))

	if err := s.invalidTokenRepo.CleanupOldInvalidTokens(ctx, cutoffTime); err != nil {
		log.Printf("[JWT] Ошибка очистки invalid_tokens в БД: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cleanedCount := 0
	for userID, invalidationTime := range s.invalidatedUsers {
		if invalidationTime.Before(cutoffTime) {
			delete(s.invalidatedUsers, userID)
			cleanedCount++
		}
	}
	if cleanedCount > 0 {
		log.Printf("[JWT] Удалено %d устаревших записей из кеша инвалидации", cleanedCount)
	}

	return nil
}

func (s *JWTService) runCleanupRoutine() {
	ticker := time.NewTicker(invalidationCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.CleanupInvalidatedUsers(cleanupCtx); err != nil {
				log.Printf("[JWT] Ошибка периодической очистки: %v", err)
			}
			cancel()
		case <-s.appCtx.Done():
			return
		}
	}
}

// listenForInvalidationEvents подписывается на события инвалидации из Pub/Sub
// и обновляет локальный кеш
func (s *JWTService) listenForInvalidationEvents() {
	messages, err := s.pubSubProvider.Subscribe(s.appCtx, invalidationChannel)
	if err != nil {
		log.Printf("[JWT] Ошибка подписки на канал %s: %v", invalidationChannel, err)
		return
	}

	for {
		select {
		case <-s.appCtx.Done():
			return
		case msgBytes, ok := <-messages:
			if !ok {
				log.Printf("[JWT] Канал %s закрыт", invalidationChannel)
				return
			}

			var eventData struct {
				UserID           uint  `json:"user_id"`
				InvalidationTime int64 `json:"invalidation_time"`
			}
			if err := json.Unmarshal(msgBytes, &eventData); err != nil {
				log.Printf("[JWT] Ошибка десериализации события инвалидации: %v", err)
				continue
			}
			if eventData.UserID == 0 {
				continue
			}

			s.mu.Lock()
			s.invalidatedUsers[eventData.UserID] = time.Unix(eventData.InvalidationTime, 0)
			s.mu.Unlock()
		}
	}
}
