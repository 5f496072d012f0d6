package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// RateLimitConfig описывает лимит фиксированного окна
type RateLimitConfig struct {
	MaxRequests int           // Запросов за окно
	Window      time.Duration // Длина окна
	KeyPrefix   string        // Префикс ключей в Redis
}

// DefaultAuthRateLimitConfig - общий лимит для auth-эндпоинтов
func DefaultAuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 20, Window: time.Minute, KeyPrefix: "rl:auth"}
}

// StrictAuthRateLimitConfig - строгий лимит для login/register (защита от brute-force)
func StrictAuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 5, Window: time.Minute, KeyPrefix: "rl:auth:strict"}
}

// JoinRateLimitConfig - лимит разрешения кодов присоединения
// (защита от перебора шестисимвольных кодов)
func JoinRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 10, Window: time.Minute, KeyPrefix: "rl:session:join"}
}

// RateLimiter реализует rate limiting фиксированным окном поверх Redis
type RateLimiter struct {
	redisClient redis.UniversalClient
}

// NewRateLimiter создает новый RateLimiter
func NewRateLimiter(redisClient redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redisClient: redisClient}
}

// Limit ограничивает запросы по паре IP + маршрут
func (rl *RateLimiter) Limit(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rl.enforce(c, cfg, fmt.Sprintf("%s:%s:%s", cfg.KeyPrefix, c.ClientIP(), path))
	}
}

// LimitByIP ограничивает запросы по IP без привязки к маршруту.
// Используется как общий лимит на группу эндпоинтов.
func (rl *RateLimiter) LimitByIP(cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		rl.enforce(c, cfg, fmt.Sprintf("%s:%s", cfg.KeyPrefix, c.ClientIP()))
	}
}

// enforce инкрементирует счетчик окна и отклоняет запрос при превышении.
// Ошибка Redis пропускает запрос (fail-open): недоступность кеша не должна
// ронять прием ответов посреди раунда.
func (rl *RateLimiter) enforce(c *gin.Context, cfg RateLimitConfig, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[RateLimiter] Ошибка Redis для ключа %s: %v, запрос пропущен", key, err)
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
			log.Printf("[RateLimiter] Не удалось установить TTL для ключа %s: %v", key, err)
		}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	ttl, _ := rl.redisClient.TTL(ctx, key).Result()
	retryAfter := int(ttl.Seconds())
	if retryAfter < 0 {
		retryAfter = int(cfg.Window.Seconds())
	}

	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.MaxRequests))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", retryAfter))

	if int(count) > cfg.MaxRequests {
		log.Printf("[RateLimiter] Превышен лимит для ключа %s: count=%d, limit=%d", key, count, cfg.MaxRequests)
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests. Please try again later.",
			"error_type":  "rate_limited",
			"retry_after": retryAfter,
		})
		return
	}

	c.Next()
}
