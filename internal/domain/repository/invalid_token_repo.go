package repository

import (
	"context"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// InvalidTokenRepository хранит отметки отзыва токенов по пользователям.
// Отметка действует на все токены, выпущенные до ее времени.
type InvalidTokenRepository interface {
	// AddInvalidToken ставит или сдвигает вперед отметку отзыва пользователя
	AddInvalidToken(ctx context.Context, userID uint, invalidationTime time.Time) error

	// RemoveInvalidToken снимает отметку отзыва
	RemoveInvalidToken(ctx context.Context, userID uint) error

	// IsTokenInvalid проверяет, отозван ли токен с данным временем выпуска
	IsTokenInvalid(ctx context.Context, userID uint, tokenIssuedAt time.Time) (bool, error)

	// GetAllInvalidTokens возвращает все отметки (прогрев кеша при старте)
	GetAllInvalidTokens(ctx context.Context) ([]entity.InvalidToken, error)

	// CleanupOldInvalidTokens удаляет отметки старше cutoffTime
	CleanupOldInvalidTokens(ctx context.Context, cutoffTime time.Time) error
}
