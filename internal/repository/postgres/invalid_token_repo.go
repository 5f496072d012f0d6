package postgres

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// InvalidTokenRepo реализует repository.InvalidTokenRepository
type InvalidTokenRepo struct {
	db *gorm.DB
}

// NewInvalidTokenRepo создает репозиторий отозванных токенов
func NewInvalidTokenRepo(db *gorm.DB) *InvalidTokenRepo {
	return &InvalidTokenRepo{db: db}
}

// AddInvalidToken записывает момент отзыва токенов пользователя.
// Повторный отзыв сдвигает отметку вперед (upsert по user_id).
func (r *InvalidTokenRepo) AddInvalidToken(ctx context.Context, userID uint, invalidationTime time.Time) error {
	record := entity.InvalidToken{UserID: userID, InvalidationTime: invalidationTime}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"invalidation_time"}),
	}).Create(&record).Error
	if err != nil {
		log.Printf("[InvalidTokenRepo] Ошибка отзыва токенов пользователя #%d: %v", userID, err)
		return err
	}
	return nil
}

// RemoveInvalidToken снимает отметку отзыва с пользователя
func (r *InvalidTokenRepo) RemoveInvalidToken(ctx context.Context, userID uint) error {
	result := r.db.WithContext(ctx).Delete(&entity.InvalidToken{}, userID)
	if result.Error != nil {
		log.Printf("[InvalidTokenRepo] Ошибка снятия отзыва с пользователя #%d: %v", userID, result.Error)
		return result.Error
	}
	return nil
}

// IsTokenInvalid проверяет по базе, отозван ли токен с данным временем выпуска.
// Используется как fallback, когда in-memory кеш отзывов еще не прогрет.
func (r *InvalidTokenRepo) IsTokenInvalid(ctx context.Context, userID uint, tokenIssuedAt time.Time) (bool, error) {
	var record entity.InvalidToken
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.IsTokenInvalidAt(tokenIssuedAt), nil
}

// GetAllInvalidTokens возвращает все отметки отзыва (прогрев кеша при старте)
func (r *InvalidTokenRepo) GetAllInvalidTokens(ctx context.Context) ([]entity.InvalidToken, error) {
	var tokens []entity.InvalidToken
	if err := r.db.WithContext(ctx).Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

// CleanupOldInvalidTokens удаляет отметки старше cutoffTime.
// Токены с таким временем выпуска все равно уже истекли сами.
func (r *InvalidTokenRepo) CleanupOldInvalidTokens(ctx context.Context, cutoffTime time.Time) error {
	result := r.db.WithContext(ctx).Where("invalidation_time < ?", cutoffTime).Delete(&entity.InvalidToken{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[InvalidTokenRepo] Удалено %d устаревших отметок отзыва", result.RowsAffected)
	}
	return nil
}
