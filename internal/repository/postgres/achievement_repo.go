package postgres

import (
	"errors"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// AchievementRepo реализует repository.AchievementRepository
type AchievementRepo struct {
	db *gorm.DB
}

// NewAchievementRepo создает новый репозиторий достижений
func NewAchievementRepo(db *gorm.DB) *AchievementRepo {
	return &AchievementRepo{db: db}
}

// SaveGrant сохраняет выдачу достижения.
// Обработчик очереди работает в режиме at-least-once, поэтому нарушение
// уникального индекса (user_id, rule) - штатная ситуация, а не ошибка.
func (r *AchievementRepo) SaveGrant(tx *gorm.DB, grant *entity.AchievementGrant) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.Create(grant).Error
	if err != nil && isUniqueViolation(err) {
		log.Printf("[AchievementRepo] Повторная выдача %s пользователю #%d пропущена", grant.Rule, grant.UserID)
		return nil
	}
	return err
}

// GetByUser возвращает все достижения пользователя
func (r *AchievementRepo) GetByUser(userID uint) ([]entity.AchievementGrant, error) {
	var grants []entity.AchievementGrant
	err := r.db.Where("user_id = ?", userID).
		Order("granted_at ASC").
		Find(&grants).Error
	return grants, err
}

// HasGrant проверяет, выдано ли достижение
func (r *AchievementRepo) HasGrant(userID uint, rule string) (bool, error) {
	var count int64
	err := r.db.Model(&entity.AchievementGrant{}).
		Where("user_id = ? AND rule = ?", userID, rule).
		Count(&count).Error
	return count > 0, err
}

// GetStats возвращает накопленную статистику игрока.
// Для игрока без единой завершенной сессии возвращает нулевую статистику.
func (r *AchievementRepo) GetStats(userID uint) (*entity.PlayerStats, error) {
	var stats entity.PlayerStats
	err := r.db.Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &entity.PlayerStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetStatsForUpdate читает статистику игрока с блокировкой строки.
// При первом обращении создает нулевую запись, чтобы SELECT FOR UPDATE
// всегда имел что блокировать.
func (r *AchievementRepo) GetStatsForUpdate(tx *gorm.DB, userID uint) (*entity.PlayerStats, error) {
	if tx == nil {
		tx = r.db
	}

	var stats entity.PlayerStats
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&stats).Error
	if err == nil {
		return &stats, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	stats = entity.PlayerStats{UserID: userID}
	if err := tx.Create(&stats).Error; err != nil {
		if isUniqueViolation(err) {
			// Конкурентная вставка: перечитываем с блокировкой
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", userID).
				First(&stats).Error
			if err != nil {
				return nil, err
			}
			return &stats, nil
		}
		return nil, err
	}
	return &stats, nil
}

// SaveStats сохраняет статистику игрока
func (r *AchievementRepo) SaveStats(tx *gorm.DB, stats *entity.PlayerStats) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Save(stats).Error
}

// SaveFactReceipt фиксирует обработку факта.
// ON CONFLICT DO NOTHING: нулевое число затронутых строк означает,
// что факт уже обрабатывался и пришел из очереди повторно.
func (r *AchievementRepo) SaveFactReceipt(tx *gorm.DB, receipt *entity.FactReceipt) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(receipt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
