package repository

import (
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"gorm.io/gorm"
)

// AchievementRepository определяет методы для работы с выданными достижениями
type AchievementRepository interface {
	// SaveGrant сохраняет выдачу достижения в рамках транзакции tx.
	// При нарушении уникального индекса (user_id, rule) возвращает nil:
	// повторная выдача не является ошибкой.
	SaveGrant(tx *gorm.DB, grant *entity.AchievementGrant) error
	GetByUser(userID uint) ([]entity.AchievementGrant, error)
	HasGrant(userID uint, rule string) (bool, error)

	// GetStats возвращает накопленную статистику игрока
	// (нулевую, если игрок еще не завершил ни одной сессии)
	GetStats(userID uint) (*entity.PlayerStats, error)

	// GetStatsForUpdate читает статистику игрока с блокировкой строки (FOR UPDATE),
	// создавая нулевую запись при первом обращении
	GetStatsForUpdate(tx *gorm.DB, userID uint) (*entity.PlayerStats, error)
	// SaveStats сохраняет статистику в рамках той же транзакции
	SaveStats(tx *gorm.DB, stats *entity.PlayerStats) error

	// SaveFactReceipt фиксирует обработку факта в рамках транзакции tx.
	// Возвращает false, если отметка уже существует: факт пришел повторно
	// и начислять статистику по нему нельзя.
	SaveFactReceipt(tx *gorm.DB, receipt *entity.FactReceipt) (bool, error)
}
