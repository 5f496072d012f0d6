package repository

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"gorm.io/gorm"
)

// ParticipantRepository определяет методы для работы с участниками сессий
type ParticipantRepository interface {
	// Create сохраняет участника в рамках транзакции tx.
	// Уникальный индекс (session_id, display_name) отклоняет коллизию
	// имени внутри сессии (ErrNameTaken).
	Create(tx *gorm.DB, participant *entity.Participant) error
	GetByID(id uint) (*entity.Participant, error)
	GetBySessionAndUser(sessionID, userID uint) (*entity.Participant, error)
	GetBySession(sessionID uint) ([]entity.Participant, error)
	CountBySession(sessionID uint) (int64, error)
	// NextJoinOrder возвращает следующий порядковый номер присоединения
	NextJoinOrder(tx *gorm.DB, sessionID uint) (int, error)
	// UpdateScore точечно обновляет score и score_reached_at в рамках транзакции tx
	UpdateScore(tx *gorm.DB, participantID uint, score int, reachedAt time.Time) error
	Update(participant *entity.Participant) error
}
