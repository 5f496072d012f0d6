package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// ParticipantRepo реализует repository.ParticipantRepository
type ParticipantRepo struct {
	db *gorm.DB
}

// NewParticipantRepo создает новый репозиторий участников
func NewParticipantRepo(db *gorm.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// Create сохраняет участника.
// Уникальный индекс (session_id, display_name) превращается в ErrNameTaken:
// одно и то же имя в разных сессиях допустимо, в одной - нет.
func (r *ParticipantRepo) Create(tx *gorm.DB, participant *entity.Participant) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.Create(participant).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", apperrors.ErrNameTaken, participant.DisplayName)
	}
	return err
}

// GetByID возвращает участника по ID
func (r *ParticipantRepo) GetByID(id uint) (*entity.Participant, error) {
	var participant entity.Participant
	err := r.db.First(&participant, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &participant, nil
}

// GetBySessionAndUser возвращает участника сессии по ID пользователя
func (r *ParticipantRepo) GetBySessionAndUser(sessionID, userID uint) (*entity.Participant, error) {
	var participant entity.Participant
	err := r.db.Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &participant, nil
}

// GetBySession возвращает всех участников сессии в порядке присоединения
func (r *ParticipantRepo) GetBySession(sessionID uint) ([]entity.Participant, error) {
	var participants []entity.Participant
	err := r.db.Where("session_id = ?", sessionID).
		Order("join_order ASC").
		Find(&participants).Error
	return participants, err
}

// CountBySession возвращает число участников сессии
func (r *ParticipantRepo) CountBySession(sessionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Participant{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

// NextJoinOrder возвращает следующий порядковый номер присоединения.
// Выполняется в рамках транзакции tx вместе с Create, чтобы не было гонки номеров.
func (r *ParticipantRepo) NextJoinOrder(tx *gorm.DB, sessionID uint) (int, error) {
	if tx == nil {
		tx = r.db
	}
	var max int
	err := tx.Model(&entity.Participant{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(join_order), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// UpdateScore точечно обновляет score и score_reached_at
func (r *ParticipantRepo) UpdateScore(tx *gorm.DB, participantID uint, score int, reachedAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&entity.Participant{}).
		Where("id = ?", participantID).
		Updates(map[string]interface{}{
			"score":            score,
			"score_reached_at": reachedAt,
		}).Error
}

// Update обновляет участника
func (r *ParticipantRepo) Update(participant *entity.Participant) error {
	return r.db.Save(participant).Error
}
