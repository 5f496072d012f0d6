package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// SessionRepo реализует repository.SessionRepository
type SessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo создает новый репозиторий сессий
func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create создает новую сессию.
// Partial unique index idx_sessions_active_join_code гарантирует уникальность
// кода присоединения среди незакрытых сессий.
func (r *SessionRepo) Create(session *entity.Session) error {
	err := r.db.Create(session).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", repository.ErrJoinCodeTaken, session.JoinCode)
	}
	return err
}

// GetByID возвращает сессию по ID
func (r *SessionRepo) GetByID(id uint) (*entity.Session, error) {
	var session entity.Session
	err := r.db.First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetWithQuiz возвращает сессию вместе с набором вопросов
func (r *SessionRepo) GetWithQuiz(id uint) (*entity.Session, error) {
	var session entity.Session
	err := r.db.Preload("Quiz.Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC, id ASC")
	}).Preload("Quiz").First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetActiveByJoinCode находит незакрытую сессию по коду присоединения
func (r *SessionRepo) GetActiveByJoinCode(joinCode string) (*entity.Session, error) {
	var session entity.Session
	err := r.db.Where("join_code = ? AND status != ?", joinCode, entity.SessionStatusClosed).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidJoinCode
		}
		return nil, err
	}
	return &session, nil
}

// UpdateCAS сохраняет сессию с оптимистичной блокировкой по версии.
// - RowsAffected == 0 → версия в базе ушла вперед, вызывающий перечитывает
// - 23505 → код присоединения занят (возможно при переоткрытии)
func (r *SessionRepo) UpdateCAS(session *entity.Session, expectedVersion int64) error {
	result := r.db.Model(&entity.Session{}).
		Where("id = ? AND version = ?", session.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":           session.Status,
			"version":          session.Version,
			"current_round":    session.CurrentRound,
			"round_started_at": session.RoundStartedAt,
			"round_deadline":   session.RoundDeadline,
			"close_reason":     session.CloseReason,
			"last_activity_at": session.LastActivityAt,
			"closed_at":        session.ClosedAt,
		})

	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return fmt.Errorf("%w: %s", repository.ErrJoinCodeTaken, session.JoinCode)
		}
		return fmt.Errorf("update session #%d failed: %w", session.ID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: session #%d expected v%d", repository.ErrVersionConflict, session.ID, expectedVersion)
	}

	return nil
}

// TouchActivity обновляет last_activity_at без инкремента версии
func (r *SessionRepo) TouchActivity(sessionID uint, at time.Time) error {
	return r.db.Model(&entity.Session{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", at).
		Error
}

// GetStale возвращает незакрытые сессии без активности дольше cutoff
func (r *SessionRepo) GetStale(cutoff time.Time, limit int) ([]entity.Session, error) {
	var sessions []entity.Session
	err := r.db.Where("status != ? AND last_activity_at < ?", entity.SessionStatusClosed, cutoff).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListWithFilters возвращает список сессий с фильтрами и total count
func (r *SessionRepo) ListWithFilters(filters repository.SessionFilters, limit, offset int) ([]entity.Session, int64, error) {
	var sessions []entity.Session
	var total int64

	query := r.db.Model(&entity.Session{})

	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.QuizID != 0 {
		query = query.Where("quiz_id = ?", filters.QuizID)
	}
	if filters.HostID != 0 {
		query = query.Where("host_user_id = ?", filters.HostID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Limit(limit).Offset(offset).Order("id DESC").Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}
