package repository

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// SessionFilters определяет фильтры для поиска сессий
type SessionFilters struct {
	Status   string // Фильтр по статусу
	QuizID   uint   // Фильтр по набору вопросов
	HostID   uint   // Фильтр по ведущему
	DateFrom *time.Time
	DateTo   *time.Time
}

// SessionRepository определяет методы для работы с сессиями
type SessionRepository interface {
	Create(session *entity.Session) error
	GetByID(id uint) (*entity.Session, error)
	GetWithQuiz(id uint) (*entity.Session, error)
	// GetActiveByJoinCode находит незакрытую сессию по коду присоединения.
	// Код уникален среди активных сессий (partial unique index),
	// после закрытия сессии код может быть переиспользован.
	GetActiveByJoinCode(joinCode string) (*entity.Session, error)
	// UpdateCAS сохраняет сессию только если version в базе равен expectedVersion.
	// Возвращает ErrVersionConflict при несовпадении версий.
	UpdateCAS(session *entity.Session, expectedVersion int64) error
	// TouchActivity обновляет last_activity_at без инкремента версии
	TouchActivity(sessionID uint, at time.Time) error
	// GetStale возвращает незакрытые сессии без активности дольше cutoff
	GetStale(cutoff time.Time, limit int) ([]entity.Session, error)
	ListWithFilters(filters SessionFilters, limit, offset int) ([]entity.Session, int64, error)
}
