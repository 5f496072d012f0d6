package repository

import (
	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"gorm.io/gorm"
)

// SubmissionRepository определяет методы для работы с ответами участников
type SubmissionRepository interface {
	// Save сохраняет ответ в рамках транзакции tx. Уникальный индекс
	// (session_id, participant_id, round_index) отклоняет повторный ответ.
	Save(tx *gorm.DB, submission *entity.Submission) error
	GetBySessionAndRound(sessionID uint, roundIndex int) ([]entity.Submission, error)
	GetByParticipant(sessionID, participantID uint) ([]entity.Submission, error)
	GetBySession(sessionID uint) ([]entity.Submission, error)
	CountByRound(sessionID uint, roundIndex int) (int64, error)
}
