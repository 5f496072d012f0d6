package postgres

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// SubmissionRepo реализует repository.SubmissionRepository
type SubmissionRepo struct {
	db *gorm.DB
}

// NewSubmissionRepo создает новый репозиторий ответов
func NewSubmissionRepo(db *gorm.DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

// Save сохраняет ответ участника.
// Повторный ответ на тот же раунд нарушает уникальный индекс и
// превращается в ErrDuplicateSubmission: первый ответ остается нетронутым.
func (r *SubmissionRepo) Save(tx *gorm.DB, submission *entity.Submission) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.Create(submission).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: participant #%d round %d",
			apperrors.ErrDuplicateSubmission, submission.ParticipantID, submission.RoundIndex)
	}
	return err
}

// GetBySessionAndRound возвращает все ответы раунда
func (r *SubmissionRepo) GetBySessionAndRound(sessionID uint, roundIndex int) ([]entity.Submission, error) {
	var submissions []entity.Submission
	err := r.db.Where("session_id = ? AND round_index = ?", sessionID, roundIndex).
		Order("submitted_at ASC").
		Find(&submissions).Error
	return submissions, err
}

// GetByParticipant возвращает все ответы участника в сессии
func (r *SubmissionRepo) GetByParticipant(sessionID, participantID uint) ([]entity.Submission, error) {
	var submissions []entity.Submission
	err := r.db.Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		Order("round_index ASC").
		Find(&submissions).Error
	return submissions, err
}

// GetBySession возвращает все ответы сессии
func (r *SubmissionRepo) GetBySession(sessionID uint) ([]entity.Submission, error) {
	var submissions []entity.Submission
	err := r.db.Where("session_id = ?", sessionID).
		Order("round_index ASC, submitted_at ASC").
		Find(&submissions).Error
	return submissions, err
}

// CountByRound возвращает число ответов в раунде
func (r *SubmissionRepo) CountByRound(sessionID uint, roundIndex int) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Submission{}).
		Where("session_id = ? AND round_index = ?", sessionID, roundIndex).
		Count(&count).Error
	return count, err
}
