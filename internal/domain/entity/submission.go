package entity

import (
	"time"
)

// Submission представляет принятый ответ участника на один раунд.
// Уникальный индекс (session_id, participant_id, round_index) гарантирует,
// что засчитывается только первый ответ; повторы отклоняются базой.
type Submission struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       uint      `gorm:"not null;uniqueIndex:uniq_submission_round" json:"session_id"`
	ParticipantID   uint      `gorm:"not null;uniqueIndex:uniq_submission_round" json:"participant_id"`
	RoundIndex      int       `gorm:"not null;uniqueIndex:uniq_submission_round" json:"round_index"`
	QuestionID      uint      `gorm:"not null;index" json:"question_id"`
	SelectedOptions IntArray  `gorm:"type:jsonb;not null" json:"selected_options"`
	IsCorrect       bool      `gorm:"not null" json:"is_correct"`
	ElapsedMs       int64     `gorm:"not null" json:"elapsed_ms"`
	BaseScore       int       `gorm:"not null;default:0" json:"base_score"`
	BonusScore      int       `gorm:"not null;default:0" json:"bonus_score"`
	SubmittedAt     time.Time `gorm:"not null" json:"submitted_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Submission) TableName() string {
	return "submissions"
}

// TotalScore возвращает суммарные очки за раунд
func (s *Submission) TotalScore() int {
	return s.BaseScore + s.BonusScore
}
