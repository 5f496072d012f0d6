package entity

import (
	"time"
)

// SessionFact - итог участия одного игрока в закрытой сессии.
// Сериализуется в JSON и ставится в очередь на обработку правил достижений.
// Пара (SessionID, ParticipantID) ставится в очередь ровно один раз.
type SessionFact struct {
	SessionID     uint      `json:"session_id"`
	ParticipantID uint      `json:"participant_id"`
	UserID        uint      `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"`
	CorrectCount  int       `json:"correct_count"`
	AnsweredCount int       `json:"answered_count"`
	RoundsTotal   int       `json:"rounds_total"`
	BestElapsedMs int64     `json:"best_elapsed_ms"`
	ClosedAt      time.Time `json:"closed_at"`
}

// FactReceipt - отметка об обработанном факте.
// Очередь фактов доставляет как минимум один раз: факт, снятый из
// очереди, удаляется только после фиксации транзакции, поэтому после
// сбоя он может прийти повторно. Составной первичный ключ
// (session_id, participant_id) позволяет распознать повтор и не
// накрутить статистику дважды.
type FactReceipt struct {
	SessionID     uint      `gorm:"primaryKey" json:"session_id"`
	ParticipantID uint      `gorm:"primaryKey" json:"participant_id"`
	ProcessedAt   time.Time `gorm:"not null" json:"processed_at"`
}

// TableName определяет имя таблицы для GORM
func (FactReceipt) TableName() string {
	return "achievement_fact_receipts"
}

// AchievementGrant - выданное достижение.
// Уникальный индекс (user_id, rule) делает выдачу идемпотентной:
// повторная обработка того же факта не создает дубликат.
type AchievementGrant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:uniq_grant_rule" json:"user_id"`
	Rule      string    `gorm:"size:50;not null;uniqueIndex:uniq_grant_rule" json:"rule"`
	SessionID uint      `gorm:"not null;index" json:"session_id"`
	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (AchievementGrant) TableName() string {
	return "achievement_grants"
}

// PlayerStats - накопленная статистика игрока по всем сессиям.
// Обновляется в одной транзакции с выдачей достижений, чтобы правила
// вида "n-я завершенная викторина" видели согласованные счетчики.
type PlayerStats struct {
	UserID            uint      `gorm:"primaryKey" json:"user_id"`
	SessionsCompleted int       `gorm:"not null;default:0" json:"sessions_completed"`
	PerfectSessions   int       `gorm:"not null;default:0" json:"perfect_sessions"`
	FirstPlaces       int       `gorm:"not null;default:0" json:"first_places"`
	TotalScore        int64     `gorm:"not null;default:0" json:"total_score"`
	TotalCorrect      int       `gorm:"not null;default:0" json:"total_correct"`
	TotalAnswered     int       `gorm:"not null;default:0" json:"total_answered"`
	UpdatedAt         time.Time `json:"updated_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (PlayerStats) TableName() string {
	return "player_stats"
}
