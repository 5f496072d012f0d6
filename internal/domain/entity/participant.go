package entity

import (
	"time"
)

// Participant представляет игрока внутри одной сессии.
// DisplayName уникально в пределах сессии; одинаковые имена в разных
// сессиях допустимы. JoinOrder монотонно растет в порядке присоединения.
type Participant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      uint      `gorm:"not null;index:idx_participants_session" json:"session_id"`
	UserID         uint      `gorm:"not null;default:0;index" json:"user_id"`
	DisplayName    string    `gorm:"size:50;not null" json:"display_name"`
	JoinOrder      int       `gorm:"not null" json:"join_order"`
	Score          int       `gorm:"not null;default:0" json:"score"`
	ScoreReachedAt time.Time `gorm:"not null" json:"score_reached_at"`
	JoinedAt       time.Time `gorm:"not null" json:"joined_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Participant) TableName() string {
	return "participants"
}

// ApplyGain увеличивает счет участника и фиксирует момент достижения нового счета.
// Нулевой прирост не сдвигает ScoreReachedAt: при равенстве очков выигрывает тот,
// кто достиг результата раньше.
func (p *Participant) ApplyGain(points int, at time.Time) {
	if points == 0 {
		return
	}
	p.Score += points
	p.ScoreReachedAt = at
}
