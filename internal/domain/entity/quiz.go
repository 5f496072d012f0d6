package entity

import (
	"time"
)

// Quiz представляет набор вопросов, из которого запускаются живые сессии.
// Один quiz может использоваться многими сессиями одновременно.
type Quiz struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:100;not null" json:"title"`
	Description string     `gorm:"size:500;not null;default:''" json:"description"`
	OwnerID     uint       `gorm:"not null;index" json:"owner_id"`
	Questions   []Question `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Quiz) TableName() string {
	return "quizzes"
}

// QuestionCount возвращает число вопросов в наборе
func (q *Quiz) QuestionCount() int {
	return len(q.Questions)
}
