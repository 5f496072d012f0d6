package entity

import (
	"time"
)

// Константы статусов живой сессии
const (
	SessionStatusCreated        = "created"
	SessionStatusWaiting        = "waiting"
	SessionStatusQuestionActive = "question_active"
	SessionStatusQuestionLocked = "question_locked"
	SessionStatusIntermission   = "intermission"
	SessionStatusResults        = "results"
	SessionStatusClosed         = "closed"
)

// Причины закрытия сессии
const (
	SessionCloseReasonCompleted = "completed"
	SessionCloseReasonEnded     = "ended_by_host"
	SessionCloseReasonAbandoned = "abandoned"
)

// Session представляет живой запуск викторины.
// Version увеличивается на каждом успешном переходе состояния и используется
// для оптимистичной блокировки (CAS) при записи в базу.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	QuizID           uint       `gorm:"not null;index" json:"quiz_id"`
	HostUserID       uint       `gorm:"not null;index" json:"host_user_id"`
	JoinCode         string     `gorm:"size:12;not null;index" json:"join_code"`
	HostPasscodeHash string     `gorm:"size:100;not null;default:''" json:"-"`
	Status           string     `gorm:"size:20;not null;default:'created';index" json:"status"`
	Version          int64      `gorm:"not null;default:0" json:"version"`
	CurrentRound     int        `gorm:"not null;default:-1" json:"current_round"`
	RoundStartedAt   *time.Time `json:"round_started_at,omitempty"`
	RoundDeadline    *time.Time `json:"round_deadline,omitempty"`
	PartialCredit    bool       `gorm:"not null;default:false" json:"partial_credit"`
	SpeedBonus       bool       `gorm:"not null;default:true" json:"speed_bonus"`
	IntermissionSec  int        `gorm:"not null;default:0" json:"intermission_sec"`
	CloseReason      string     `gorm:"size:30;not null;default:''" json:"close_reason,omitempty"`
	LastActivityAt   time.Time  `gorm:"not null;index" json:"last_activity_at"`
	Quiz             *Quiz      `gorm:"foreignKey:QuizID" json:"quiz,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// TableName определяет имя таблицы для GORM
func (Session) TableName() string {
	return "sessions"
}

// IsClosed проверяет, закрыта ли сессия
func (s *Session) IsClosed() bool {
	return s.Status == SessionStatusClosed
}

// IsActive проверяет, что сессия еще жива (код присоединения действителен)
func (s *Session) IsActive() bool {
	return s.Status != SessionStatusClosed
}

// AcceptsJoins проверяет, можно ли присоединяться к сессии.
// Присоединение разрешено в любом незакрытом состоянии;
// опоздавшие участники входят с нулевым счетом.
func (s *Session) AcceptsJoins() bool {
	return s.Status != SessionStatusClosed && s.Status != SessionStatusResults
}

// RoundOpen проверяет, открыт ли прием ответов
func (s *Session) RoundOpen() bool {
	return s.Status == SessionStatusQuestionActive
}
