package dto

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// CreateSessionRequest - запрос на создание живой сессии
type CreateSessionRequest struct {
	QuizID        uint   `json:"quiz_id" binding:"required"`
	HostPasscode  string `json:"host_passcode" binding:"omitempty,min=4,max=50"`
	PartialCredit bool   `json:"partial_credit"`
	SpeedBonus    bool   `json:"speed_bonus"`
}

// JoinSessionRequest - запрос на присоединение к сессии
type JoinSessionRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=50"`
}

// SessionCommandRequest - команда ведущего для перевода сессии
// между состояниями. Token обеспечивает идемпотентность повтора.
type SessionCommandRequest struct {
	Command      string `json:"command" binding:"required"`
	Token        string `json:"token" binding:"required,max=100"`
	HostPasscode string `json:"host_passcode"`
}

// SubmitAnswerRequest - ответ участника на текущий раунд
type SubmitAnswerRequest struct {
	ParticipantID   uint   `json:"participant_id" binding:"required"`
	SelectedOptions []int  `json:"selected_options" binding:"required"`
	Token           string `json:"token" binding:"required,max=100"`
}

// SubmitAnswerResponse - результат обработки ответа.
// Опоздавший ответ не ошибка протокола: Accepted=false с причиной, очков нет.
type SubmitAnswerResponse struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	IsCorrect  bool   `json:"is_correct"`
	BaseScore  int    `json:"base_score"`
	BonusScore int    `json:"bonus_score"`
	TotalScore int    `json:"total_score"`
}

// SessionResponse представляет сессию в формате для ответа клиенту
type SessionResponse struct {
	ID            uint       `json:"id"`
	QuizID        uint       `json:"quiz_id"`
	JoinCode      string     `json:"join_code"`
	Status        string     `json:"status"`
	Version       int64      `json:"version"`
	CurrentRound  int        `json:"current_round"`
	PartialCredit bool       `json:"partial_credit"`
	SpeedBonus    bool       `json:"speed_bonus"`
	CloseReason   string     `json:"close_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// NewSessionResponse создает DTO из сущности сессии
func NewSessionResponse(session *entity.Session) *SessionResponse {
	return &SessionResponse{
		ID:            session.ID,
		QuizID:        session.QuizID,
		JoinCode:      session.JoinCode,
		Status:        session.Status,
		Version:       session.Version,
		CurrentRound:  session.CurrentRound,
		PartialCredit: session.PartialCredit,
		SpeedBonus:    session.SpeedBonus,
		CloseReason:   session.CloseReason,
		CreatedAt:     session.CreatedAt,
		ClosedAt:      session.ClosedAt,
	}
}

// ParticipantResponse представляет участника после присоединения
type ParticipantResponse struct {
	ID          uint   `json:"id"`
	SessionID   uint   `json:"session_id"`
	DisplayName string `json:"display_name"`
	JoinOrder   int    `json:"join_order"`
}

// NewParticipantResponse создает DTO из сущности участника
func NewParticipantResponse(p *entity.Participant) *ParticipantResponse {
	return &ParticipantResponse{
		ID:          p.ID,
		SessionID:   p.SessionID,
		DisplayName: p.DisplayName,
		JoinOrder:   p.JoinOrder,
	}
}
