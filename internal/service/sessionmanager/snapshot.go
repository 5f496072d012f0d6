package sessionmanager

import (
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// RoundView - текущий раунд в снапшоте.
// CorrectOptions заполняется только после блокировки раунда,
// пока раунд открыт, правильные ответы не покидают сервер.
type RoundView struct {
	Index          int       `json:"index"`
	QuestionID     uint      `json:"question_id"`
	Text           string    `json:"text"`
	Options        []string  `json:"options"`
	TimeLimitSec   int       `json:"time_limit_sec"`
	StartedAt      time.Time `json:"started_at"`
	Deadline       time.Time `json:"deadline"`
	CorrectOptions []int     `json:"correct_options,omitempty"`
	SubmittedCount int       `json:"submitted_count"`
}

// ParticipantView - участник в снапшоте
type ParticipantView struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"display_name"`
	JoinOrder   int    `json:"join_order"`
	Score       int    `json:"score"`
	Present     bool   `json:"present"`
}

// Snapshot - полное самосогласованное представление состояния сессии.
// Клиенты всегда синхронизируются от целого снапшота, а не от дельт:
// пропущенное обновление не приводит к расхождению.
type Snapshot struct {
	SessionID    uint               `json:"session_id"`
	Status       string             `json:"status"`
	Version      int64              `json:"version"`
	JoinCode     string             `json:"join_code"`
	QuizTitle    string             `json:"quiz_title"`
	RoundsTotal  int                `json:"rounds_total"`
	CurrentRound *RoundView         `json:"current_round,omitempty"`
	Participants []ParticipantView  `json:"participants"`
	Leaderboard  []LeaderboardEntry `json:"leaderboard"`
	CloseReason  string             `json:"close_reason,omitempty"`
	ServerTime   time.Time          `json:"server_time"`
}

// BuildSnapshot собирает снапшот из состояния сессии без побочных эффектов.
// present - множество участников, подключенных сейчас; submitted - сколько
// ответов принято в текущем раунде.
func BuildSnapshot(session *entity.Session, quiz *entity.Quiz, participants []entity.Participant, present map[uint]bool, submitted int, now time.Time) *Snapshot {
	snap := &Snapshot{
		SessionID:    session.ID,
		Status:       session.Status,
		Version:      session.Version,
		JoinCode:     session.JoinCode,
		CloseReason:  session.CloseReason,
		ServerTime:   now,
		Participants: make([]ParticipantView, 0, len(participants)),
		Leaderboard:  ComputeLeaderboard(participants),
	}

	if quiz != nil {
		snap.QuizTitle = quiz.Title
		snap.RoundsTotal = len(quiz.Questions)
	}

	for _, p := range participants {
		snap.Participants = append(snap.Participants, ParticipantView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			JoinOrder:   p.JoinOrder,
			Score:       p.Score,
			Present:     present[p.ID],
		})
	}

	if quiz != nil && session.CurrentRound >= 0 && session.CurrentRound < len(quiz.Questions) {
		q := quiz.Questions[session.CurrentRound]
		view := &RoundView{
			Index:          session.CurrentRound,
			QuestionID:     q.ID,
			Text:           q.Text,
			Options:        q.Options,
			TimeLimitSec:   q.TimeLimitSec,
			SubmittedCount: submitted,
		}
		if session.RoundStartedAt != nil {
			view.StartedAt = *session.RoundStartedAt
		}
		if session.RoundDeadline != nil {
			view.Deadline = *session.RoundDeadline
		}
		// Правильные ответы раскрываются только после блокировки раунда
		if session.Status != entity.SessionStatusQuestionActive {
			view.CorrectOptions = q.CorrectOptions
		}
		snap.CurrentRound = view
	}

	return snap
}
