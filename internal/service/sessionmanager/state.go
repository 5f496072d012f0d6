package sessionmanager

import (
	"fmt"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// Command - команда жизненного цикла сессии
type Command string

const (
	// Команды ведущего
	CmdOpenLobby    Command = "open_lobby"
	CmdStart        Command = "start"
	CmdNextQuestion Command = "next_question"
	CmdEndSession   Command = "end_session"

	// Внутренние команды, порождаемые таймерами и подсчетом очков
	CmdLockRound    Command = "lock_round"
	CmdRevealRound  Command = "reveal_round"
	CmdCloseResults Command = "close_results"

	// CmdAbandonSession закрывает заброшенную сессию от имени реапера.
	// Отличается от CmdEndSession только причиной закрытия.
	CmdAbandonSession Command = "abandon_session"
)

// Effect - побочное действие, которое воркер выполняет после применения перехода
type Effect int

const (
	EffectNone Effect = iota
	// EffectStartRoundTimer - взвести таймер блокировки на дедлайн раунда
	EffectStartRoundTimer
	// EffectScoreRound - подсчитать очки раунда и затем применить CmdRevealRound
	EffectScoreRound
	// EffectStartIntermissionTimer - взвести таймер автоперехода
	EffectStartIntermissionTimer
	// EffectCancelTimers - отменить все взведенные таймеры сессии
	EffectCancelTimers
	// EffectEnqueueFacts - поставить факты закрытой сессии в очередь достижений
	EffectEnqueueFacts
)

// Change описывает результат перехода: новые поля сессии и эффекты.
// Применяется к сессии атомарно через CAS по версии.
type Change struct {
	Status         string
	CurrentRound   int
	RoundStartedAt *time.Time
	RoundDeadline  *time.Time
	CloseReason    string
	Effects        []Effect
}

// Transition - чистая функция переходов состояния сессии.
// Не мутирует session и не имеет побочных эффектов; одинаковые входы
// всегда дают одинаковый результат, что позволяет тестировать переходы
// без базы и таймеров.
//
// Допустимые переходы:
//
//	created         --open_lobby-->      waiting
//	waiting         --start-->           question_active (раунд 0)
//	question_active --lock_round-->      question_locked
//	question_locked --reveal_round-->    intermission
//	intermission    --next_question-->   question_active | results (вопросы кончились)
//	results         --close_results-->   closed (reason=completed)
//	любое незакрытое --end_session-->    closed (reason=ended_by_host)
//	любое незакрытое --abandon_session-> closed (reason=abandoned)
func Transition(session *entity.Session, quiz *entity.Quiz, cmd Command, now time.Time) (*Change, error) {
	if session.Status == entity.SessionStatusClosed {
		return nil, fmt.Errorf("%w: session is closed", apperrors.ErrInvalidStateTransition)
	}

	// end_session и abandon_session допустимы из любого незакрытого состояния
	if cmd == CmdEndSession || cmd == CmdAbandonSession {
		reason := entity.SessionCloseReasonEnded
		if cmd == CmdAbandonSession {
			reason = entity.SessionCloseReasonAbandoned
		}
		return &Change{
			Status:       entity.SessionStatusClosed,
			CurrentRound: session.CurrentRound,
			CloseReason:  reason,
			Effects:      []Effect{EffectCancelTimers, EffectEnqueueFacts},
		}, nil
	}

	switch session.Status {
	case entity.SessionStatusCreated:
		if cmd == CmdOpenLobby {
			return &Change{
				Status:       entity.SessionStatusWaiting,
				CurrentRound: -1,
			}, nil
		}

	case entity.SessionStatusWaiting:
		if cmd == CmdStart {
			if quiz == nil || len(quiz.Questions) == 0 {
				return nil, fmt.Errorf("%w: quiz has no questions", apperrors.ErrInvalidStateTransition)
			}
			return startRound(quiz, 0, now), nil
		}

	case entity.SessionStatusQuestionActive:
		if cmd == CmdLockRound {
			return &Change{
				Status:         entity.SessionStatusQuestionLocked,
				CurrentRound:   session.CurrentRound,
				RoundStartedAt: session.RoundStartedAt,
				RoundDeadline:  session.RoundDeadline,
				Effects:        []Effect{EffectScoreRound},
			}, nil
		}

	case entity.SessionStatusQuestionLocked:
		if cmd == CmdRevealRound {
			return &Change{
				Status:         entity.SessionStatusIntermission,
				CurrentRound:   session.CurrentRound,
				RoundStartedAt: session.RoundStartedAt,
				RoundDeadline:  session.RoundDeadline,
				Effects:        []Effect{EffectStartIntermissionTimer},
			}, nil
		}

	case entity.SessionStatusIntermission:
		if cmd == CmdNextQuestion {
			next := session.CurrentRound + 1
			if quiz == nil || next >= len(quiz.Questions) {
				return &Change{
					Status:       entity.SessionStatusResults,
					CurrentRound: session.CurrentRound,
					Effects:      []Effect{EffectCancelTimers},
				}, nil
			}
			return startRound(quiz, next, now), nil
		}

	case entity.SessionStatusResults:
		if cmd == CmdCloseResults {
			return &Change{
				Status:       entity.SessionStatusClosed,
				CurrentRound: session.CurrentRound,
				CloseReason:  entity.SessionCloseReasonCompleted,
				Effects:      []Effect{EffectCancelTimers, EffectEnqueueFacts},
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: command %q in state %q", apperrors.ErrInvalidStateTransition, cmd, session.Status)
}

// startRound строит переход в question_active для раунда idx
func startRound(quiz *entity.Quiz, idx int, now time.Time) *Change {
	q := quiz.Questions[idx]
	limit := q.TimeLimitSec
	if limit <= 0 {
		limit = 20
	}
	started := now
	deadline := now.Add(time.Duration(limit) * time.Second)
	return &Change{
		Status:         entity.SessionStatusQuestionActive,
		CurrentRound:   idx,
		RoundStartedAt: &started,
		RoundDeadline:  &deadline,
		Effects:        []Effect{EffectStartRoundTimer},
	}
}

// Apply переносит изменения в сессию и увеличивает версию.
// Вызывается воркером сессии перед CAS-сохранением.
func Apply(session *entity.Session, change *Change, now time.Time) {
	session.Status = change.Status
	session.CurrentRound = change.CurrentRound
	session.RoundStartedAt = change.RoundStartedAt
	session.RoundDeadline = change.RoundDeadline
	if change.CloseReason != "" {
		session.CloseReason = change.CloseReason
	}
	if change.Status == entity.SessionStatusClosed && session.ClosedAt == nil {
		closedAt := now
		session.ClosedAt = &closedAt
	}
	session.LastActivityAt = now
	session.Version++
}
