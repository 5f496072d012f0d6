package sessionmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

func testQuiz(questions int) *entity.Quiz {
	quiz := &entity.Quiz{ID: 1, Title: "Тестовый набор"}
	for i := 0; i < questions; i++ {
		quiz.Questions = append(quiz.Questions, entity.Question{
			ID:             uint(i + 1),
			QuizID:         1,
			Text:           "Вопрос",
			Options:        entity.StringArray{"A", "B", "C", "D"},
			CorrectOptions: entity.IntArray{1},
			TimeLimitSec:   10,
			BasePoints:     100,
			Position:       i,
		})
	}
	return quiz
}

func testSession(status string, round int) *entity.Session {
	return &entity.Session{
		ID:           7,
		QuizID:       1,
		JoinCode:     "ABC234",
		Status:       status,
		Version:      3,
		CurrentRound: round,
	}
}

func TestTransition_FullLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quiz := testQuiz(2)
	session := testSession(entity.SessionStatusCreated, -1)

	// created → waiting
	change, err := Transition(session, quiz, CmdOpenLobby, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusWaiting, change.Status)
	Apply(session, change, now)
	assert.Equal(t, int64(4), session.Version)

	// waiting → question_active, раунд 0, дедлайн = now + лимит
	change, err = Transition(session, quiz, CmdStart, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusQuestionActive, change.Status)
	assert.Equal(t, 0, change.CurrentRound)
	require.NotNil(t, change.RoundDeadline)
	assert.Equal(t, now.Add(10*time.Second), *change.RoundDeadline)
	assert.Contains(t, change.Effects, EffectStartRoundTimer)
	Apply(session, change, now)

	// question_active → question_locked → intermission
	change, err = Transition(session, quiz, CmdLockRound, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusQuestionLocked, change.Status)
	assert.Contains(t, change.Effects, EffectScoreRound)
	Apply(session, change, now)

	change, err = Transition(session, quiz, CmdRevealRound, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusIntermission, change.Status)
	Apply(session, change, now)

	// intermission → question_active (раунд 1)
	change, err = Transition(session, quiz, CmdNextQuestion, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusQuestionActive, change.Status)
	assert.Equal(t, 1, change.CurrentRound)
	Apply(session, change, now)

	// Проходим раунд 1 и исчерпываем вопросы: intermission → results
	change, _ = Transition(session, quiz, CmdLockRound, now)
	Apply(session, change, now)
	change, _ = Transition(session, quiz, CmdRevealRound, now)
	Apply(session, change, now)

	change, err = Transition(session, quiz, CmdNextQuestion, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusResults, change.Status)
	Apply(session, change, now)

	// results → closed
	change, err = Transition(session, quiz, CmdCloseResults, now)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusClosed, change.Status)
	assert.Equal(t, entity.SessionCloseReasonCompleted, change.CloseReason)
	assert.Contains(t, change.Effects, EffectEnqueueFacts)
	Apply(session, change, now)
	require.NotNil(t, session.ClosedAt)
}

func TestTransition_IllegalCommandKeepsState(t *testing.T) {
	now := time.Now()
	quiz := testQuiz(1)
	session := testSession(entity.SessionStatusWaiting, -1)
	versionBefore := session.Version

	// Ответы в waiting не принимаются, lock тоже не допустим
	_, err := Transition(session, quiz, CmdLockRound, now)

	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	// Состояние не изменилось: Transition чистая, Apply не вызывался
	assert.Equal(t, entity.SessionStatusWaiting, session.Status)
	assert.Equal(t, versionBefore, session.Version)
}

func TestTransition_EndSessionFromAnyState(t *testing.T) {
	now := time.Now()
	quiz := testQuiz(2)

	for _, status := range []string{
		entity.SessionStatusCreated,
		entity.SessionStatusWaiting,
		entity.SessionStatusQuestionActive,
		entity.SessionStatusIntermission,
		entity.SessionStatusResults,
	} {
		session := testSession(status, 0)
		change, err := Transition(session, quiz, CmdEndSession, now)
		require.NoError(t, err, "end_session из %q", status)
		assert.Equal(t, entity.SessionStatusClosed, change.Status)
		assert.Equal(t, entity.SessionCloseReasonEnded, change.CloseReason)
		assert.Contains(t, change.Effects, EffectCancelTimers)
	}
}

func TestTransition_AbandonSessionSetsOwnReason(t *testing.T) {
	now := time.Now()
	quiz := testQuiz(2)

	for _, status := range []string{
		entity.SessionStatusCreated,
		entity.SessionStatusWaiting,
		entity.SessionStatusQuestionActive,
	} {
		session := testSession(status, 0)
		change, err := Transition(session, quiz, CmdAbandonSession, now)
		require.NoError(t, err, "abandon_session из %q", status)
		assert.Equal(t, entity.SessionStatusClosed, change.Status)
		assert.Equal(t, entity.SessionCloseReasonAbandoned, change.CloseReason)
		assert.Contains(t, change.Effects, EffectEnqueueFacts)
	}
}

func TestTransition_ClosedSessionRejectsEverything(t *testing.T) {
	now := time.Now()
	quiz := testQuiz(1)
	session := testSession(entity.SessionStatusClosed, 0)

	for _, cmd := range []Command{CmdOpenLobby, CmdStart, CmdNextQuestion, CmdEndSession, CmdLockRound} {
		_, err := Transition(session, quiz, cmd, now)
		assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition, "команда %q", cmd)
	}
}

func TestTransition_StartWithoutQuestions(t *testing.T) {
	now := time.Now()
	session := testSession(entity.SessionStatusWaiting, -1)

	_, err := Transition(session, &entity.Quiz{ID: 1}, CmdStart, now)

	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

func TestTransition_Deterministic(t *testing.T) {
	// Одинаковые входы дают одинаковый результат
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	quiz := testQuiz(3)
	session := testSession(entity.SessionStatusWaiting, -1)

	first, err1 := Transition(session, quiz, CmdStart, now)
	second, err2 := Transition(session, quiz, CmdStart, now)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}
