package sessionmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

func scoringQuestion() *entity.Question {
	return &entity.Question{
		ID:             1,
		Text:           "Вопрос",
		Options:        entity.StringArray{"A", "B", "C", "D"},
		CorrectOptions: entity.IntArray{1, 3},
		TimeLimitSec:   10,
		BasePoints:     100,
	}
}

func TestScoreSubmission_ExactSetRequired(t *testing.T) {
	q := scoringQuestion()
	cfg := ScoringConfig{}

	// Точное множество: порядок не важен
	score := ScoreSubmission(q, []int{3, 1}, 5*time.Second, cfg)
	assert.True(t, score.IsCorrect)
	assert.Equal(t, 100, score.BaseScore)

	// Подмножество правильных - не зачет без частичного зачета
	score = ScoreSubmission(q, []int{1}, 5*time.Second, cfg)
	assert.False(t, score.IsCorrect)
	assert.Equal(t, 0, score.Total())

	// Надмножество - тоже не зачет
	score = ScoreSubmission(q, []int{1, 3, 0}, 5*time.Second, cfg)
	assert.False(t, score.IsCorrect)
	assert.Equal(t, 0, score.Total())
}

func TestScoreSubmission_PartialCredit(t *testing.T) {
	q := scoringQuestion()
	cfg := ScoringConfig{PartialCredit: true}

	// Один правильный из двух: 100 × 1/2 = 50
	score := ScoreSubmission(q, []int{1}, 5*time.Second, cfg)
	assert.False(t, score.IsCorrect)
	assert.Equal(t, 50, score.BaseScore)

	// Один правильный + один неправильный: 100 × (1-1)/2 = 0
	score = ScoreSubmission(q, []int{1, 0}, 5*time.Second, cfg)
	assert.Equal(t, 0, score.BaseScore)

	// Только неправильные: штраф упирается в нижнюю границу 0
	score = ScoreSubmission(q, []int{0, 2}, 5*time.Second, cfg)
	assert.Equal(t, 0, score.BaseScore)
}

func TestScoreSubmission_SpeedBonus(t *testing.T) {
	q := scoringQuestion()
	cfg := ScoringConfig{SpeedBonus: true}

	// Ответ на 3-й секунде из 10: бонус = round(100 × (1 - 3/10)) = 70
	score := ScoreSubmission(q, []int{1, 3}, 3*time.Second, cfg)
	assert.True(t, score.IsCorrect)
	assert.Equal(t, 100, score.BaseScore)
	assert.Equal(t, 70, score.BonusScore)
	assert.Equal(t, 170, score.Total())

	// Ответ ровно на дедлайне: бонус 0, база остается
	score = ScoreSubmission(q, []int{1, 3}, 10*time.Second, cfg)
	assert.Equal(t, 0, score.BonusScore)
	assert.Equal(t, 100, score.Total())

	// Неправильный ответ бонуса не получает
	score = ScoreSubmission(q, []int{0}, time.Second, cfg)
	assert.Equal(t, 0, score.Total())
}

func TestComputeLeaderboard_TieBreaks(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	participants := []entity.Participant{
		{ID: 1, DisplayName: "alice", JoinOrder: 1, Score: 100, ScoreReachedAt: base.Add(20 * time.Second)},
		{ID: 2, DisplayName: "bob", JoinOrder: 2, Score: 150, ScoreReachedAt: base.Add(30 * time.Second)},
		// carol набрала те же 100 раньше alice - выше при равенстве очков
		{ID: 3, DisplayName: "carol", JoinOrder: 3, Score: 100, ScoreReachedAt: base.Add(10 * time.Second)},
		// dave полностью равен alice по очкам и времени - решает порядок присоединения
		{ID: 4, DisplayName: "dave", JoinOrder: 4, Score: 100, ScoreReachedAt: base.Add(20 * time.Second)},
	}

	entries := ComputeLeaderboard(participants)

	assert.Equal(t, []uint{2, 3, 1, 4}, []uint{
		entries[0].ParticipantID,
		entries[1].ParticipantID,
		entries[2].ParticipantID,
		entries[3].ParticipantID,
	})
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 4, entries[3].Rank)

	// Вход не мутируется
	assert.Equal(t, uint(1), participants[0].ID)
}

func TestReplayScores_MatchesStoredTotals(t *testing.T) {
	quiz := testQuiz(2)
	cfg := ScoringConfig{SpeedBonus: true}

	// Сценарий: A отвечает на первый вопрос правильно на 3-й секунде,
	// на второй - неправильно; B не отвечает вовсе.
	submissions := []entity.Submission{
		{ParticipantID: 1, QuestionID: 1, RoundIndex: 0, SelectedOptions: entity.IntArray{1}, ElapsedMs: 3000},
		{ParticipantID: 1, QuestionID: 2, RoundIndex: 1, SelectedOptions: entity.IntArray{0}, ElapsedMs: 4000},
	}

	totals := ReplayScores(quiz.Questions, submissions, cfg)

	// base 100 + bonus round(100 × (1 - 3/10)) = 170, второй вопрос - 0
	assert.Equal(t, 170, totals[1])
	_, hasB := totals[2]
	assert.False(t, hasB)

	// Детерминизм: повторный пересчет дает тот же результат
	assert.Equal(t, totals, ReplayScores(quiz.Questions, submissions, cfg))
}
