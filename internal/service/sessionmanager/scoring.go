package sessionmanager

import (
	"math"
	"sort"
	"time"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
)

// ScoringConfig - настройки подсчета очков одной сессии
type ScoringConfig struct {
	PartialCredit bool // Линейный частичный зачет для вопросов с несколькими ответами
	SpeedBonus    bool // Бонус за скорость для полностью правильных ответов
}

// RoundScore - результат подсчета одного ответа
type RoundScore struct {
	IsCorrect  bool
	BaseScore  int
	BonusScore int
}

// Total возвращает суммарные очки за ответ
func (s RoundScore) Total() int {
	return s.BaseScore + s.BonusScore
}

// ScoreSubmission - чистая функция подсчета очков за один ответ.
// Детерминирована: пересчет по сохраненным ответам всегда дает тот же результат.
//
// Правильность - точное совпадение множества выбранных вариантов.
// Частичный зачет (если включен): base × (выбрано правильных - выбрано неправильных) / всего правильных,
// с округлением и нижней границей 0.
// Бонус за скорость (если включен): round(base × max(0, 1 - elapsed/limit)),
// только для полностью правильных ответов.
func ScoreSubmission(q *entity.Question, selected []int, elapsed time.Duration, cfg ScoringConfig) RoundScore {
	exact := q.IsCorrectSet(selected)

	var base int
	switch {
	case exact:
		base = q.BasePoints
	case cfg.PartialCredit && len(q.CorrectOptions) > 0:
		fraction := float64(q.CorrectCount(selected)-q.IncorrectCount(selected)) / float64(len(q.CorrectOptions))
		base = int(math.Round(float64(q.BasePoints) * fraction))
		if base < 0 {
			base = 0
		}
	default:
		base = 0
	}

	bonus := 0
	if exact && cfg.SpeedBonus {
		limit := time.Duration(q.TimeLimitSec) * time.Second
		if limit > 0 {
			remaining := 1 - float64(elapsed)/float64(limit)
			if remaining < 0 {
				remaining = 0
			}
			bonus = int(math.Round(float64(q.BasePoints) * remaining))
		}
	}

	return RoundScore{IsCorrect: exact, BaseScore: base, BonusScore: bonus}
}

// LeaderboardEntry - строка лидерборда
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID uint   `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
}

// ComputeLeaderboard строит лидерборд по участникам.
// Порядок: очки по убыванию; при равенстве выигрывает тот, кто достиг
// своего счета раньше; при полном равенстве - кто раньше присоединился.
// Функция чистая: не мутирует вход и детерминирована.
func ComputeLeaderboard(participants []entity.Participant) []LeaderboardEntry {
	sorted := make([]entity.Participant, len(participants))
	copy(sorted, participants)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].ScoreReachedAt.Equal(sorted[j].ScoreReachedAt) {
			return sorted[i].ScoreReachedAt.Before(sorted[j].ScoreReachedAt)
		}
		return sorted[i].JoinOrder < sorted[j].JoinOrder
	})

	entries := make([]LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
		})
	}
	return entries
}

// ReplayScores пересчитывает суммарные очки участников по сохраненным ответам.
// Используется для аудита: результат обязан совпадать с накопленными
// score участников.
func ReplayScores(questions []entity.Question, submissions []entity.Submission, cfg ScoringConfig) map[uint]int {
	byID := make(map[uint]*entity.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	totals := make(map[uint]int)
	for _, sub := range submissions {
		q, ok := byID[sub.QuestionID]
		if !ok {
			continue
		}
		score := ScoreSubmission(q, sub.SelectedOptions, time.Duration(sub.ElapsedMs)*time.Millisecond, cfg)
		totals[sub.ParticipantID] += score.Total()
	}
	return totals
}
