package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

const (
	// Очередь фактов закрытых сессий в Redis
	factsQueueKey = "achievements:facts"
	// Факты, снятые из очереди, но еще не зафиксированные в базе.
	// После сбоя возвращаются в основную очередь при следующем старте.
	factsProcessingKey = "achievements:facts:processing"
	// Таймаут блокирующего чтения очереди
	factsPopTimeout = 5 * time.Second
	// Сколько раз повторять упавшее правило перед тем, как сдаться
	maxRuleAttempts = 3
)

// AchievementRule - одно детерминированное правило выдачи достижений.
// Evaluate смотрит на факт и накопленную статистику и решает, положено ли
// достижение. Правила обязаны быть чистыми: без записи, без обращений к сети.
type AchievementRule struct {
	ID       string
	Evaluate func(fact *entity.SessionFact, stats *entity.PlayerStats) bool
}

// DefaultRules возвращает упорядоченный список правил.
// Порядок фиксирован: обработка одного факта всегда проходит правила
// в одной и той же последовательности.
func DefaultRules() []AchievementRule {
	return []AchievementRule{
		{
			ID: "first_session",
			Evaluate: func(fact *entity.SessionFact, stats *entity.PlayerStats) bool {
				return stats.SessionsCompleted == 1
			},
		},
		{
			ID: "veteran_10",
			Evaluate: func(fact *entity.SessionFact, stats *entity.PlayerStats) bool {
				return stats.SessionsCompleted >= 10
			},
		},
		{
			ID: "perfect_score",
			Evaluate: func(fact *entity.SessionFact, stats *entity.PlayerStats) bool {
				return fact.RoundsTotal > 0 && fact.CorrectCount == fact.RoundsTotal
			},
		},
		{
			ID: "first_place",
			Evaluate: func(fact *entity.SessionFact, stats *entity.PlayerStats) bool {
				return fact.Rank == 1
			},
		},
		{
			ID: "quick_draw",
			Evaluate: func(fact *entity.SessionFact, stats *entity.PlayerStats) bool {
				return fact.BestElapsedMs > 0 && fact.BestElapsedMs < 2000
			},
		},
	}
}

// AchievementNotifier доставляет события о выданных достижениях.
// Доставка at-least-once: получатель обязан переживать повторы.
type AchievementNotifier interface {
	NotifyAchievementGranted(ctx context.Context, grant *entity.AchievementGrant, fact *entity.SessionFact)
}

// AchievementService - асинхронный обработчик фактов закрытых сессий.
// Факты ставятся в Redis-очередь ровно один раз на пару (сессия, участник),
// обрабатываются at-least-once; повтор распознается по отметке
// achievement_fact_receipts, идемпотентность выдачи дополнительно
// страхует уникальный индекс (user_id, rule).
type AchievementService struct {
	db              *gorm.DB
	achievementRepo repository.AchievementRepository
	participantRepo repository.ParticipantRepository
	submissionRepo  repository.SubmissionRepository
	cacheRepo       repository.CacheRepository
	rules           []AchievementRule
	notifier        AchievementNotifier
}

// NewAchievementService создает новый сервис достижений
func NewAchievementService(
	db *gorm.DB,
	achievementRepo repository.AchievementRepository,
	participantRepo repository.ParticipantRepository,
	submissionRepo repository.SubmissionRepository,
	cacheRepo repository.CacheRepository,
	notifier AchievementNotifier,
) *AchievementService {
	return &AchievementService{
		db:              db,
		achievementRepo: achievementRepo,
		participantRepo: participantRepo,
		submissionRepo:  submissionRepo,
		cacheRepo:       cacheRepo,
		rules:           DefaultRules(),
		notifier:        notifier,
	}
}

// EnqueueSessionFacts ставит в очередь по одному факту на участника закрытой
// сессии. SetNX гарантирует ровно одну постановку на пару (сессия, участник)
// даже при повторном вызове.
func (s *AchievementService) EnqueueSessionFacts(ctx context.Context, session *entity.Session) error {
	participants, err := s.participantRepo.GetBySession(session.ID)
	if err != nil {
		return fmt.Errorf("load participants of session #%d: %w", session.ID, err)
	}
	if len(participants) == 0 {
		log.Printf("[AchievementService] Сессия #%d закрыта без участников, фактов нет", session.ID)
		return nil
	}

	submissions, err := s.submissionRepo.GetBySession(session.ID)
	if err != nil {
		return fmt.Errorf("load submissions of session #%d: %w", session.ID, err)
	}

	byParticipant := make(map[uint][]entity.Submission)
	for _, sub := range submissions {
		byParticipant[sub.ParticipantID] = append(byParticipant[sub.ParticipantID], sub)
	}

	leaderboard := sessionmanager.ComputeLeaderboard(participants)
	ranks := make(map[uint]int, len(leaderboard))
	for _, entry := range leaderboard {
		ranks[entry.ParticipantID] = entry.Rank
	}

	roundsTotal := 0
	if session.Quiz != nil {
		roundsTotal = len(session.Quiz.Questions)
	}

	closedAt := time.Now()
	if session.ClosedAt != nil {
		closedAt = *session.ClosedAt
	}

	enqueued := 0
	for _, p := range participants {
		fact := entity.SessionFact{
			SessionID:     session.ID,
			ParticipantID: p.ID,
			UserID:        p.UserID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Rank:          ranks[p.ID],
			RoundsTotal:   roundsTotal,
			ClosedAt:      closedAt,
		}
		for _, sub := range byParticipant[p.ID] {
			fact.AnsweredCount++
			if sub.IsCorrect {
				fact.CorrectCount++
			}
			if fact.BestElapsedMs == 0 || sub.ElapsedMs < fact.BestElapsedMs {
				fact.BestElapsedMs = sub.ElapsedMs
			}
		}

		// Ровно одна постановка на пару (сессия, участник)
		markerKey := fmt.Sprintf("session:%d:fact:%d", session.ID, p.ID)
		created, err := s.cacheRepo.SetNX(markerKey, "1", 24*time.Hour)
		if err != nil {
			return fmt.Errorf("mark fact for participant #%d: %w", p.ID, err)
		}
		if !created {
			log.Printf("[AchievementService] Факт (сессия #%d, участник #%d) уже поставлен в очередь", session.ID, p.ID)
			continue
		}

		payload, err := json.Marshal(fact)
		if err != nil {
			return fmt.Errorf("marshal fact for participant #%d: %w", p.ID, err)
		}
		if err := s.cacheRepo.LPush(factsQueueKey, string(payload)); err != nil {
			// Снимаем маркер: факт не попал в очередь, повтор должен пройти
			if errDel := s.cacheRepo.Delete(markerKey); errDel != nil {
				log.Printf("[AchievementService] WARNING: Не удалось снять маркер %s: %v", markerKey, errDel)
			}
			return fmt.Errorf("enqueue fact for participant #%d: %w", p.ID, err)
		}
		enqueued++
	}

	log.Printf("[AchievementService] Сессия #%d: %d фактов поставлено в очередь достижений", session.ID, enqueued)
	return nil
}

// Run - цикл обработчика очереди. Запускается в отдельной горутине,
// завершается по отмене контекста.
//
// Доставка at-least-once: факт атомарно переносится в processing-список
// и удаляется оттуда только после успешной обработки. Факт, зависший
// в processing после сбоя, возвращается в очередь при следующем старте;
// повтор распознается по отметке в achievement_fact_receipts.
func (s *AchievementService) Run(ctx context.Context) {
	log.Println("[AchievementService] Обработчик очереди достижений запущен")
	s.requeueOrphans()

	for {
		select {
		case <-ctx.Done():
			log.Println("[AchievementService] Обработчик очереди достижений остановлен")
			return
		default:
		}

		payload, err := s.cacheRepo.BRPopLPush(factsPopTimeout, factsQueueKey, factsProcessingKey)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue // очередь пуста, ждем дальше
			}
			log.Printf("[AchievementService] Ошибка чтения очереди фактов: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var fact entity.SessionFact
		if err := json.Unmarshal([]byte(payload), &fact); err != nil {
			log.Printf("[AchievementService] Нечитаемый факт отброшен: %v", err)
			s.ackFact(payload)
			continue
		}

		if err := s.ProcessFact(ctx, &fact); err != nil {
			// Факт остается в processing и вернется в очередь после рестарта
			log.Printf("[AchievementService] Ошибка обработки факта (сессия #%d, участник #%d): %v",
				fact.SessionID, fact.ParticipantID, err)
			continue
		}
		s.ackFact(payload)
	}
}

// requeueOrphans возвращает в очередь факты, зависшие в processing
// после падения предыдущего экземпляра обработчика
func (s *AchievementService) requeueOrphans() {
	requeued := 0
	for {
		if _, err := s.cacheRepo.RPopLPush(factsProcessingKey, factsQueueKey); err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				log.Printf("[AchievementService] Ошибка возврата фактов в очередь: %v", err)
			}
			break
		}
		requeued++
	}
	if requeued > 0 {
		log.Printf("[AchievementService] %d необработанных фактов возвращено в очередь", requeued)
	}
}

// ackFact удаляет обработанный факт из processing-списка
func (s *AchievementService) ackFact(payload string) {
	if err := s.cacheRepo.LRem(factsProcessingKey, 1, payload); err != nil {
		log.Printf("[AchievementService] WARNING: Не удалось подтвердить факт: %v", err)
	}
}

// ProcessFact обрабатывает один факт: обновляет статистику игрока и выдает
// достижения по сработавшим правилам. Статистика и выдачи пишутся в одной
// транзакции; падение отдельного правила не блокирует остальные.
func (s *AchievementService) ProcessFact(ctx context.Context, fact *entity.SessionFact) error {
	if fact.UserID == 0 {
		// Анонимные участники не накапливают статистику
		return nil
	}

	var granted []*entity.AchievementGrant

	err := s.withTx(func(tx *gorm.DB) error {
		// Отметка об обработке пишется в той же транзакции, что и статистика:
		// повторно доставленный факт распознается и не трогает счетчики
		claimed, err := s.achievementRepo.SaveFactReceipt(tx, &entity.FactReceipt{
			SessionID:     fact.SessionID,
			ParticipantID: fact.ParticipantID,
			ProcessedAt:   time.Now(),
		})
		if err != nil {
			return fmt.Errorf("claim fact receipt: %w", err)
		}
		if !claimed {
			log.Printf("[AchievementService] Факт (сессия #%d, участник #%d) уже обработан, пропускаю",
				fact.SessionID, fact.ParticipantID)
			return nil
		}

		stats, err := s.achievementRepo.GetStatsForUpdate(tx, fact.UserID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}

		stats.SessionsCompleted++
		stats.TotalScore += int64(fact.Score)
		stats.TotalCorrect += fact.CorrectCount
		stats.TotalAnswered += fact.AnsweredCount
		if fact.RoundsTotal > 0 && fact.CorrectCount == fact.RoundsTotal {
			stats.PerfectSessions++
		}
		if fact.Rank == 1 {
			stats.FirstPlaces++
		}

		for _, rule := range s.rules {
			fired, err := s.evaluateRule(rule, fact, stats)
			if err != nil {
				// Правило исчерпало попытки: логируем и идем дальше,
				// закрытие сессии это не блокирует
				log.Printf("[AchievementService] Правило %s отброшено после %d попыток: %v", rule.ID, maxRuleAttempts, err)
				continue
			}
			if !fired {
				continue
			}

			grant := &entity.AchievementGrant{
				UserID:    fact.UserID,
				Rule:      rule.ID,
				SessionID: fact.SessionID,
				GrantedAt: fact.ClosedAt,
			}
			if err := s.achievementRepo.SaveGrant(tx, grant); err != nil {
				return fmt.Errorf("save grant %s: %w", rule.ID, err)
			}
			if grant.ID != 0 {
				granted = append(granted, grant)
			}
		}

		return s.achievementRepo.SaveStats(tx, stats)
	})
	if err != nil {
		return err
	}

	for _, grant := range granted {
		log.Printf("[AchievementService] Пользователь #%d получил достижение %s (сессия #%d)",
			grant.UserID, grant.Rule, grant.SessionID)
		if s.notifier != nil {
			s.notifier.NotifyAchievementGranted(ctx, grant, fact)
		}
	}
	return nil
}

func (s *AchievementService) withTx(fn func(tx *gorm.DB) error) error {
	if s.db == nil {
		return fn(nil)
	}
	return s.db.Transaction(fn)
}

// evaluateRule выполняет правило с повторами.
// Правила чистые, но evaluate может паниковать на неожиданных данных;
// паника считается падением попытки.
func (s *AchievementService) evaluateRule(rule AchievementRule, fact *entity.SessionFact, stats *entity.PlayerStats) (fired bool, err error) {
	for attempt := 1; attempt <= maxRuleAttempts; attempt++ {
		fired, err = s.tryRule(rule, fact, stats)
		if err == nil {
			return fired, nil
		}
		log.Printf("[AchievementService] Правило %s, попытка %d: %v", rule.ID, attempt, err)
	}
	return false, err
}

func (s *AchievementService) tryRule(rule AchievementRule, fact *entity.SessionFact, stats *entity.PlayerStats) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()
	return rule.Evaluate(fact, stats), nil
}
