package sessionmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
)

// CommandProcessor отвечает за команды участников: присоединение,
// выход и прием ответов. Переходы состояния сессии остаются за воркером.
type CommandProcessor struct {
	config *Config
	deps   *Dependencies
}

// NewCommandProcessor создает новый процессор команд участников
func NewCommandProcessor(config *Config, deps *Dependencies) *CommandProcessor {
	return &CommandProcessor{
		config: config,
		deps:   deps,
	}
}

// presenceKey - множество подключенных участников сессии в Redis
func presenceKey(sessionID uint) string {
	return fmt.Sprintf("session:%d:present", sessionID)
}

// Join добавляет участника в сессию.
// Имя должно быть уникальным внутри сессии; коллизия определяется
// по unique constraint, а не предварительным SELECT, чтобы не было гонки.
func (cp *CommandProcessor) Join(ctx context.Context, state *ActiveSessionState, userID uint, displayName string) (*entity.Participant, error) {
	session := state.GetSession()

	if !session.AcceptsJoins() {
		return nil, fmt.Errorf("%w: session %q does not accept joins", apperrors.ErrInvalidStateTransition, session.Status)
	}
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", apperrors.ErrValidation)
	}

	// Повторный join того же пользователя - переподключение, не ошибка
	if userID != 0 {
		existing, err := cp.deps.ParticipantRepo.GetBySessionAndUser(session.ID, userID)
		if err == nil {
			cp.markPresent(session.ID, existing.ID)
			log.Printf("[CommandProcessor] Участник #%d переподключился к сессии #%d", existing.ID, session.ID)
			return existing, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	now := cp.deps.Clock()
	participant := &entity.Participant{
		SessionID:      session.ID,
		UserID:         userID,
		DisplayName:    displayName,
		Score:          0,
		ScoreReachedAt: now,
		JoinedAt:       now,
	}

	// Номер присоединения и вставка в одной транзакции
	err := cp.withTx(func(tx *gorm.DB) error {
		order, err := cp.deps.ParticipantRepo.NextJoinOrder(tx, session.ID)
		if err != nil {
			return err
		}
		participant.JoinOrder = order
		return cp.deps.ParticipantRepo.Create(tx, participant)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to join session #%d: %w", session.ID, err)
	}

	cp.markPresent(session.ID, participant.ID)

	if errTouch := cp.deps.SessionRepo.TouchActivity(session.ID, now); errTouch != nil {
		log.Printf("[CommandProcessor] WARNING: Не удалось обновить активность сессии #%d: %v", session.ID, errTouch)
	}

	log.Printf("[CommandProcessor] Участник %q (#%d) присоединился к сессии #%d", displayName, participant.ID, session.ID)
	return participant, nil
}

// Leave помечает участника отключившимся.
// Выход не отменяет раунд и не удаляет накопленные очки.
func (cp *CommandProcessor) Leave(ctx context.Context, state *ActiveSessionState, participantID uint) error {
	session := state.GetSession()
	if err := cp.deps.CacheRepo.SRem(presenceKey(session.ID), fmt.Sprintf("%d", participantID)); err != nil {
		log.Printf("[CommandProcessor] WARNING: Не удалось убрать участника #%d из присутствующих: %v", participantID, err)
	}
	log.Printf("[CommandProcessor] Участник #%d покинул сессию #%d", participantID, session.ID)
	return nil
}

// SubmitAnswer принимает ответ участника на текущий раунд.
//
// Порядок проверок:
//  1. Раунд открыт (question_active) и ответ пришел не позже дедлайна.
//  2. Сохранение в БД: unique constraint отсекает повторный ответ,
//     первый принятый ответ не перезаписывается.
//  3. Обновление счета участника в той же транзакции.
func (cp *CommandProcessor) SubmitAnswer(ctx context.Context, state *ActiveSessionState, participant *entity.Participant, selected []int) (*RoundScore, error) {
	session := state.GetSession()
	question := state.CurrentQuestion()

	if !session.RoundOpen() || question == nil {
		return nil, fmt.Errorf("%w: no open round in state %q", apperrors.ErrInvalidStateTransition, session.Status)
	}
	if !question.IsValidSelection(selected) {
		return nil, fmt.Errorf("%w: selected option out of range", apperrors.ErrValidation)
	}

	// Серверное время получения - единственный источник истины для дедлайна
	receivedAt := cp.deps.Clock()
	if session.RoundDeadline != nil && receivedAt.After(*session.RoundDeadline) {
		log.Printf("[CommandProcessor] Ответ участника #%d на раунд %d сессии #%d пришел после дедлайна",
			participant.ID, session.CurrentRound, session.ID)
		return nil, apperrors.ErrDeadlineExceeded
	}

	var elapsed time.Duration
	if session.RoundStartedAt != nil {
		elapsed = receivedAt.Sub(*session.RoundStartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
	}

	score := ScoreSubmission(question, selected, elapsed, ScoringConfig{
		PartialCredit: session.PartialCredit,
		SpeedBonus:    session.SpeedBonus,
	})

	submission := &entity.Submission{
		SessionID:       session.ID,
		ParticipantID:   participant.ID,
		RoundIndex:      session.CurrentRound,
		QuestionID:      question.ID,
		SelectedOptions: entity.IntArray(selected),
		IsCorrect:       score.IsCorrect,
		ElapsedMs:       elapsed.Milliseconds(),
		BaseScore:       score.BaseScore,
		BonusScore:      score.BonusScore,
		SubmittedAt:     receivedAt,
	}

	err := cp.withTx(func(tx *gorm.DB) error {
		if err := cp.deps.SubmissionRepo.Save(tx, submission); err != nil {
			return err
		}
		if score.Total() > 0 {
			newScore := participant.Score + score.Total()
			return cp.deps.ParticipantRepo.UpdateScore(tx, participant.ID, newScore, receivedAt)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateSubmission) {
			log.Printf("[CommandProcessor] Участник #%d уже отвечал на раунд %d сессии #%d",
				participant.ID, session.CurrentRound, session.ID)
			return nil, err
		}
		log.Printf("[CommandProcessor] CRITICAL: Ошибка при сохранении ответа участника #%d: %v", participant.ID, err)
		return nil, fmt.Errorf("failed to save submission: %w", err)
	}

	participant.ApplyGain(score.Total(), receivedAt)

	if errTouch := cp.deps.SessionRepo.TouchActivity(session.ID, receivedAt); errTouch != nil {
		log.Printf("[CommandProcessor] WARNING: Не удалось обновить активность сессии #%d: %v", session.ID, errTouch)
	}

	log.Printf("[CommandProcessor] Ответ участника #%d на раунд %d сессии #%d принят: correct=%t, очки=%d",
		participant.ID, session.CurrentRound, session.ID, score.IsCorrect, score.Total())
	return &score, nil
}

// AllPresentSubmitted проверяет, ответили ли все присутствующие участники
// в текущем раунде. Используется для досрочной блокировки раунда.
func (cp *CommandProcessor) AllPresentSubmitted(state *ActiveSessionState) (bool, error) {
	session := state.GetSession()
	if !session.RoundOpen() {
		return false, nil
	}

	present, err := cp.deps.CacheRepo.SMembers(presenceKey(session.ID))
	if err != nil {
		return false, err
	}
	if len(present) == 0 {
		return false, nil
	}

	submitted, err := cp.deps.SubmissionRepo.CountByRound(session.ID, session.CurrentRound)
	if err != nil {
		return false, err
	}
	return submitted >= int64(len(present)), nil
}

// markPresent добавляет участника в множество присутствующих
func (cp *CommandProcessor) markPresent(sessionID, participantID uint) {
	if err := cp.deps.CacheRepo.SAdd(presenceKey(sessionID), fmt.Sprintf("%d", participantID)); err != nil {
		log.Printf("[CommandProcessor] WARNING: Не удалось отметить участника #%d присутствующим: %v", participantID, err)
	}
}

// withTx выполняет fn внутри транзакции; без подключенной базы (юнит-тесты
// на моках) fn вызывается с nil, репозитории сами подставляют свой источник
func (cp *CommandProcessor) withTx(fn func(tx *gorm.DB) error) error {
	if cp.deps.DB == nil {
		return fn(nil)
	}
	return cp.deps.DB.Transaction(fn)
}
