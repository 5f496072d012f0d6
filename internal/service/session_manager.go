package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// FactEnqueuer принимает факты закрытой сессии в очередь достижений
type FactEnqueuer interface {
	EnqueueSessionFacts(ctx context.Context, session *entity.Session) error
}

// SessionManager координирует живые сессии викторин.
// Каждая сессия обслуживается собственным воркером: все переходы состояния
// одной сессии применяются строго последовательно, сессии между собой
// полностью независимы.
type SessionManager struct {
	// Компоненты системы
	commandProcessor *sessionmanager.CommandProcessor
	timers           *sessionmanager.RoundTimers

	// Репозитории для прямого доступа
	deps   *sessionmanager.Dependencies
	config *sessionmanager.Config

	// Очередь достижений
	facts FactEnqueuer

	// Воркеры активных сессий
	workers sync.Map // map[uint]*sessionWorker

	// Контекст для управления жизненным циклом
	ctx    context.Context
	cancel context.CancelFunc
}

// sessionWorker - однопоточный исполнитель команд одной сессии
type sessionWorker struct {
	state     *sessionmanager.ActiveSessionState
	requests  chan workerRequest
	closeOnce sync.Once
}

type workerRequest struct {
	cmd   sessionmanager.Command
	token string
	// Раунд, к которому привязана внутренняя команда;
	// roundAny для команд без привязки
	round   int
	replyCh chan workerReply
}

// roundAny отключает проверку раунда для команд ведущего и внешних вызовов
const roundAny = -1

type workerReply struct {
	snapshot *sessionmanager.Snapshot
	err      error
}

// NewSessionManager создает новый менеджер сессий
func NewSessionManager(deps *sessionmanager.Dependencies, facts FactEnqueuer) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())

	config := deps.Config
	if config == nil {
		config = sessionmanager.DefaultConfig()
		deps.Config = config
	}

	sm := &SessionManager{
		commandProcessor: sessionmanager.NewCommandProcessor(config, deps),
		timers:           sessionmanager.NewRoundTimers(config),
		deps:             deps,
		config:           config,
		facts:            facts,
		ctx:              ctx,
		cancel:           cancel,
	}

	// Запускаем слушателя таймеров и реапер заброшенных сессий
	go sm.handleTimerEvents()
	go sm.runReaper()

	log.Println("[SessionManager] Менеджер сессий успешно инициализирован")
	return sm
}

// CreateSession создает новую сессию для набора вопросов.
// Код присоединения генерируется заново при коллизии с активной сессией.
func (sm *SessionManager) CreateSession(ctx context.Context, quizID, hostUserID uint, hostPasscode string, partialCredit, speedBonus bool) (*entity.Session, error) {
	quiz, err := sm.deps.QuizRepo.GetWithQuestions(quizID)
	if err != nil {
		return nil, fmt.Errorf("quiz #%d: %w", quizID, err)
	}
	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", apperrors.ErrValidation)
	}
	sm.applyQuestionDefaults(quiz)

	var passcodeHash string
	if hostPasscode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(hostPasscode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash host passcode: %w", err)
		}
		passcodeHash = string(hash)
	}

	now := sm.deps.Clock()
	session := &entity.Session{
		QuizID:           quizID,
		HostUserID:       hostUserID,
		HostPasscodeHash: passcodeHash,
		Status:           entity.SessionStatusCreated,
		Version:          0,
		CurrentRound:     -1,
		PartialCredit:    partialCredit,
		SpeedBonus:       speedBonus,
		IntermissionSec:  sm.config.IntermissionSec,
		LastActivityAt:   now,
	}

	for attempt := 0; attempt < sm.config.MaxJoinCodeAttempts; attempt++ {
		code, err := sessionmanager.GenerateJoinCode(sm.config.JoinCodeLength)
		if err != nil {
			return nil, err
		}
		session.JoinCode = code

		err = sm.deps.SessionRepo.Create(session)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrJoinCodeTaken) {
			log.Printf("[SessionManager] Код %s занят активной сессией, генерирую новый (попытка %d)", code, attempt+1)
			continue
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	if session.ID == 0 {
		return nil, fmt.Errorf("create session: could not allocate unique join code")
	}

	sm.workers.Store(session.ID, sm.newWorker(session, quiz))

	log.Printf("[SessionManager] Сессия #%d создана для набора #%d, код присоединения %s", session.ID, quizID, session.JoinCode)
	return session, nil
}

// ResolveJoinCode находит активную сессию по коду присоединения
func (sm *SessionManager) ResolveJoinCode(joinCode string) (*entity.Session, error) {
	return sm.deps.SessionRepo.GetActiveByJoinCode(joinCode)
}

// VerifyHostPasscode проверяет код ведущего сессии
func (sm *SessionManager) VerifyHostPasscode(session *entity.Session, passcode string) error {
	if session.HostPasscodeHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(session.HostPasscodeHash), []byte(passcode)); err != nil {
		return apperrors.ErrForbidden
	}
	return nil
}

// applyQuestionDefaults подставляет лимит времени по умолчанию
// вопросам, у которых он не задан
func (sm *SessionManager) applyQuestionDefaults(quiz *entity.Quiz) {
	if quiz == nil {
		return
	}
	for i := range quiz.Questions {
		if quiz.Questions[i].TimeLimitSec <= 0 {
			quiz.Questions[i].TimeLimitSec = sm.config.DefaultTimeLimitSec
		}
	}
}

// Dispatch выполняет команду жизненного цикла сессии.
//
// Идемпотентность: результат каждой команды с токеном сохраняется в Redis;
// повтор с тем же токеном возвращает сохраненный снапшот, не применяя
// переход второй раз. Воркер сессии сериализует обработку, поэтому два
// одновременных повтора не применятся оба.
func (sm *SessionManager) Dispatch(ctx context.Context, sessionID uint, cmd sessionmanager.Command, token string) (*sessionmanager.Snapshot, error) {
	return sm.dispatch(ctx, sessionID, cmd, token, roundAny)
}

// dispatchRound выполняет внутреннюю команду, привязанную к раунду.
// Если сессия уже перешла на другой раунд, команда будет отвергнута.
func (sm *SessionManager) dispatchRound(ctx context.Context, sessionID uint, cmd sessionmanager.Command, round int) (*sessionmanager.Snapshot, error) {
	return sm.dispatch(ctx, sessionID, cmd, "", round)
}

func (sm *SessionManager) dispatch(ctx context.Context, sessionID uint, cmd sessionmanager.Command, token string, round int) (*sessionmanager.Snapshot, error) {
	worker, err := sm.getWorker(sessionID)
	if err != nil {
		return nil, err
	}

	req := workerRequest{
		cmd:     cmd,
		token:   token,
		round:   round,
		replyCh: make(chan workerReply, 1),
	}

	select {
	case worker.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sm.ctx.Done():
		return nil, fmt.Errorf("session manager is shutting down")
	}

	select {
	case reply := <-req.replyCh:
		return reply.snapshot, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Join присоединяет участника к сессии
func (sm *SessionManager) Join(ctx context.Context, sessionID, userID uint, displayName string) (*entity.Participant, *sessionmanager.Snapshot, error) {
	worker, err := sm.getWorker(sessionID)
	if err != nil {
		return nil, nil, err
	}

	participant, err := sm.commandProcessor.Join(ctx, worker.state, userID, displayName)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := sm.buildSnapshot(worker.state)
	if err != nil {
		return participant, nil, err
	}
	sm.broadcastState(sessionID, snapshot)
	return participant, snapshot, nil
}

// Leave отключает участника от сессии
func (sm *SessionManager) Leave(ctx context.Context, sessionID, participantID uint) error {
	worker, err := sm.getWorker(sessionID)
	if err != nil {
		return err
	}
	return sm.commandProcessor.Leave(ctx, worker.state, participantID)
}

// SubmitAnswer принимает ответ участника на текущий раунд.
// Токен идемпотентности защищает от двойной отправки при ретрае;
// повторный ответ без токена отклоняет unique constraint базы.
func (sm *SessionManager) SubmitAnswer(ctx context.Context, sessionID, participantID uint, selected []int, token string) (*sessionmanager.RoundScore, error) {
	worker, err := sm.getWorker(sessionID)
	if err != nil {
		return nil, err
	}

	if token != "" {
		var cached sessionmanager.RoundScore
		if err := sm.deps.CacheRepo.GetJSON(sm.answerTokenKey(sessionID, token), &cached); err == nil {
			log.Printf("[SessionManager] Повтор ответа с токеном %s в сессии #%d, возвращаю сохраненный результат", token, sessionID)
			return &cached, nil
		}
	}

	participant, err := sm.deps.ParticipantRepo.GetByID(participantID)
	if err != nil {
		return nil, err
	}
	if participant.SessionID != sessionID {
		return nil, fmt.Errorf("%w: participant #%d is not in session #%d", apperrors.ErrForbidden, participantID, sessionID)
	}

	score, err := sm.commandProcessor.SubmitAnswer(ctx, worker.state, participant, selected)
	if err != nil {
		return nil, err
	}

	if token != "" {
		if errCache := sm.deps.CacheRepo.SetJSON(sm.answerTokenKey(sessionID, token), score, sm.config.IdempotencyTTL); errCache != nil {
			log.Printf("[SessionManager] WARNING: Не удалось сохранить результат токена %s: %v", token, errCache)
		}
	}

	// Досрочная блокировка: все присутствующие ответили.
	// Блокировка привязана к текущему раунду: если горутина опоздает
	// и сессия уже перейдет дальше, команда будет отвергнута.
	if sm.config.LockOnAllSubmitted {
		if done, errAll := sm.commandProcessor.AllPresentSubmitted(worker.state); errAll == nil && done {
			round := worker.state.GetSession().CurrentRound
			log.Printf("[SessionManager] Все присутствующие ответили в сессии #%d, блокирую раунд %d досрочно", sessionID, round)
			go func() {
				if _, errLock := sm.dispatchRound(sm.ctx, sessionID, sessionmanager.CmdLockRound, round); errLock != nil &&
					!errors.Is(errLock, apperrors.ErrInvalidStateTransition) {
					log.Printf("[SessionManager] Ошибка досрочной блокировки сессии #%d: %v", sessionID, errLock)
				}
			}()
		}
	}

	return score, nil
}

// GetSnapshot возвращает полный снапшот сессии.
// Чтение не имеет побочных эффектов: два подряд запроса без команд между
// ними возвращают одинаковый результат. Для закрытой сессии, воркер
// которой уже остановлен, отдается последний сохраненный снапшот из кеша.
func (sm *SessionManager) GetSnapshot(ctx context.Context, sessionID uint) (*sessionmanager.Snapshot, error) {
	worker, err := sm.getWorker(sessionID)
	if err != nil {
		var cached sessionmanager.Snapshot
		if errCache := sm.deps.CacheRepo.GetJSON(sm.snapshotKey(sessionID), &cached); errCache == nil {
			return &cached, nil
		}
		return nil, err
	}
	return sm.buildSnapshot(worker.state)
}

// ============================================================================
// Воркеры сессий
// ============================================================================

func (sm *SessionManager) newWorker(session *entity.Session, quiz *entity.Quiz) *sessionWorker {
	worker := &sessionWorker{
		state:    sessionmanager.NewActiveSessionState(session, quiz),
		requests: make(chan workerRequest, 16),
	}
	go sm.runWorker(worker)
	return worker
}

// getWorker возвращает воркер сессии, поднимая его из базы после рестарта
func (sm *SessionManager) getWorker(sessionID uint) (*sessionWorker, error) {
	if stored, ok := sm.workers.Load(sessionID); ok {
		return stored.(*sessionWorker), nil
	}

	session, err := sm.deps.SessionRepo.GetWithQuiz(sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsClosed() {
		return nil, fmt.Errorf("%w: session #%d is closed", apperrors.ErrSessionNotFound, sessionID)
	}
	sm.applyQuestionDefaults(session.Quiz)

	worker := sm.newWorker(session, session.Quiz)
	if actual, loaded := sm.workers.LoadOrStore(sessionID, worker); loaded {
		worker.shutdown()
		return actual.(*sessionWorker), nil
	}

	// После рестарта перевзводим таймер незавершенного раунда
	if session.Status == entity.SessionStatusQuestionActive && session.RoundDeadline != nil {
		sm.timers.ScheduleLock(sm.ctx, sessionID, session.CurrentRound, *session.RoundDeadline)
	}

	log.Printf("[SessionManager] Сессия #%d поднята из базы (статус %q)", sessionID, session.Status)
	return worker, nil
}

func (w *sessionWorker) shutdown() {
	w.closeOnce.Do(func() { close(w.requests) })
}

// runWorker - главный цикл воркера: команды применяются строго по одной
func (sm *SessionManager) runWorker(worker *sessionWorker) {
	for {
		select {
		case <-sm.ctx.Done():
			return
		case req, ok := <-worker.requests:
			if !ok {
				return
			}
			snapshot, err := sm.applyCommand(worker, req.cmd, req.token, req.round)
			req.replyCh <- workerReply{snapshot: snapshot, err: err}
		}
	}
}

// applyCommand применяет одну команду жизненного цикла внутри воркера
func (sm *SessionManager) applyCommand(worker *sessionWorker, cmd sessionmanager.Command, token string, round int) (*sessionmanager.Snapshot, error) {
	sessionID := worker.state.GetSession().ID

	// Повтор команды с тем же токеном возвращает сохраненный результат
	if token != "" {
		var cached sessionmanager.Snapshot
		if err := sm.deps.CacheRepo.GetJSON(sm.commandTokenKey(sessionID, token), &cached); err == nil {
			log.Printf("[SessionManager] Повтор команды %q с токеном %s в сессии #%d", cmd, token, sessionID)
			return &cached, nil
		}
	}

	worker.state.Mu.Lock()
	session := worker.state.Session
	quiz := worker.state.Quiz
	now := sm.deps.Clock()

	// Команда, привязанная к раунду, отвергается, если сессия уже
	// ушла на другой раунд: опоздавший таймер или догнавшая горутина
	// блокировки не должны тронуть следующий вопрос
	if round != roundAny && session.CurrentRound != round {
		worker.state.Mu.Unlock()
		return nil, fmt.Errorf("%w: command %q targets round %d, session #%d is on round %d",
			apperrors.ErrInvalidStateTransition, cmd, round, sessionID, session.CurrentRound)
	}

	change, err := sessionmanager.Transition(session, quiz, cmd, now)
	if err != nil {
		worker.state.Mu.Unlock()
		// Команда не применима: состояние не тронуто, клиент получает
		// актуальный снапшот вместе с ошибкой
		snapshot, snapErr := sm.buildSnapshot(worker.state)
		if snapErr != nil {
			return nil, err
		}
		return snapshot, err
	}

	expectedVersion := session.Version
	updated := *session
	sessionmanager.Apply(&updated, change, now)

	if errCAS := sm.deps.SessionRepo.UpdateCAS(&updated, expectedVersion); errCAS != nil {
		worker.state.Mu.Unlock()
		if errors.Is(errCAS, repository.ErrVersionConflict) {
			// Версия ушла вперед: перечитываем состояние из базы
			sm.reloadSession(worker, sessionID)
		}
		return nil, errCAS
	}

	*session = updated
	worker.state.Mu.Unlock()

	log.Printf("[SessionManager] Сессия #%d: %q, переход в %q (v%d)", sessionID, cmd, updated.Status, updated.Version)

	sm.runEffects(worker, change.Effects)

	snapshot, err := sm.buildSnapshot(worker.state)
	if err != nil {
		return nil, err
	}

	if token != "" {
		if errCache := sm.deps.CacheRepo.SetJSON(sm.commandTokenKey(sessionID, token), snapshot, sm.config.IdempotencyTTL); errCache != nil {
			log.Printf("[SessionManager] WARNING: Не удалось сохранить результат команды %s: %v", token, errCache)
		}
	}

	// Последний снапшот остается читаемым и после остановки воркера
	if errCache := sm.deps.CacheRepo.SetJSON(sm.snapshotKey(sessionID), snapshot, sm.config.SnapshotCacheTTL); errCache != nil {
		log.Printf("[SessionManager] WARNING: Не удалось закешировать снапшот сессии #%d: %v", sessionID, errCache)
	}

	sm.broadcastState(sessionID, snapshot)
	return snapshot, nil
}

// reloadSession перечитывает сессию из базы после конфликта версий
func (sm *SessionManager) reloadSession(worker *sessionWorker, sessionID uint) {
	fresh, err := sm.deps.SessionRepo.GetByID(sessionID)
	if err != nil {
		log.Printf("[SessionManager] Ошибка перечитывания сессии #%d: %v", sessionID, err)
		return
	}
	worker.state.SetSession(fresh)
}

// runEffects выполняет побочные действия перехода
func (sm *SessionManager) runEffects(worker *sessionWorker, effects []sessionmanager.Effect) {
	session := worker.state.GetSession()

	for _, effect := range effects {
		switch effect {
		case sessionmanager.EffectStartRoundTimer:
			if session.RoundDeadline != nil {
				sm.timers.ScheduleLock(sm.ctx, session.ID, session.CurrentRound, *session.RoundDeadline)
			}

		case sessionmanager.EffectScoreRound:
			// Очки уже начислены при приеме ответов; после блокировки
			// остается раскрыть правильный ответ и лидерборд
			go func(id uint, round int) {
				if _, err := sm.dispatchRound(sm.ctx, id, sessionmanager.CmdRevealRound, round); err != nil {
					log.Printf("[SessionManager] Ошибка раскрытия раунда сессии #%d: %v", id, err)
				}
			}(session.ID, session.CurrentRound)

		case sessionmanager.EffectStartIntermissionTimer:
			if sm.config.AutoAdvance && session.IntermissionSec > 0 {
				sm.timers.ScheduleAdvance(sm.ctx, session.ID, session.CurrentRound, time.Duration(session.IntermissionSec)*time.Second)
			}

		case sessionmanager.EffectCancelTimers:
			sm.timers.Cancel(session.ID)

		case sessionmanager.EffectEnqueueFacts:
			// Вопросы хранятся в состоянии воркера; факты достижений
			// должны знать общее число раундов закрытой сессии
			worker.state.Mu.RLock()
			session.Quiz = worker.state.Quiz
			worker.state.Mu.RUnlock()
			sm.enqueueFacts(session)
		}
	}
}

// enqueueFacts ставит факты закрытой сессии в очередь достижений.
// Ошибка очереди логируется и не откатывает закрытие сессии.
func (sm *SessionManager) enqueueFacts(session entity.Session) {
	if sm.facts == nil {
		return
	}
	if err := sm.facts.EnqueueSessionFacts(sm.ctx, &session); err != nil {
		log.Printf("[SessionManager] Ошибка постановки фактов сессии #%d в очередь достижений: %v", session.ID, err)
	}
}

// ============================================================================
// Таймеры и реапер
// ============================================================================

// handleTimerEvents превращает сработавшие таймеры во внутренние команды
func (sm *SessionManager) handleTimerEvents() {
	for {
		select {
		case <-sm.ctx.Done():
			log.Println("[SessionManager] Завершение работы слушателя таймеров")
			return
		case event := <-sm.timers.Events():
			go func(ev sessionmanager.TimerEvent) {
				if _, err := sm.dispatchRound(sm.ctx, ev.SessionID, ev.Cmd, ev.Round); err != nil &&
					!errors.Is(err, apperrors.ErrInvalidStateTransition) {
					log.Printf("[SessionManager] Ошибка команды таймера %q для сессии #%d: %v", ev.Cmd, ev.SessionID, err)
				}
			}(event)
		}
	}
}

// runReaper закрывает сессии без активности дольше AbandonAfter.
// Записи сессии и ответов при этом сохраняются.
func (sm *SessionManager) runReaper() {
	ticker := time.NewTicker(sm.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			log.Println("[SessionManager] Завершение работы реапера")
			return
		case <-ticker.C:
			cutoff := sm.deps.Clock().Add(-sm.config.AbandonAfter)
			stale, err := sm.deps.SessionRepo.GetStale(cutoff, 50)
			if err != nil {
				log.Printf("[SessionManager] Ошибка поиска заброшенных сессий: %v", err)
				continue
			}
			for _, session := range stale {
				log.Printf("[SessionManager] Сессия #%d заброшена (без активности с %v), закрываю", session.ID, session.LastActivityAt)
				if _, err := sm.Dispatch(sm.ctx, session.ID, sessionmanager.CmdAbandonSession, ""); err != nil {
					log.Printf("[SessionManager] Ошибка закрытия заброшенной сессии #%d: %v", session.ID, err)
				}
			}
		}
	}
}

// ============================================================================
// Вспомогательные методы
// ============================================================================

// buildSnapshot собирает снапшот текущего состояния без побочных эффектов
func (sm *SessionManager) buildSnapshot(state *sessionmanager.ActiveSessionState) (*sessionmanager.Snapshot, error) {
	session := state.GetSession()

	participants, err := sm.deps.ParticipantRepo.GetBySession(session.ID)
	if err != nil {
		return nil, fmt.Errorf("load participants of session #%d: %w", session.ID, err)
	}

	present := make(map[uint]bool)
	if members, err := sm.deps.CacheRepo.SMembers(fmt.Sprintf("session:%d:present", session.ID)); err == nil {
		for _, member := range members {
			var id uint
			if _, err := fmt.Sscanf(member, "%d", &id); err == nil {
				present[id] = true
			}
		}
	}

	submitted := 0
	if session.CurrentRound >= 0 {
		if count, err := sm.deps.SubmissionRepo.CountByRound(session.ID, session.CurrentRound); err == nil {
			submitted = int(count)
		}
	}

	state.Mu.RLock()
	quiz := state.Quiz
	state.Mu.RUnlock()

	return sessionmanager.BuildSnapshot(&session, quiz, participants, present, submitted, sm.deps.Clock()), nil
}

// broadcastState рассылает снапшот всем клиентам сессии с повторами
func (sm *SessionManager) broadcastState(sessionID uint, snapshot *sessionmanager.Snapshot) {
	if sm.deps.Broadcaster == nil {
		return
	}

	var err error
	for attempt := 0; attempt < sm.config.MaxRetries; attempt++ {
		if err = sm.deps.Broadcaster.BroadcastToSession(sessionID, "session:state", snapshot); err == nil {
			return
		}
		log.Printf("[SessionManager] Попытка %d рассылки состояния сессии #%d не удалась: %v", attempt+1, sessionID, err)
		time.Sleep(sm.config.RetryInterval)
	}
	log.Printf("[SessionManager] Рассылка состояния сессии #%d не удалась после %d попыток: %v", sessionID, sm.config.MaxRetries, err)
}

func (sm *SessionManager) commandTokenKey(sessionID uint, token string) string {
	return fmt.Sprintf("session:%d:cmd:%s", sessionID, token)
}

func (sm *SessionManager) answerTokenKey(sessionID uint, token string) string {
	return fmt.Sprintf("session:%d:answer:%s", sessionID, token)
}

func (sm *SessionManager) snapshotKey(sessionID uint) string {
	return fmt.Sprintf("session:%d:snapshot", sessionID)
}

// GetSession возвращает сессию по ID
func (sm *SessionManager) GetSession(ctx context.Context, sessionID uint) (*entity.Session, error) {
	return sm.deps.SessionRepo.GetByID(sessionID)
}

// ListSessions возвращает сессии ведущего с пагинацией
func (sm *SessionManager) ListSessions(hostUserID uint, status string, limit, offset int) ([]entity.Session, int64, error) {
	return sm.deps.SessionRepo.ListWithFilters(repository.SessionFilters{
		HostID: hostUserID,
		Status: status,
	}, limit, offset)
}

// SessionResultRow - итоговая строка результатов участника
type SessionResultRow struct {
	Rank          int    `json:"rank"`
	ParticipantID uint   `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correct_count"`
	AnsweredCount int    `json:"answered_count"`
	RoundsTotal   int    `json:"rounds_total"`
}

// GetResults возвращает итоговую таблицу сессии.
// Считается по сохраненным данным, поэтому доступна и после закрытия сессии,
// когда воркер уже остановлен.
func (sm *SessionManager) GetResults(ctx context.Context, sessionID uint) (*entity.Session, []SessionResultRow, error) {
	session, err := sm.deps.SessionRepo.GetWithQuiz(sessionID)
	if err != nil {
		return nil, nil, err
	}

	participants, err := sm.deps.ParticipantRepo.GetBySession(sessionID)
	if err != nil {
		return nil, nil, err
	}
	submissions, err := sm.deps.SubmissionRepo.GetBySession(sessionID)
	if err != nil {
		return nil, nil, err
	}

	correct := make(map[uint]int, len(participants))
	answered := make(map[uint]int, len(participants))
	for _, sub := range submissions {
		answered[sub.ParticipantID]++
		if sub.IsCorrect {
			correct[sub.ParticipantID]++
		}
	}

	roundsTotal := 0
	if session.Quiz != nil {
		roundsTotal = len(session.Quiz.Questions)
	}

	rows := make([]SessionResultRow, 0, len(participants))
	for _, entry := range sessionmanager.ComputeLeaderboard(participants) {
		rows = append(rows, SessionResultRow{
			Rank:          entry.Rank,
			ParticipantID: entry.ParticipantID,
			DisplayName:   entry.DisplayName,
			Score:         entry.Score,
			CorrectCount:  correct[entry.ParticipantID],
			AnsweredCount: answered[entry.ParticipantID],
			RoundsTotal:   roundsTotal,
		})
	}
	return session, rows, nil
}

// RoundStatistics - агрегаты одного раунда
type RoundStatistics struct {
	RoundIndex   int     `json:"round_index"`
	QuestionText string  `json:"question_text"`
	AnswerCount  int     `json:"answer_count"`
	CorrectCount int     `json:"correct_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// SessionStatistics - сводная статистика сессии по раундам
type SessionStatistics struct {
	SessionID        uint              `json:"session_id"`
	Status           string            `json:"status"`
	ParticipantCount int               `json:"participant_count"`
	RoundsTotal      int               `json:"rounds_total"`
	Rounds           []RoundStatistics `json:"rounds"`
}

// GetStatistics считает статистику сессии по сохраненным ответам:
// сколько отвечали, сколько верно и средняя задержка по каждому раунду.
// Как и GetResults, не требует живого воркера.
func (sm *SessionManager) GetStatistics(ctx context.Context, sessionID uint) (*SessionStatistics, error) {
	session, err := sm.deps.SessionRepo.GetWithQuiz(sessionID)
	if err != nil {
		return nil, err
	}

	participantCount, err := sm.deps.ParticipantRepo.CountBySession(sessionID)
	if err != nil {
		return nil, err
	}
	submissions, err := sm.deps.SubmissionRepo.GetBySession(sessionID)
	if err != nil {
		return nil, err
	}

	stats := &SessionStatistics{
		SessionID:        session.ID,
		Status:           session.Status,
		ParticipantCount: int(participantCount),
	}
	if session.Quiz == nil {
		return stats, nil
	}
	stats.RoundsTotal = len(session.Quiz.Questions)

	type roundAgg struct {
		answers int
		correct int
		latency int64
	}
	agg := make(map[int]*roundAgg, stats.RoundsTotal)
	for _, sub := range submissions {
		a := agg[sub.RoundIndex]
		if a == nil {
			a = &roundAgg{}
			agg[sub.RoundIndex] = a
		}
		a.answers++
		if sub.IsCorrect {
			a.correct++
		}
		a.latency += sub.ElapsedMs
	}

	stats.Rounds = make([]RoundStatistics, 0, stats.RoundsTotal)
	for i, question := range session.Quiz.Questions {
		row := RoundStatistics{RoundIndex: i, QuestionText: question.Text}
		if a := agg[i]; a != nil {
			row.AnswerCount = a.answers
			row.CorrectCount = a.correct
			row.AvgLatencyMs = float64(a.latency) / float64(a.answers)
		}
		stats.Rounds = append(stats.Rounds, row)
	}
	return stats, nil
}

// Shutdown корректно завершает работу менеджера сессий
func (sm *SessionManager) Shutdown() {
	log.Println("[SessionManager] Завершение работы менеджера сессий...")
	sm.cancel()
	sm.workers.Range(func(_, value interface{}) bool {
		value.(*sessionWorker).shutdown()
		return true
	})
	log.Println("[SessionManager] Менеджер сессий остановлен")
}
