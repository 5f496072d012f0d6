package sessionclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// ParticipantController - контроллер участника: присоединение, отправка
// ответа и обратный отсчет. Ввод блокируется после отправки ответа и после
// дедлайна; отсчет строится от серверного дедлайна в снимке, локальные часы
// используются только для отображения.
type ParticipantController struct {
	client    *Client
	sessionID uint
	poller    *Poller

	mu            sync.Mutex
	participantID uint
	displayName   string
	// раунд, на который уже отправлен ответ (индекс из снимка)
	answeredRound int
	// смещение серверного времени относительно локальных часов
	clockOffset time.Duration
}

// NewParticipantController создает контроллер участника
func NewParticipantController(client *Client, sessionID uint, pollCfg PollerConfig) *ParticipantController {
	pc := &ParticipantController{
		client:        client,
		sessionID:     sessionID,
		answeredRound: -1,
	}
	pc.poller = NewPoller(client, sessionID, pollCfg)

	userOnSnapshot := pc.poller.OnSnapshot
	pc.poller.OnSnapshot = func(snap *sessionmanager.Snapshot) {
		pc.syncClock(snap)
		if userOnSnapshot != nil {
			userOnSnapshot(snap)
		}
	}
	return pc
}

// Poller возвращает опросчик состояния
func (pc *ParticipantController) Poller() *Poller {
	return pc.poller
}

// ParticipantID возвращает ID участника после присоединения (0 до Join)
func (pc *ParticipantController) ParticipantID() uint {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.participantID
}

// Join присоединяет участника к сессии под указанным именем
func (pc *ParticipantController) Join(ctx context.Context, displayName string) (*sessionmanager.Snapshot, error) {
	result, err := pc.client.Join(ctx, pc.sessionID, displayName)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	pc.participantID = result.Participant.ID
	pc.displayName = result.Participant.DisplayName
	pc.mu.Unlock()

	if result.Snapshot != nil {
		pc.syncClock(result.Snapshot)
	}
	return result.Snapshot, nil
}

// Leave помечает участника покинувшим сессию
func (pc *ParticipantController) Leave(ctx context.Context) error {
	pc.mu.Lock()
	participantID := pc.participantID
	pc.mu.Unlock()
	if participantID == 0 {
		return nil
	}
	return pc.client.Leave(ctx, pc.sessionID, participantID)
}

// Submit отправляет ответ на текущий активный раунд.
// Возвращает ErrConnectionLost, пока опросчик не восстановил связь,
// ErrRoundNotActive вне активного раунда или после дедлайна
// и ErrAlreadySubmitted при повторной попытке ответить на тот же раунд.
func (pc *ParticipantController) Submit(ctx context.Context, selected []int) (*AnswerResult, error) {
	// Без свежих снимков локальное представление о раунде устарело
	if pc.poller.ConnectionLost() {
		return nil, ErrConnectionLost
	}
	snapshot := pc.poller.Snapshot()
	if snapshot == nil || snapshot.Status != "question_active" || snapshot.CurrentRound == nil {
		return nil, ErrRoundNotActive
	}
	round := snapshot.CurrentRound

	pc.mu.Lock()
	if pc.answeredRound == round.Index {
		pc.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	participantID := pc.participantID
	offset := pc.clockOffset
	pc.mu.Unlock()

	// Дедлайн проверяется по серверным часам (локальное время + смещение).
	// Сервер все равно отвергнет опоздавший ответ - это только ранний отказ.
	if time.Now().Add(offset).After(round.Deadline) {
		return nil, ErrRoundNotActive
	}

	result, err := pc.client.SubmitAnswer(ctx, pc.sessionID, participantID, selected, uuid.New().String())
	if err != nil {
		return nil, err
	}
	// Сервер мог закрыть прием, пока запрос был в пути
	if !result.Accepted {
		return nil, ErrRoundNotActive
	}

	pc.mu.Lock()
	pc.answeredRound = round.Index
	pc.mu.Unlock()

	return result, nil
}

// CanSubmit сообщает, принимает ли текущий раунд ответ этого участника
func (pc *ParticipantController) CanSubmit() bool {
	snapshot := pc.poller.Snapshot()
	if snapshot == nil || snapshot.Status != "question_active" || snapshot.CurrentRound == nil {
		return false
	}

	pc.mu.Lock()
	answered := pc.answeredRound == snapshot.CurrentRound.Index
	offset := pc.clockOffset
	pc.mu.Unlock()

	if answered {
		return false
	}
	return !time.Now().Add(offset).After(snapshot.CurrentRound.Deadline)
}

// RemainingTime возвращает оставшееся время текущего раунда
// по серверным часам (0 вне активного раунда)
func (pc *ParticipantController) RemainingTime() time.Duration {
	snapshot := pc.poller.Snapshot()
	if snapshot == nil || snapshot.CurrentRound == nil {
		return 0
	}

	pc.mu.Lock()
	offset := pc.clockOffset
	pc.mu.Unlock()

	remaining := snapshot.CurrentRound.Deadline.Sub(time.Now().Add(offset))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// syncClock обновляет смещение серверного времени по полученному снимку
func (pc *ParticipantController) syncClock(snap *sessionmanager.Snapshot) {
	offset := time.Until(snap.ServerTime)
	pc.mu.Lock()
	pc.clockOffset = offset
	pc.mu.Unlock()
}
