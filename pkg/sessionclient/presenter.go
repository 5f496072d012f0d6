package sessionclient

import (
	"context"

	"github.com/google/uuid"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// PresenterController - контроллер ведущего: команды жизненного цикла
// и представление ростера и таблицы лидеров из снимков состояния.
// Каждая команда несет уникальный токен; повтор после сетевой ошибки
// безопасен, сервер вернет прежний результат.
type PresenterController struct {
	client       *Client
	sessionID    uint
	hostPasscode string
	poller       *Poller
}

// NewPresenterController создает контроллер ведущего поверх клиента API
func NewPresenterController(client *Client, sessionID uint, hostPasscode string, pollCfg PollerConfig) *PresenterController {
	return &PresenterController{
		client:       client,
		sessionID:    sessionID,
		hostPasscode: hostPasscode,
		poller:       NewPoller(client, sessionID, pollCfg),
	}
}

// Poller возвращает опросчик состояния для запуска и подписки на снимки
func (p *PresenterController) Poller() *Poller {
	return p.poller
}

// OpenLobby открывает лобби для присоединения участников
func (p *PresenterController) OpenLobby(ctx context.Context) (*sessionmanager.Snapshot, error) {
	return p.command(ctx, "open_lobby")
}

// Start запускает викторину с первым вопросом
func (p *PresenterController) Start(ctx context.Context) (*sessionmanager.Snapshot, error) {
	return p.command(ctx, "start")
}

// NextQuestion переводит сессию к следующему вопросу или к результатам
func (p *PresenterController) NextQuestion(ctx context.Context) (*sessionmanager.Snapshot, error) {
	return p.command(ctx, "next_question")
}

// EndSession досрочно завершает сессию
func (p *PresenterController) EndSession(ctx context.Context) (*sessionmanager.Snapshot, error) {
	return p.command(ctx, "end_session")
}

func (p *PresenterController) command(ctx context.Context, command string) (*sessionmanager.Snapshot, error) {
	return p.client.SendCommand(ctx, p.sessionID, command, uuid.New().String(), p.hostPasscode)
}

// Roster возвращает участников из последнего снимка
func (p *PresenterController) Roster() []sessionmanager.ParticipantView {
	snapshot := p.poller.Snapshot()
	if snapshot == nil {
		return nil
	}
	return snapshot.Participants
}

// Leaderboard возвращает таблицу лидеров из последнего снимка
func (p *PresenterController) Leaderboard() []sessionmanager.LeaderboardEntry {
	snapshot := p.poller.Snapshot()
	if snapshot == nil {
		return nil
	}
	return snapshot.Leaderboard
}
