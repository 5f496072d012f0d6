package sessionclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// fakeSessionServer имитирует API живой сессии для тестов контроллера участника
type fakeSessionServer struct {
	t        *testing.T
	snapshot *sessionmanager.Snapshot
	submits  int
}

func (f *fakeSessionServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/5/join":
			result := JoinResult{Snapshot: f.snapshot}
			result.Participant.ID = 31
			result.Participant.SessionID = 5
			result.Participant.DisplayName = "Айгерим"
			json.NewEncoder(w).Encode(result)
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/5/answer":
			f.submits++
			json.NewEncoder(w).Encode(AnswerResult{Accepted: true, IsCorrect: true, BaseScore: 100, BonusScore: 40, TotalScore: 140})
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/5/state":
			json.NewEncoder(w).Encode(f.snapshot)
		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func activeRoundSnapshot(deadline time.Time) *sessionmanager.Snapshot {
	return &sessionmanager.Snapshot{
		SessionID:   5,
		Status:      "question_active",
		Version:     4,
		RoundsTotal: 3,
		CurrentRound: &sessionmanager.RoundView{
			Index:        0,
			QuestionID:   21,
			Text:         "Столица Казахстана?",
			Options:      []string{"Алматы", "Астана", "Шымкент"},
			TimeLimitSec: 20,
			StartedAt:    time.Now(),
			Deadline:     deadline,
		},
		ServerTime: time.Now(),
	}
}

func TestParticipantController_SubmitOncePerRound(t *testing.T) {
	// Arrange
	server := &fakeSessionServer{t: t, snapshot: activeRoundSnapshot(time.Now().Add(15 * time.Second))}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	pc := NewParticipantController(NewClient(ts.URL), 5, PollerConfig{})
	_, err := pc.Join(context.Background(), "Айгерим")
	require.NoError(t, err)
	assert.Equal(t, uint(31), pc.ParticipantID())

	// снимок доставляем напрямую, без запуска опросчика
	pc.poller.recordSuccess(server.snapshot)
	require.True(t, pc.CanSubmit())

	// Act: первый ответ принимается
	result, err := pc.Submit(context.Background(), []int{1})
	require.NoError(t, err)
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 140, result.TotalScore)

	// Assert: повторный ответ на тот же раунд блокируется локально
	_, err = pc.Submit(context.Background(), []int{0})
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.False(t, pc.CanSubmit())
	assert.Equal(t, 1, server.submits)
}

func TestParticipantController_RejectsAfterDeadline(t *testing.T) {
	// Arrange: дедлайн раунда уже прошел
	server := &fakeSessionServer{t: t, snapshot: activeRoundSnapshot(time.Now().Add(-time.Second))}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	pc := NewParticipantController(NewClient(ts.URL), 5, PollerConfig{})
	_, err := pc.Join(context.Background(), "Айгерим")
	require.NoError(t, err)

	pc.poller.recordSuccess(server.snapshot)

	// Act
	_, err = pc.Submit(context.Background(), []int{1})

	// Assert: ответ не ушел на сервер
	assert.ErrorIs(t, err, ErrRoundNotActive)
	assert.Equal(t, 0, server.submits)
	assert.Equal(t, time.Duration(0), pc.RemainingTime())
}

func TestParticipantController_RejectsWhenConnectionLost(t *testing.T) {
	// Arrange: раунд активен, но опросчик давно не получал снимков
	server := &fakeSessionServer{t: t, snapshot: activeRoundSnapshot(time.Now().Add(15 * time.Second))}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	pc := NewParticipantController(NewClient(ts.URL), 5, PollerConfig{})
	_, err := pc.Join(context.Background(), "Айгерим")
	require.NoError(t, err)

	pc.poller.recordSuccess(server.snapshot)
	pc.poller.mu.Lock()
	pc.poller.lost = true
	pc.poller.mu.Unlock()

	// Act
	_, err = pc.Submit(context.Background(), []int{1})

	// Assert: ответ не ушел на сервер, локальный снимок мог устареть
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 0, server.submits)

	// Восстановление связи снова открывает прием
	pc.poller.recordSuccess(server.snapshot)
	_, err = pc.Submit(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, server.submits)
}

func TestParticipantController_RejectsOutsideActiveRound(t *testing.T) {
	// Arrange: сессия в лобби, раунда нет
	server := &fakeSessionServer{t: t, snapshot: &sessionmanager.Snapshot{
		SessionID:  5,
		Status:     "waiting",
		ServerTime: time.Now(),
	}}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	pc := NewParticipantController(NewClient(ts.URL), 5, PollerConfig{})
	_, err := pc.Join(context.Background(), "Айгерим")
	require.NoError(t, err)

	pc.poller.recordSuccess(server.snapshot)

	// Act
	_, err = pc.Submit(context.Background(), []int{0})

	// Assert
	assert.ErrorIs(t, err, ErrRoundNotActive)
	assert.False(t, pc.CanSubmit())
}

func TestParticipantController_NewRoundReenablesInput(t *testing.T) {
	// Arrange
	server := &fakeSessionServer{t: t, snapshot: activeRoundSnapshot(time.Now().Add(15 * time.Second))}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	pc := NewParticipantController(NewClient(ts.URL), 5, PollerConfig{})
	_, err := pc.Join(context.Background(), "Айгерим")
	require.NoError(t, err)

	pc.poller.recordSuccess(server.snapshot)
	_, err = pc.Submit(context.Background(), []int{1})
	require.NoError(t, err)
	require.False(t, pc.CanSubmit())

	// Act: приходит снимок со следующим раундом
	next := activeRoundSnapshot(time.Now().Add(15 * time.Second))
	next.CurrentRound.Index = 1
	next.CurrentRound.QuestionID = 22
	server.snapshot = next
	pc.poller.recordSuccess(next)

	// Assert
	assert.True(t, pc.CanSubmit())

	result, err := pc.Submit(context.Background(), []int{2})
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 2, server.submits)
}
