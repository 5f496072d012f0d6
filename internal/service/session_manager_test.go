package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
	apperrors "github.com/yourusername/quizlive-api/internal/pkg/errors"
	redisRepo "github.com/yourusername/quizlive-api/internal/repository/redis"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

// ============================================================================
// Стейтфул-фейки репозиториев для сценарных тестов.
// В отличие от моков, хранят данные между вызовами: полный жизненный цикл
// сессии проходит через них как через настоящую базу.
// ============================================================================

// fakeClock - управляемый источник времени
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeQuizRepo struct {
	mu      sync.Mutex
	quizzes map[uint]*entity.Quiz
}

func newFakeQuizRepo() *fakeQuizRepo {
	return &fakeQuizRepo{quizzes: make(map[uint]*entity.Quiz)}
}

func (r *fakeQuizRepo) Create(quiz *entity.Quiz) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	quiz.ID = uint(len(r.quizzes) + 1)
	r.quizzes[quiz.ID] = quiz
	return nil
}

func (r *fakeQuizRepo) GetByID(id uint) (*entity.Quiz, error) {
	return r.GetWithQuestions(id)
}

func (r *fakeQuizRepo) GetWithQuestions(id uint) (*entity.Quiz, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	quiz, ok := r.quizzes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *quiz
	return &copied, nil
}

func (r *fakeQuizRepo) Update(quiz *entity.Quiz) error { return nil }

func (r *fakeQuizRepo) List(ownerID uint, limit, offset int) ([]entity.Quiz, error) {
	return nil, nil
}

func (r *fakeQuizRepo) Delete(id uint) error { return nil }

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uint]entity.Session
	quizRepo *fakeQuizRepo
	nextID   uint
}

func newFakeSessionRepo(quizRepo *fakeQuizRepo) *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uint]entity.Session), quizRepo: quizRepo, nextID: 1}
}

func (r *fakeSessionRepo) Create(session *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.JoinCode == session.JoinCode && existing.Status != entity.SessionStatusClosed {
			return repository.ErrJoinCodeTaken
		}
	}
	session.ID = r.nextID
	r.nextID++
	r.sessions[session.ID] = *session
	return nil
}

func (r *fakeSessionRepo) GetByID(id uint) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (r *fakeSessionRepo) GetWithQuiz(id uint) (*entity.Session, error) {
	session, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if quiz, err := r.quizRepo.GetWithQuestions(session.QuizID); err == nil {
		session.Quiz = quiz
	}
	return session, nil
}

func (r *fakeSessionRepo) GetActiveByJoinCode(joinCode string) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.JoinCode == joinCode && session.Status != entity.SessionStatusClosed {
			copied := session
			return &copied, nil
		}
	}
	return nil, apperrors.ErrInvalidJoinCode
}

func (r *fakeSessionRepo) UpdateCAS(session *entity.Session, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *fakeSessionRepo) TouchActivity(sessionID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[sessionID]; ok {
		session.LastActivityAt = at
		r.sessions[sessionID] = session
	}
	return nil
}

func (r *fakeSessionRepo) GetStale(cutoff time.Time, limit int) ([]entity.Session, error) {
	return nil, nil
}

func (r *fakeSessionRepo) ListWithFilters(filters repository.SessionFilters, limit, offset int) ([]entity.Session, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.Session
	for _, session := range r.sessions {
		if filters.HostID != 0 && session.HostUserID != filters.HostID {
			continue
		}
		if filters.Status != "" && session.Status != filters.Status {
			continue
		}
		result = append(result, session)
	}
	return result, int64(len(result)), nil
}

type fakeParticipantRepo struct {
	mu           sync.Mutex
	participants map[uint]entity.Participant
	nextID       uint
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{participants: make(map[uint]entity.Participant), nextID: 1}
}

func (r *fakeParticipantRepo) Create(tx *gorm.DB, participant *entity.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.SessionID == participant.SessionID && existing.DisplayName == participant.DisplayName {
			return apperrors.ErrNameTaken
		}
	}
	participant.ID = r.nextID
	r.nextID++
	r.participants[participant.ID] = *participant
	return nil
}

func (r *fakeParticipantRepo) GetByID(id uint) (*entity.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	participant, ok := r.participants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := participant
	return &copied, nil
}

func (r *fakeParticipantRepo) GetBySessionAndUser(sessionID, userID uint) (*entity.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, participant := range r.participants {
		if participant.SessionID == sessionID && participant.UserID == userID {
			copied := participant
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeParticipantRepo) GetBySession(sessionID uint) ([]entity.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.Participant
	for id := uint(1); id < r.nextID; id++ {
		if participant, ok := r.participants[id]; ok && participant.SessionID == sessionID {
			result = append(result, participant)
		}
	}
	return result, nil
}

func (r *fakeParticipantRepo) CountBySession(sessionID uint) (int64, error) {
	participants, _ := r.GetBySession(sessionID)
	return int64(len(participants)), nil
}

func (r *fakeParticipantRepo) NextJoinOrder(tx *gorm.DB, sessionID uint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := 0
	for _, participant := range r.participants {
		if participant.SessionID == sessionID {
			order++
		}
	}
	return order, nil
}

func (r *fakeParticipantRepo) UpdateScore(tx *gorm.DB, participantID uint, score int, reachedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	participant, ok := r.participants[participantID]
	if !ok {
		return apperrors.ErrNotFound
	}
	participant.Score = score
	participant.ScoreReachedAt = reachedAt
	r.participants[participantID] = participant
	return nil
}

func (r *fakeParticipantRepo) Update(participant *entity.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[participant.ID] = *participant
	return nil
}

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions []entity.Submission
}

func (r *fakeSubmissionRepo) Save(tx *gorm.DB, submission *entity.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.submissions {
		if existing.SessionID == submission.SessionID &&
			existing.ParticipantID == submission.ParticipantID &&
			existing.RoundIndex == submission.RoundIndex {
			return apperrors.ErrDuplicateSubmission
		}
	}
	submission.ID = uint(len(r.submissions) + 1)
	r.submissions = append(r.submissions, *submission)
	return nil
}

func (r *fakeSubmissionRepo) GetBySessionAndRound(sessionID uint, roundIndex int) ([]entity.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.Submission
	for _, submission := range r.submissions {
		if submission.SessionID == sessionID && submission.RoundIndex == roundIndex {
			result = append(result, submission)
		}
	}
	return result, nil
}

func (r *fakeSubmissionRepo) GetByParticipant(sessionID, participantID uint) ([]entity.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.Submission
	for _, submission := range r.submissions {
		if submission.SessionID == sessionID && submission.ParticipantID == participantID {
			result = append(result, submission)
		}
	}
	return result, nil
}

func (r *fakeSubmissionRepo) GetBySession(sessionID uint) ([]entity.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.Submission
	for _, submission := range r.submissions {
		if submission.SessionID == sessionID {
			result = append(result, submission)
		}
	}
	return result, nil
}

func (r *fakeSubmissionRepo) CountByRound(sessionID uint, roundIndex int) (int64, error) {
	submissions, _ := r.GetBySessionAndRound(sessionID, roundIndex)
	return int64(len(submissions)), nil
}

// fakeFactEnqueuer считает факты, поставленные в очередь достижений
type fakeFactEnqueuer struct {
	mu       sync.Mutex
	sessions []uint
}

func (f *fakeFactEnqueuer) EnqueueSessionFacts(ctx context.Context, session *entity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session.ID)
	return nil
}

func (f *fakeFactEnqueuer) enqueued() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.sessions...)
}

// fakeAchievementRepo хранит выдачи, статистику и отметки обработки в памяти
type fakeAchievementRepo struct {
	mu       sync.Mutex
	nextID   uint
	grants   []entity.AchievementGrant
	stats    map[uint]*entity.PlayerStats
	receipts map[string]bool
}

func newFakeAchievementRepo() *fakeAchievementRepo {
	return &fakeAchievementRepo{
		stats:    make(map[uint]*entity.PlayerStats),
		receipts: make(map[string]bool),
	}
}

func (r *fakeAchievementRepo) SaveGrant(tx *gorm.DB, grant *entity.AchievementGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if g.UserID == grant.UserID && g.Rule == grant.Rule {
			// Повторная выдача - no-op, ID остается нулевым
			return nil
		}
	}
	r.nextID++
	grant.ID = r.nextID
	r.grants = append(r.grants, *grant)
	return nil
}

func (r *fakeAchievementRepo) GetByUser(userID uint) ([]entity.AchievementGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []entity.AchievementGrant
	for _, g := range r.grants {
		if g.UserID == userID {
			result = append(result, g)
		}
	}
	return result, nil
}

func (r *fakeAchievementRepo) HasGrant(userID uint, rule string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.grants {
		if g.UserID == userID && g.Rule == rule {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAchievementRepo) GetStats(userID uint) (*entity.PlayerStats, error) {
	return r.GetStatsForUpdate(nil, userID)
}

func (r *fakeAchievementRepo) GetStatsForUpdate(tx *gorm.DB, userID uint) (*entity.PlayerStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stats[userID]
	if !ok {
		stats = &entity.PlayerStats{UserID: userID}
		r.stats[userID] = stats
	}
	return stats, nil
}

func (r *fakeAchievementRepo) SaveStats(tx *gorm.DB, stats *entity.PlayerStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[stats.UserID] = stats
	return nil
}

func (r *fakeAchievementRepo) SaveFactReceipt(tx *gorm.DB, receipt *entity.FactReceipt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%d:%d", receipt.SessionID, receipt.ParticipantID)
	if r.receipts[key] {
		return false, nil
	}
	r.receipts[key] = true
	return true, nil
}

// ============================================================================
// Сборка тестового окружения
// ============================================================================

type managerFixture struct {
	manager      *SessionManager
	clock        *fakeClock
	quizzes      *fakeQuizRepo
	sessions     *fakeSessionRepo
	participants *fakeParticipantRepo
	submissions  *fakeSubmissionRepo
	cache        repository.CacheRepository
	facts        *fakeFactEnqueuer
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "run miniredis")
	t.Cleanup(mr.Close)

	cacheRepo, err := redisRepo.NewCacheRepo(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	quizRepo := newFakeQuizRepo()
	sessionRepo := newFakeSessionRepo(quizRepo)
	participantRepo := newFakeParticipantRepo()
	submissionRepo := &fakeSubmissionRepo{}
	facts := &fakeFactEnqueuer{}

	config := sessionmanager.DefaultConfig()
	// Досрочную блокировку и автопереход отключаем: сценарии управляют
	// жизненным циклом явно, без фоновых команд
	config.LockOnAllSubmitted = false
	config.AutoAdvance = false

	manager := NewSessionManager(&sessionmanager.Dependencies{
		SessionRepo:     sessionRepo,
		QuizRepo:        quizRepo,
		ParticipantRepo: participantRepo,
		SubmissionRepo:  submissionRepo,
		CacheRepo:       cacheRepo,
		Config:          config,
		Now:             clock.Now,
	}, facts)
	t.Cleanup(manager.Shutdown)

	return &managerFixture{
		manager:      manager,
		clock:        clock,
		quizzes:      quizRepo,
		sessions:     sessionRepo,
		participants: participantRepo,
		submissions:  submissionRepo,
		cache:        cacheRepo,
		facts:        facts,
	}
}

func (f *managerFixture) createQuiz(t *testing.T, questions ...entity.Question) *entity.Quiz {
	t.Helper()
	quiz := &entity.Quiz{Title: "Географическая разминка", OwnerID: 1}
	require.NoError(t, f.quizzes.Create(quiz))
	for i := range questions {
		questions[i].ID = uint(100 + i)
		questions[i].QuizID = quiz.ID
		questions[i].Position = i
	}
	quiz.Questions = questions
	return quiz
}

func twoQuestionQuiz(t *testing.T, f *managerFixture) *entity.Quiz {
	t.Helper()
	return f.createQuiz(t,
		entity.Question{
			Text:           "Столица Казахстана?",
			Options:        entity.StringArray{"Алматы", "Астана", "Шымкент"},
			CorrectOptions: entity.IntArray{1},
			TimeLimitSec:   20,
			BasePoints:     100,
		},
		entity.Question{
			Text:           "Самое глубокое озеро в мире?",
			Options:        entity.StringArray{"Каспий", "Байкал", "Балхаш"},
			CorrectOptions: entity.IntArray{1},
			TimeLimitSec:   20,
			BasePoints:     100,
		},
	)
}

// waitForStatus дожидается асинхронного перехода (раскрытие раунда
// выполняется воркером в фоне после блокировки)
func waitForStatus(t *testing.T, f *managerFixture, sessionID uint, status string) *sessionmanager.Snapshot {
	t.Helper()
	var snapshot *sessionmanager.Snapshot
	require.Eventually(t, func() bool {
		snap, err := f.manager.GetSnapshot(context.Background(), sessionID)
		if err != nil {
			return false
		}
		snapshot = snap
		return snap.Status == status
	}, 3*time.Second, 10*time.Millisecond, "session did not reach status %q", status)
	return snapshot
}

// ============================================================================
// Сценарные тесты
// ============================================================================

// Два вопроса, два участника, бонус за скорость. Оба отвечают верно на первый
// вопрос, но с разной скоростью; на втором медленный участник ошибается.
// Быстрый участник должен победить с заметным отрывом.
func TestSessionManager_TwoQuestionSpeedBonusScenario(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, true)
	require.NoError(t, err)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)

	fast, _, err := f.manager.Join(ctx, session.ID, 0, "Дана")
	require.NoError(t, err)
	slow, _, err := f.manager.Join(ctx, session.ID, 0, "Арман")
	require.NoError(t, err)

	// Act: первый раунд
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	fastScore, err := f.manager.SubmitAnswer(ctx, session.ID, fast.ID, []int{1}, "a-fast-1")
	require.NoError(t, err)

	f.clock.Advance(14 * time.Second)
	slowScore, err := f.manager.SubmitAnswer(ctx, session.ID, slow.ID, []int{1}, "a-slow-1")
	require.NoError(t, err)

	// Оба верно, но быстрый ответ приносит больший бонус
	assert.True(t, fastScore.IsCorrect)
	assert.True(t, slowScore.IsCorrect)
	assert.Equal(t, fastScore.BaseScore, slowScore.BaseScore)
	assert.Greater(t, fastScore.BonusScore, slowScore.BonusScore)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdLockRound, "")
	require.NoError(t, err)
	waitForStatus(t, f, session.ID, entity.SessionStatusIntermission)

	// Второй раунд: медленный участник ошибается
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdNextQuestion, "next-1")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	_, err = f.manager.SubmitAnswer(ctx, session.ID, fast.ID, []int{1}, "a-fast-2")
	require.NoError(t, err)
	wrongScore, err := f.manager.SubmitAnswer(ctx, session.ID, slow.ID, []int{0}, "a-slow-2")
	require.NoError(t, err)
	assert.False(t, wrongScore.IsCorrect)
	assert.Zero(t, wrongScore.BaseScore+wrongScore.BonusScore)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdLockRound, "")
	require.NoError(t, err)
	waitForStatus(t, f, session.ID, entity.SessionStatusIntermission)

	// Вопросы закончились: следующая команда ведет к результатам
	snapshot, err := f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdNextQuestion, "next-2")
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusResults, snapshot.Status)

	// Assert: быстрый участник первый, отрыв за счет бонусов
	require.Len(t, snapshot.Leaderboard, 2)
	assert.Equal(t, "Дана", snapshot.Leaderboard[0].DisplayName)
	assert.Equal(t, 1, snapshot.Leaderboard[0].Rank)
	assert.Equal(t, "Арман", snapshot.Leaderboard[1].DisplayName)
	assert.Greater(t, snapshot.Leaderboard[0].Score, snapshot.Leaderboard[1].Score)

	// Закрытие ставит факты в очередь достижений
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdCloseResults, "")
	require.NoError(t, err)
	assert.Equal(t, []uint{session.ID}, f.facts.enqueued())

	// Итоги доступны и после закрытия, счетчики совпадают с лидербордом
	_, rows, err := f.manager.GetResults(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Дана", rows[0].DisplayName)
	assert.Equal(t, 2, rows[0].CorrectCount)
	assert.Equal(t, 2, rows[0].AnsweredCount)
	assert.Equal(t, 1, rows[1].CorrectCount)
	assert.Equal(t, 2, rows[1].RoundsTotal)

	// Статистика по раундам согласуется с принятыми ответами
	stats, err := f.manager.GetStatistics(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stats.Rounds, 2)
	assert.Equal(t, 2, stats.ParticipantCount)
	assert.Equal(t, 2, stats.Rounds[0].AnswerCount)
	assert.Equal(t, 2, stats.Rounds[0].CorrectCount)
	assert.Equal(t, 2, stats.Rounds[1].AnswerCount)
	assert.Equal(t, 1, stats.Rounds[1].CorrectCount)
	assert.Greater(t, stats.Rounds[0].AvgLatencyMs, float64(0))
}

// Повтор команды с тем же токеном идемпотентности возвращает сохраненный
// результат и не применяет переход второй раз.
func TestSessionManager_DuplicateCommandTokenReplaysResult(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)

	// Act: команда запуска отправлена дважды с одним токеном
	first, err := f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-token")
	require.NoError(t, err)
	second, err := f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-token")
	require.NoError(t, err)

	// Assert: повтор вернул тот же снапшот, версия не продвинулась
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Status, second.Status)
	require.NotNil(t, second.CurrentRound)
	assert.Equal(t, 0, second.CurrentRound.Index)

	stored, err := f.sessions.GetByID(session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, stored.Version)

	// Повтор без токена - уже обычная команда, из question_active она запрещена
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
}

// Повтор ответа с тем же токеном возвращает прежний результат
// без повторного начисления очков.
func TestSessionManager_DuplicateAnswerTokenReplaysResult(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, true)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)
	participant, _, err := f.manager.Join(ctx, session.ID, 0, "Дана")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)

	f.clock.Advance(time.Second)

	// Act
	first, err := f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "answer-token")
	require.NoError(t, err)
	second, err := f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "answer-token")
	require.NoError(t, err)

	// Assert: тот же результат, очки не удвоены
	assert.Equal(t, first.Total(), second.Total())

	snapshot, err := f.manager.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Participants, 1)
	assert.Equal(t, first.Total(), snapshot.Participants[0].Score)

	// Повтор с другим токеном упирается в unique constraint
	_, err = f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "another-token")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateSubmission)
}

// Имя участника уникально в пределах сессии, но одинаковые имена
// в разных сессиях допустимы.
func TestSessionManager_DisplayNameScopedToSession(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quizA := twoQuestionQuiz(t, f)
	quizB := twoQuestionQuiz(t, f)

	sessionA, err := f.manager.CreateSession(ctx, quizA.ID, 1, "", false, false)
	require.NoError(t, err)
	sessionB, err := f.manager.CreateSession(ctx, quizB.ID, 2, "", false, false)
	require.NoError(t, err)

	_, err = f.manager.Dispatch(ctx, sessionA.ID, sessionmanager.CmdOpenLobby, "open-a")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, sessionB.ID, sessionmanager.CmdOpenLobby, "open-b")
	require.NoError(t, err)

	// Act
	_, _, err = f.manager.Join(ctx, sessionA.ID, 0, "Дана")
	require.NoError(t, err)

	// То же имя в другой сессии - не коллизия
	_, _, err = f.manager.Join(ctx, sessionB.ID, 0, "Дана")
	assert.NoError(t, err)

	// Повтор имени в той же сессии отклоняется
	_, _, err = f.manager.Join(ctx, sessionA.ID, 0, "Дана")
	assert.ErrorIs(t, err, apperrors.ErrNameTaken)
}

// Коды присоединения активных сессий не пересекаются; закрытая сессия
// освобождает код.
func TestSessionManager_JoinCodeUniqueAmongActive(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)
	require.NotEmpty(t, session.JoinCode)
	assert.Equal(t, strings.ToUpper(session.JoinCode), session.JoinCode)

	// Act
	resolved, err := f.manager.ResolveJoinCode(session.JoinCode)
	require.NoError(t, err)
	assert.Equal(t, session.ID, resolved.ID)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdEndSession, "end-1")
	require.NoError(t, err)

	// Assert: код закрытой сессии больше не разрешается
	_, err = f.manager.ResolveJoinCode(session.JoinCode)
	assert.ErrorIs(t, err, apperrors.ErrInvalidJoinCode)
}

// Код ведущего проверяется по bcrypt-хешу; сессия без кода
// пропускает любую проверку.
func TestSessionManager_VerifyHostPasscode(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	protected, err := f.manager.CreateSession(ctx, quiz.ID, 1, "secret-4217", false, false)
	require.NoError(t, err)
	open, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)

	// Assert
	assert.NoError(t, f.manager.VerifyHostPasscode(protected, "secret-4217"))
	assert.ErrorIs(t, f.manager.VerifyHostPasscode(protected, "wrong"), apperrors.ErrForbidden)
	assert.NoError(t, f.manager.VerifyHostPasscode(open, fmt.Sprintf("anything-%d", open.ID)))
}

// Факты закрытой сессии несут общее число раундов: идеальная игра
// распознается правилом perfect_score.
func TestSessionManager_ClosedSessionFactsCarryRoundTotals(t *testing.T) {
	// Arrange: очередь фактов обслуживает настоящий сервис достижений
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	achievementRepo := newFakeAchievementRepo()
	achievements := NewAchievementService(nil, achievementRepo, f.participants, f.submissions, f.cache, nil)
	f.manager.facts = achievements

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, true)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)
	participant, _, err := f.manager.Join(ctx, session.ID, 11, "Дана")
	require.NoError(t, err)

	// Идеальная игра: оба ответа верные
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "a-1")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdLockRound, "")
	require.NoError(t, err)
	waitForStatus(t, f, session.ID, entity.SessionStatusIntermission)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdNextQuestion, "next-1")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "a-2")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdLockRound, "")
	require.NoError(t, err)
	waitForStatus(t, f, session.ID, entity.SessionStatusIntermission)

	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdNextQuestion, "next-2")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdCloseResults, "")
	require.NoError(t, err)

	// Assert: факт в очереди знает число раундов закрытой сессии
	payload, err := f.cache.BRPop(time.Second, factsQueueKey)
	require.NoError(t, err)

	var fact entity.SessionFact
	require.NoError(t, json.Unmarshal([]byte(payload), &fact))
	assert.Equal(t, session.ID, fact.SessionID)
	assert.Equal(t, uint(11), fact.UserID)
	assert.Equal(t, 2, fact.RoundsTotal)
	assert.Equal(t, 2, fact.CorrectCount)
	assert.Equal(t, 2, fact.AnsweredCount)

	// Обработка такого факта выдает достижение за идеальный результат
	require.NoError(t, achievements.ProcessFact(ctx, &fact))
	granted, err := achievementRepo.HasGrant(11, "perfect_score")
	require.NoError(t, err)
	assert.True(t, granted)
}

// Блокировка, взведенная на прошлый раунд, не должна заморозить
// следующий вопрос в самом его начале.
func TestSessionManager_StaleRoundLockRejected(t *testing.T) {
	// Arrange: сессия дошла до второго вопроса
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdLockRound, "")
	require.NoError(t, err)
	waitForStatus(t, f, session.ID, entity.SessionStatusIntermission)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdNextQuestion, "next-1")
	require.NoError(t, err)

	// Act: блокировка раунда 0 добирается до воркера с опозданием
	_, err = f.manager.dispatchRound(ctx, session.ID, sessionmanager.CmdLockRound, 0)

	// Assert: команда отвергнута, второй вопрос продолжает идти
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	snapshot, err := f.manager.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusQuestionActive, snapshot.Status)
	require.NotNil(t, snapshot.CurrentRound)
	assert.Equal(t, 1, snapshot.CurrentRound.Index)

	// Блокировка текущего раунда проходит как обычно
	_, err = f.manager.dispatchRound(ctx, session.ID, sessionmanager.CmdLockRound, 1)
	require.NoError(t, err)
}

// Чтение снапшота не имеет побочных эффектов: два подряд запроса
// без команд между ними возвращают одинаковый результат.
func TestSessionManager_SnapshotReadIsStable(t *testing.T) {
	// Arrange: активный раунд с принятым ответом
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, true)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)
	participant, _, err := f.manager.Join(ctx, session.ID, 0, "Дана")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.manager.SubmitAnswer(ctx, session.ID, participant.ID, []int{1}, "a-1")
	require.NoError(t, err)

	// Act
	first, err := f.manager.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)
	second, err := f.manager.GetSnapshot(ctx, session.ID)
	require.NoError(t, err)

	// Assert: включая версию, счетчики и серверное время
	assert.Equal(t, first, second)
}

// Сессия, закрытая реапером, получает причину abandoned,
// а не ended_by_host.
func TestSessionManager_AbandonedCloseReason(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)

	// Act
	snapshot, err := f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdAbandonSession, "")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, entity.SessionStatusClosed, snapshot.Status)
	assert.Equal(t, entity.SessionCloseReasonAbandoned, snapshot.CloseReason)

	stored, err := f.sessions.GetByID(session.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionCloseReasonAbandoned, stored.CloseReason)

	// Факты при этом ставятся в очередь, как при обычном закрытии
	assert.Equal(t, []uint{session.ID}, f.facts.enqueued())
}

// Вопрос без собственного лимита времени получает лимит из конфигурации.
func TestSessionManager_DefaultTimeLimitApplied(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := f.createQuiz(t, entity.Question{
		Text:           "Самая длинная река в мире?",
		Options:        entity.StringArray{"Нил", "Амазонка", "Янцзы"},
		CorrectOptions: entity.IntArray{1},
		BasePoints:     100,
	})

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)

	// Act
	snapshot, err := f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdStart, "start-1")
	require.NoError(t, err)

	// Assert: лимит и дедлайн раунда построены от значения по умолчанию
	require.NotNil(t, snapshot.CurrentRound)
	assert.Equal(t, 20, snapshot.CurrentRound.TimeLimitSec)
	assert.Equal(t, snapshot.CurrentRound.StartedAt.Add(20*time.Second), snapshot.CurrentRound.Deadline)
}

// Снапшот закрытой сессии читается из кеша даже после выгрузки воркера
// (так выглядит запрос итогов после рестарта процесса).
func TestSessionManager_ClosedSessionSnapshotFromCache(t *testing.T) {
	// Arrange
	f := newManagerFixture(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, f)

	session, err := f.manager.CreateSession(ctx, quiz.ID, 1, "", false, false)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdOpenLobby, "open-1")
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, session.ID, sessionmanager.CmdEndSession, "end-1")
	require.NoError(t, err)

	// Воркер закрытой сессии выгружен
	f.manager.workers.Delete(session.ID)

	// Act
	snapshot, err := f.manager.GetSnapshot(ctx, session.ID)

	// Assert: финальное состояние доступно из кеша
	require.NoError(t, err)
	assert.Equal(t, session.ID, snapshot.SessionID)
	assert.Equal(t, entity.SessionStatusClosed, snapshot.Status)
	assert.Equal(t, entity.SessionCloseReasonEnded, snapshot.CloseReason)
}
