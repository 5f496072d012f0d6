package sessionmanager

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/quizlive-api/internal/domain/entity"
	"github.com/yourusername/quizlive-api/internal/domain/repository"
)

// Константы значений по умолчанию
const (
	DefaultJoinCodeLength  = 6
	DefaultLivenessFactor  = 10
	DefaultIdempotencyTTL  = 10 * time.Minute
	DefaultSnapshotTTL     = 30 * time.Second
	DefaultAbandonAfterMin = 30
)

// Config содержит настройки для всех компонентов SessionManager
type Config struct {
	// Таймауты и интервалы
	IntermissionSec     int           // Окно показа лидерборда; 0 - ждать команду ведущего
	AutoAdvance         bool          // Автопереход к следующему вопросу после интермиссии
	RetryInterval       time.Duration // Интервал между повторными попытками отправки
	MaxRetries          int           // Максимальное количество попыток отправки сообщений
	ReaperInterval      time.Duration // Период проверки заброшенных сессий
	AbandonAfter        time.Duration // Без активности дольше этого сессия закрывается
	IdempotencyTTL      time.Duration // Время хранения результатов идемпотентных команд
	SnapshotCacheTTL    time.Duration // TTL кешированного снапшота в Redis
	JoinCodeLength      int           // Длина кода присоединения
	MaxJoinCodeAttempts int           // Попыток генерации кода при коллизиях
	LockOnAllSubmitted  bool          // Блокировать раунд, когда ответили все присутствующие
	DefaultTimeLimitSec int           // Лимит времени вопроса, если не задан
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		IntermissionSec:     0,
		AutoAdvance:         false,
		RetryInterval:       500 * time.Millisecond,
		MaxRetries:          3,
		ReaperInterval:      time.Minute,
		AbandonAfter:        DefaultAbandonAfterMin * time.Minute,
		IdempotencyTTL:      DefaultIdempotencyTTL,
		SnapshotCacheTTL:    DefaultSnapshotTTL,
		JoinCodeLength:      DefaultJoinCodeLength,
		MaxJoinCodeAttempts: 5,
		LockOnAllSubmitted:  true,
		DefaultTimeLimitSec: 20,
	}
}

// Broadcaster определяет интерфейс рассылки событий клиентам сессии.
// Снимает прямую зависимость от конкретного websocket-менеджера и
// позволяет подменять рассылку в тестах.
type Broadcaster interface {
	BroadcastToSession(sessionID uint, eventType string, data interface{}) error
}

// Dependencies содержит зависимости для SessionManager
type Dependencies struct {
	DB              *gorm.DB
	SessionRepo     repository.SessionRepository
	QuizRepo        repository.QuizRepository
	ParticipantRepo repository.ParticipantRepository
	SubmissionRepo  repository.SubmissionRepository
	CacheRepo       repository.CacheRepository
	Broadcaster     Broadcaster
	Config          *Config
	// Now - источник времени; в тестах подменяется фиксированным
	Now func() time.Time
}

// Clock возвращает текущее время через внедренный источник
func (d *Dependencies) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ActiveSessionState хранит горячее состояние одной живой сессии.
// Session и Quiz читаются из нескольких горутин (снапшоты, таймеры),
// мутации идут только из воркера сессии под Mu.
type ActiveSessionState struct {
	Session *entity.Session
	Quiz    *entity.Quiz
	Mu      sync.RWMutex
}

// NewActiveSessionState создает состояние активной сессии
func NewActiveSessionState(session *entity.Session, quiz *entity.Quiz) *ActiveSessionState {
	return &ActiveSessionState{
		Session: session,
		Quiz:    quiz,
	}
}

// Snapshot-safe доступ к сессии
func (s *ActiveSessionState) GetSession() entity.Session {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return *s.Session
}

// SetSession заменяет состояние сессии после успешного CAS-сохранения
func (s *ActiveSessionState) SetSession(session *entity.Session) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Session = session
}

// CurrentQuestion возвращает вопрос текущего раунда или nil
func (s *ActiveSessionState) CurrentQuestion() *entity.Question {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	if s.Quiz == nil || s.Session.CurrentRound < 0 || s.Session.CurrentRound >= len(s.Quiz.Questions) {
		return nil
	}
	return &s.Quiz.Questions[s.Session.CurrentRound]
}
