package sessionclient

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollInterval = 30 * time.Second

	// defaultLivenessFactor - окно живости в базовых интервалах: если за это
	// время не было ни одного успешного опроса, соединение считается потерянным
	defaultLivenessFactor = 10
)

// PollerConfig настраивает опрос состояния сессии
type PollerConfig struct {
	// Interval - базовый интервал опроса. По умолчанию 2 секунды.
	Interval time.Duration

	// MaxInterval - потолок экспоненциальной задержки. По умолчанию 30 секунд.
	MaxInterval time.Duration

	// LivenessFactor - множитель окна живости (окно = Interval * LivenessFactor).
	// По умолчанию 10.
	LivenessFactor int
}

func (c *PollerConfig) withDefaults() PollerConfig {
	cfg := *c
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxPollInterval
	}
	if cfg.LivenessFactor <= 0 {
		cfg.LivenessFactor = defaultLivenessFactor
	}
	return cfg
}

// Poller периодически запрашивает снимок состояния сессии.
// При ошибках интервал удваивается до потолка и сбрасывается при успехе.
// Таймеры опроса управляют только частотой запросов и UI - все решения
// по очкам и дедлайнам принимает сервер.
type Poller struct {
	client    *Client
	sessionID uint
	cfg       PollerConfig

	mu           sync.RWMutex
	lastSnapshot *sessionmanager.Snapshot
	lastSuccess  time.Time
	lost         bool

	// OnSnapshot вызывается при каждом успешно полученном снимке
	OnSnapshot func(*sessionmanager.Snapshot)

	// OnConnectionLost вызывается один раз при переходе в состояние
	// потерянного соединения; OnReconnected - при восстановлении
	OnConnectionLost func()
	OnReconnected    func()
}

// NewPoller создает опросчик для указанной сессии
func NewPoller(client *Client, sessionID uint, cfg PollerConfig) *Poller {
	return &Poller{
		client:    client,
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
	}
}

// Snapshot возвращает последний успешно полученный снимок (может быть nil)
func (p *Poller) Snapshot() *sessionmanager.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSnapshot
}

// ConnectionLost сообщает, находится ли опросчик в состоянии потерянного соединения
func (p *Poller) ConnectionLost() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lost
}

// Run опрашивает сессию до отмены контекста или закрытия сессии.
// Возвращает nil при закрытии сессии, ошибку контекста при отмене.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	livenessWindow := p.cfg.Interval * time.Duration(p.cfg.LivenessFactor)

	p.mu.Lock()
	p.lastSuccess = time.Now()
	p.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		snapshot, err := p.client.GetSnapshot(ctx, p.sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			// Экспоненциальная задержка: удвоение на каждую подряд идущую ошибку
			interval *= 2
			if interval > p.cfg.MaxInterval {
				interval = p.cfg.MaxInterval
			}
			log.Printf("[SessionPoller] Ошибка опроса сессии %d: %v (следующая попытка через %s)", p.sessionID, err, interval)

			p.checkLiveness(livenessWindow)
			timer.Reset(interval)
			continue
		}

		interval = p.cfg.Interval
		p.recordSuccess(snapshot)

		if p.OnSnapshot != nil {
			p.OnSnapshot(snapshot)
		}

		if snapshot.Status == "closed" {
			return nil
		}

		timer.Reset(interval)
	}
}

func (p *Poller) recordSuccess(snapshot *sessionmanager.Snapshot) {
	p.mu.Lock()
	p.lastSnapshot = snapshot
	p.lastSuccess = time.Now()
	wasLost := p.lost
	p.lost = false
	p.mu.Unlock()

	if wasLost && p.OnReconnected != nil {
		p.OnReconnected()
	}
}

func (p *Poller) checkLiveness(window time.Duration) {
	p.mu.Lock()
	alreadyLost := p.lost
	expired := time.Since(p.lastSuccess) > window
	if expired {
		p.lost = true
	}
	p.mu.Unlock()

	if expired && !alreadyLost {
		log.Printf("[SessionPoller] Сессия %d: нет успешного опроса дольше %s - соединение потеряно", p.sessionID, window)
		if p.OnConnectionLost != nil {
			p.OnConnectionLost()
		}
	}
}
