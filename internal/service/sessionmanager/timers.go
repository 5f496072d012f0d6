package sessionmanager

import (
	"context"
	"log"
	"sync"
	"time"
)

// TimerEvent - внутренняя команда, порожденная таймером сессии.
// Round фиксирует раунд, на который таймер был взведен: опоздавшее
// событие, догнавшее сессию в следующем раунде, будет отвергнуто.
type TimerEvent struct {
	SessionID uint
	Cmd       Command
	Round     int
}

// timerHandle позволяет сравнивать взведенные таймеры по указателю
type timerHandle struct {
	cancel context.CancelFunc
}

// RoundTimers взводит и отменяет таймеры дедлайнов.
// Дедлайн раунда срабатывает по серверным часам независимо от того,
// подключен ли хоть один клиент. На сессию активен максимум один таймер:
// взведение нового отменяет предыдущий.
type RoundTimers struct {
	config *Config

	// Внутреннее состояние
	handles sync.Map // map[uint]*timerHandle

	// Канал для сигнализации о срабатывании таймеров
	fireCh chan TimerEvent
}

// NewRoundTimers создает таймерный компонент
func NewRoundTimers(config *Config) *RoundTimers {
	return &RoundTimers{
		config: config,
		fireCh: make(chan TimerEvent, 64), // Буферизованный канал для событий таймеров
	}
}

// Events возвращает канал сработавших таймеров
func (t *RoundTimers) Events() <-chan TimerEvent {
	return t.fireCh
}

// ScheduleLock взводит таймер блокировки раунда round на deadline
func (t *RoundTimers) ScheduleLock(ctx context.Context, sessionID uint, round int, deadline time.Time) {
	t.schedule(ctx, sessionID, CmdLockRound, round, time.Until(deadline))
}

// ScheduleAdvance взводит таймер автоперехода после интермиссии раунда round
func (t *RoundTimers) ScheduleAdvance(ctx context.Context, sessionID uint, round int, delay time.Duration) {
	t.schedule(ctx, sessionID, CmdNextQuestion, round, delay)
}

// Cancel отменяет взведенный таймер сессии
func (t *RoundTimers) Cancel(sessionID uint) {
	if stored, ok := t.handles.LoadAndDelete(sessionID); ok {
		stored.(*timerHandle).cancel()
		log.Printf("[RoundTimers] Таймер сессии #%d отменен", sessionID)
	}
}

func (t *RoundTimers) schedule(ctx context.Context, sessionID uint, cmd Command, round int, delay time.Duration) {
	// Новый таймер замещает предыдущий
	t.Cancel(sessionID)

	if delay < 0 {
		delay = 0
	}

	timerCtx, cancel := context.WithCancel(ctx)
	handle := &timerHandle{cancel: cancel}
	t.handles.Store(sessionID, handle)

	log.Printf("[RoundTimers] Сессия #%d: команда %q через %v", sessionID, cmd, delay)

	go func() {
		defer func() {
			// Удаляем только свой handle: его могли уже заменить новым таймером
			if stored, ok := t.handles.Load(sessionID); ok && stored == handle {
				t.handles.Delete(sessionID)
			}
		}()

		select {
		case <-time.After(delay):
			select {
			case t.fireCh <- TimerEvent{SessionID: sessionID, Cmd: cmd, Round: round}:
			default:
				log.Printf("[RoundTimers] Предупреждение: канал таймеров переполнен, событие %q сессии #%d потеряно", cmd, sessionID)
			}
		case <-timerCtx.Done():
			log.Printf("[RoundTimers] Сессия #%d: таймер %q отменен", sessionID, cmd)
		}
	}()
}
