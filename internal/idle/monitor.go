// Пакет idle — контроль неактивности аутентифицированной сессии.
// Monitor взводит таймер бездействия, по его истечении показывает
// предупреждение с независимым отсчётом и принудительно завершает сессию,
// если пользователь не продлил её до нуля.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State — состояние монитора.
type State string

const (
	// StateWatching — сессия активна, таймер бездействия взведён
	StateWatching State = "watching"
	// StateWarning — предупреждение показано, идёт финальный отсчёт
	StateWarning State = "warning"
	// StateStopped — монитор остановлен
	StateStopped State = "stopped"
)

// Config — параметры Monitor.
type Config struct {
	// Timeout — порог бездействия (DA_IDLE_TIMEOUT)
	Timeout time.Duration
	// WarningCountdown — длительность финального отсчёта (DA_IDLE_WARNING_COUNTDOWN)
	WarningCountdown time.Duration
	// CountdownTick — период обновления отсчёта (по умолчанию 1s)
	CountdownTick time.Duration
	// OnWarning вызывается на каждом тике отсчёта с остатком времени
	OnWarning func(remaining time.Duration)
	// Validate проверяет, что сессия ещё жива на бэкенде; ошибка
	// означает мёртвый токен
	Validate func(ctx context.Context) error
	// ForceLogout завершает сессию; reason попадает в журнал и метрики
	ForceLogout func(ctx context.Context, reason string)
}

// Monitor следит за активностью пользователя в рамках одной
// аутентифицированной сессии.
type Monitor struct {
	mu    sync.Mutex
	gen   uint64
	state State
	// cancel отменяет таймеры текущего поколения
	cancel context.CancelFunc
	// deadline — момент принудительного выхода; есть только в StateWarning
	deadline time.Time

	cfg    Config
	logger *slog.Logger
}

// New создаёт Monitor в состоянии StateStopped. Запуск — Start.
func New(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = time.Second
	}
	return &Monitor{
		state:  StateStopped,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "idle_monitor")),
	}
}

// State возвращает текущее состояние.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start взводит таймер бездействия. Повторный Start перезапускает монитор.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armIdleTimerLocked()
	m.logger.Debug("Контроль бездействия запущен", slog.Duration("timeout", m.cfg.Timeout))
}

// Stop останавливает монитор. Таймеры текущего поколения гаснут,
// их запоздавшие срабатывания подавляются проверкой поколения.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
	m.state = StateStopped
}

// Activity регистрирует действие пользователя. Сбрасывает таймер только
// в StateWatching: после показа предупреждения фоновая активность
// отсчёт не гасит — нужен явный Extend.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateWatching {
		return
	}
	m.armIdleTimerLocked()
}

// Extend — явное продление из предупреждения. Сессия сначала проверяется
// на бэкенде: продление мёртвого токена породило бы интерфейс,
// считающий себя живым при невалидной сессии.
func (m *Monitor) Extend(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateWarning {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	m.mu.Unlock()

	err := m.cfg.Validate(ctx)

	m.mu.Lock()
	if m.gen != gen || m.state != StateWarning {
		// Пока ходили в сеть, отсчёт дошёл до нуля или монитор остановили
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.stopTimersLocked()
		m.state = StateStopped
		m.mu.Unlock()
		m.logger.Info("Продление отклонено: сессия мертва", slog.String("error", err.Error()))
		m.cfg.ForceLogout(ctx, "session_invalid")
		return
	}
	m.armIdleTimerLocked()
	m.mu.Unlock()
	m.logger.Info("Сессия продлена пользователем")
}

// armIdleTimerLocked переводит монитор в StateWatching и взводит свежее
// поколение таймера бездействия. Вызывается под блокировкой.
func (m *Monitor) armIdleTimerLocked() {
	m.stopTimersLocked()
	m.state = StateWatching
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.idleTimer(ctx, gen)
}

// idleTimer ждёт порог бездействия и поднимает предупреждение.
func (m *Monitor) idleTimer(ctx context.Context, gen uint64) {
	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateWatching {
		m.mu.Unlock()
		return
	}
	m.state = StateWarning
	m.deadline = time.Now().Add(m.cfg.WarningCountdown)
	// Контекст таймера бездействия больше не нужен — гасим до установки нового
	m.stopTimersLocked()
	m.gen++
	warnGen := m.gen
	warnCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("Порог бездействия достигнут",
		slog.Duration("countdown", m.cfg.WarningCountdown),
	)
	m.notifyWarning(m.cfg.WarningCountdown)
	go m.countdown(warnCtx, warnGen)
}

// countdown — финальный отсчёт предупреждения. Ноль означает
// принудительный выход без каких-либо условий.
func (m *Monitor) countdown(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(m.cfg.CountdownTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.gen != gen || m.state != StateWarning {
			m.mu.Unlock()
			return
		}
		remaining := time.Until(m.deadline)
		if remaining > 0 {
			m.mu.Unlock()
			m.notifyWarning(remaining)
			continue
		}
		m.stopTimersLocked()
		m.state = StateStopped
		m.mu.Unlock()

		m.logger.Info("Отсчёт предупреждения истёк, принудительный выход")
		m.cfg.ForceLogout(context.Background(), "idle_timeout")
		return
	}
}

// stopTimersLocked гасит таймеры текущего поколения. Вызывается под блокировкой.
func (m *Monitor) stopTimersLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) notifyWarning(remaining time.Duration) {
	if m.cfg.OnWarning == nil {
		return
	}
	m.cfg.OnWarning(remaining)
}
