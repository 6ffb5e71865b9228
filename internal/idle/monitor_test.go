package idle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// logoutRecorder собирает вызовы ForceLogout.
type logoutRecorder struct {
	mu      sync.Mutex
	reasons []string
	fired   chan string
}

func newLogoutRecorder() *logoutRecorder {
	return &logoutRecorder{fired: make(chan string, 4)}
}

func (r *logoutRecorder) forceLogout(_ context.Context, reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.fired <- reason
}

func (r *logoutRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

// waitReason ждёт вызова ForceLogout с проверкой причины.
func (r *logoutRecorder) waitReason(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.fired:
		if got != want {
			t.Fatalf("Ожидали причину %q, получили %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ForceLogout(%q) не вызван", want)
	}
}

// TestMonitor_TimeoutForcesLogout проверяет полный путь: порог
// бездействия → предупреждение с отсчётом → принудительный выход.
func TestMonitor_TimeoutForcesLogout(t *testing.T) {
	rec := newLogoutRecorder()
	var warnings atomic.Int32

	m := New(Config{
		Timeout:          30 * time.Millisecond,
		WarningCountdown: 40 * time.Millisecond,
		CountdownTick:    10 * time.Millisecond,
		OnWarning:        func(_ time.Duration) { warnings.Add(1) },
		Validate:         func(_ context.Context) error { return nil },
		ForceLogout:      rec.forceLogout,
	}, testLogger())

	if m.State() != StateStopped {
		t.Fatalf("До запуска ожидали Stopped, получили %s", m.State())
	}
	m.Start()
	if m.State() != StateWatching {
		t.Fatalf("После запуска ожидали Watching, получили %s", m.State())
	}

	rec.waitReason(t, "idle_timeout")
	if m.State() != StateStopped {
		t.Errorf("После выхода ожидали Stopped, получили %s", m.State())
	}
	if warnings.Load() == 0 {
		t.Error("Предупреждение должно прийти до выхода")
	}
	if rec.count() != 1 {
		t.Errorf("Ожидали ровно один выход, получили %d", rec.count())
	}
}

// TestMonitor_ActivityResetsWatching проверяет, что активность
// откладывает предупреждение только в StateWatching.
func TestMonitor_ActivityResetsWatching(t *testing.T) {
	rec := newLogoutRecorder()
	m := New(Config{
		Timeout:          150 * time.Millisecond,
		WarningCountdown: time.Hour,
		CountdownTick:    time.Hour,
		Validate:         func(_ context.Context) error { return nil },
		ForceLogout:      rec.forceLogout,
	}, testLogger())
	defer m.Stop()

	m.Start()

	// Регулярная активность держит монитор в Watching дольше самого порога
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		m.Activity()
	}
	if m.State() != StateWatching {
		t.Errorf("Активность должна удерживать Watching, получили %s", m.State())
	}

	// Без активности порог срабатывает
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateWarning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.State() != StateWarning {
		t.Fatalf("Порог не сработал, состояние %s", m.State())
	}

	// В StateWarning фоновая активность отсчёт не гасит
	m.Activity()
	if m.State() != StateWarning {
		t.Errorf("Activity в Warning должна игнорироваться, получили %s", m.State())
	}
}

// TestMonitor_ExtendRearms проверяет продление из предупреждения:
// сессия валидна — монитор возвращается в Watching.
func TestMonitor_ExtendRearms(t *testing.T) {
	rec := newLogoutRecorder()
	var validations atomic.Int32

	m := New(Config{
		Timeout:          25 * time.Millisecond,
		WarningCountdown: time.Hour,
		CountdownTick:    time.Hour,
		Validate: func(_ context.Context) error {
			validations.Add(1)
			return nil
		},
		ForceLogout: rec.forceLogout,
	}, testLogger())
	defer m.Stop()

	m.Start()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateWarning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.State() != StateWarning {
		t.Fatalf("Порог не сработал, состояние %s", m.State())
	}

	m.Extend(context.Background())
	if m.State() != StateWatching {
		t.Errorf("После продления ожидали Watching, получили %s", m.State())
	}
	if validations.Load() != 1 {
		t.Errorf("Продление должно проверять сессию ровно один раз, получили %d", validations.Load())
	}
	if rec.count() != 0 {
		t.Errorf("Выход при валидном продлении недопустим: %d", rec.count())
	}
}

// TestMonitor_ExtendDeadSession проверяет, что продление мёртвого токена
// завершает сессию с причиной session_invalid.
func TestMonitor_ExtendDeadSession(t *testing.T) {
	rec := newLogoutRecorder()
	m := New(Config{
		Timeout:          25 * time.Millisecond,
		WarningCountdown: time.Hour,
		CountdownTick:    time.Hour,
		Validate: func(_ context.Context) error {
			return errors.New("токен истёк")
		},
		ForceLogout: rec.forceLogout,
	}, testLogger())

	m.Start()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateWarning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.State() != StateWarning {
		t.Fatalf("Порог не сработал, состояние %s", m.State())
	}

	m.Extend(context.Background())

	rec.waitReason(t, "session_invalid")
	if m.State() != StateStopped {
		t.Errorf("Ожидали Stopped, получили %s", m.State())
	}
}

// TestMonitor_ExtendOutsideWarning проверяет, что продление вне
// предупреждения — no-op без сетевого вызова.
func TestMonitor_ExtendOutsideWarning(t *testing.T) {
	var validations atomic.Int32
	m := New(Config{
		Timeout:          time.Hour,
		WarningCountdown: time.Hour,
		Validate: func(_ context.Context) error {
			validations.Add(1)
			return nil
		},
		ForceLogout: func(_ context.Context, _ string) {},
	}, testLogger())
	defer m.Stop()

	m.Extend(context.Background()) // Stopped
	m.Start()
	m.Extend(context.Background()) // Watching

	if validations.Load() != 0 {
		t.Errorf("Validate вне Warning недопустим, вызван %d раз", validations.Load())
	}
	if m.State() != StateWatching {
		t.Errorf("Ожидали Watching, получили %s", m.State())
	}
}

// TestMonitor_StopSilencesTimers проверяет, что после Stop таймеры
// не срабатывают.
func TestMonitor_StopSilencesTimers(t *testing.T) {
	rec := newLogoutRecorder()
	var warnings atomic.Int32

	m := New(Config{
		Timeout:          20 * time.Millisecond,
		WarningCountdown: 20 * time.Millisecond,
		CountdownTick:    5 * time.Millisecond,
		OnWarning:        func(_ time.Duration) { warnings.Add(1) },
		Validate:         func(_ context.Context) error { return nil },
		ForceLogout:      rec.forceLogout,
	}, testLogger())

	m.Start()
	m.Stop()

	time.Sleep(80 * time.Millisecond)
	if m.State() != StateStopped {
		t.Errorf("Ожидали Stopped, получили %s", m.State())
	}
	if warnings.Load() != 0 || rec.count() != 0 {
		t.Errorf("Таймеры после Stop: warnings=%d, logouts=%d", warnings.Load(), rec.count())
	}
}

// TestMonitor_ExtendWarningCycles проверяет повторяемость цикла
// порог → предупреждение → продление: каждый переход взводит свежее
// поколение таймеров, и финальный отсчёт срабатывает ровно один раз.
func TestMonitor_ExtendWarningCycles(t *testing.T) {
	rec := newLogoutRecorder()
	m := New(Config{
		Timeout:          25 * time.Millisecond,
		WarningCountdown: 30 * time.Millisecond,
		CountdownTick:    10 * time.Millisecond,
		Validate:         func(_ context.Context) error { return nil },
		ForceLogout:      rec.forceLogout,
	}, testLogger())

	m.Start()
	for cycle := 0; cycle < 3; cycle++ {
		deadline := time.Now().Add(2 * time.Second)
		for m.State() != StateWarning && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if m.State() != StateWarning {
			t.Fatalf("Цикл %d: порог не сработал, состояние %s", cycle, m.State())
		}
		m.Extend(context.Background())
		if m.State() != StateWatching {
			t.Fatalf("Цикл %d: продление не вернуло Watching, состояние %s", cycle, m.State())
		}
	}

	// Последний цикл оставляем без продления
	rec.waitReason(t, "idle_timeout")
	if rec.count() != 1 {
		t.Errorf("Ожидали ровно один выход, получили %d", rec.count())
	}
}
