// Пакет qrlogin — кросс-девайсный вход по QR-коду.
// Broker ведёт QR-handshake на неаутентифицированном устройстве: создание
// сессии, периодический опрос статуса, безусловная ротация по окну и
// визуальный отсчёт. Каждая ротация минтит новую сессию; старая
// забрасывается, а её таймеры и запоздавшие результаты опроса подавляются
// проверкой поколения.
package qrlogin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authflow"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// Prometheus-метрики QR-входа.
var (
	qrRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_qr_rotations_total",
		Help: "Количество ротаций QR-сессии.",
	})
	qrStalePollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_qr_stale_polls_total",
		Help: "Результаты опроса, подавленные из-за смены поколения.",
	})
)

// Config — параметры Broker.
type Config struct {
	// RotateInterval — окно жизни одной QR-сессии (DA_QR_ROTATE_INTERVAL)
	RotateInterval time.Duration
	// PollInterval — период опроса статуса (DA_QR_POLL_INTERVAL)
	PollInterval time.Duration
	// CountdownTick — период визуального отсчёта (по умолчанию 1s)
	CountdownTick time.Duration
	// OnUpdate вызывается при смене сессии/статуса и на каждом тике
	// отсчёта; remaining — время до ротации
	OnUpdate func(session model.QRLoginSession, remaining time.Duration)
	// OnExpired вызывается при истечении сессии на бэкенде;
	// дальше только ручная регенерация
	OnExpired func()
}

// Broker — QR-handshake на неаутентифицированном устройстве.
type Broker struct {
	mu     sync.Mutex
	gen    uint64
	closed bool
	// cancel отменяет таймеры текущего поколения; nil вне активной сессии
	cancel  context.CancelFunc
	session *model.QRLoginSession

	cfg       Config
	authority *authority.Client
	machine   *authflow.Machine
	logger    *slog.Logger
}

// New создаёт Broker.
func New(auth *authority.Client, machine *authflow.Machine, cfg Config, logger *slog.Logger) *Broker {
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = time.Second
	}
	return &Broker{
		cfg:       cfg,
		authority: auth,
		machine:   machine,
		logger:    logger.With(slog.String("component", "qr_login")),
	}
}

// Start запускает первый QR-handshake.
func (b *Broker) Start(ctx context.Context) error {
	return b.startSession(ctx)
}

// Session возвращает копию текущей QR-сессии (zero value — сессии нет).
func (b *Broker) Session() model.QRLoginSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return model.QRLoginSession{}
	}
	return *b.session
}

// Regenerate вручную перезапускает handshake после истечения.
func (b *Broker) Regenerate(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker закрыт")
	}
	b.mu.Unlock()
	return b.startSession(ctx)
}

// Close останавливает все таймеры. После Close ни один callback
// не производит эффектов.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimersLocked()
}

// startSession минтит новую QR-сессию и армирует полный набор таймеров
// нового поколения: опрос, ротацию, отсчёт. Предыдущий набор отменяется
// целиком — таймер, сработавший по забытой сессии, был бы ошибкой
// корректности, а не просто лишней работой.
func (b *Broker) startSession(ctx context.Context) error {
	sessionID, err := b.authority.QRInitiate(ctx)
	if err != nil {
		return fmt.Errorf("создание QR-сессии: %w", err)
	}

	now := time.Now()
	session := &model.QRLoginSession{
		SessionID:        sessionID,
		CreatedAt:        now,
		Status:           model.QRStatusActive,
		RotationDeadline: now.Add(b.cfg.RotateInterval),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker закрыт")
	}
	b.stopTimersLocked()
	b.gen++
	gen := b.gen
	b.session = session

	timerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("QR-сессия создана",
		slog.String("qr_session_id", sessionID),
		slog.Duration("rotate_in", b.cfg.RotateInterval),
	)
	b.notifyUpdate(*session)

	go b.pollLoop(timerCtx, gen, sessionID)
	go b.countdownLoop(timerCtx, gen)
	go b.rotationTimer(timerCtx, gen)

	return nil
}

// pollLoop опрашивает статус сессии с фиксированным периодом,
// независимым от таймера ротации.
func (b *Broker) pollLoop(ctx context.Context, gen uint64, sessionID string) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := b.authority.QRStatus(ctx, sessionID)
		if err != nil {
			// Сбой опроса не меняет состояние: следующий тик по расписанию
			b.logger.Debug("Сбой опроса QR-статуса", slog.String("error", err.Error()))
			continue
		}

		if !b.generationCurrent(gen) {
			qrStalePollsTotal.Inc()
			return
		}

		switch state.Status {
		case model.QRStatusAuthorized:
			b.resolveAuthorized(ctx, gen, state.Grant)
			return
		case model.QRStatusExpired:
			b.resolveExpired(gen)
			return
		default:
			// active: ждём дальше
		}
	}
}

// rotationTimer безусловно запускает новую сессию по истечении окна —
// даже если код никто не сканировал.
func (b *Broker) rotationTimer(ctx context.Context, gen uint64) {
	timer := time.NewTimer(b.cfg.RotateInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if !b.generationCurrent(gen) {
		return
	}

	qrRotationsTotal.Inc()
	b.logger.Debug("Ротация QR-сессии")
	if err := b.startSession(ctx); err != nil {
		// Не удалось заротировать — поднимаем явное состояние истечения,
		// дальше пользовательская регенерация
		b.logger.Warn("Ротация QR-сессии не удалась", slog.String("error", err.Error()))
		b.resolveExpired(gen)
	}
}

// countdownLoop гонит визуальный отсчёт до ротации.
func (b *Broker) countdownLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(b.cfg.CountdownTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		if b.closed || b.gen != gen || b.session == nil {
			b.mu.Unlock()
			return
		}
		session := *b.session
		b.mu.Unlock()

		b.notifyUpdate(session)
	}
}

// resolveAuthorized принимает грант авторизованной сессии: таймеры
// останавливаются до передачи гранта машине, чтобы ротация не успела
// забросить уже авторизованную сессию.
func (b *Broker) resolveAuthorized(ctx context.Context, gen uint64, grant *authority.TokenGrant) {
	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.stopTimersLocked()
	// Смена поколения: таймер ротации, уже прошедший свою проверку,
	// не переминтит авторизованную сессию
	b.gen++
	b.session.Status = model.QRStatusAuthorized
	session := *b.session
	b.mu.Unlock()

	b.logger.Info("QR-сессия авторизована вторым устройством",
		slog.String("qr_session_id", session.SessionID),
	)
	b.notifyUpdate(session)

	// Дальше — тот же путь, что и успешный вход по паролю
	if err := b.machine.AdoptToken(ctx, *grant); err != nil {
		b.logger.Warn("Не удалось принять грант QR-входа", slog.String("error", err.Error()))
	}
}

// resolveExpired поднимает явное состояние истечения. Автоповтора нет —
// только ручная регенерация.
func (b *Broker) resolveExpired(gen uint64) {
	b.mu.Lock()
	if b.closed || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.stopTimersLocked()
	b.session.Status = model.QRStatusExpired
	session := *b.session
	b.mu.Unlock()

	b.logger.Info("QR-сессия истекла", slog.String("qr_session_id", session.SessionID))
	b.notifyUpdate(session)
	if b.cfg.OnExpired != nil {
		b.cfg.OnExpired()
	}
}

// stopTimersLocked отменяет таймеры текущего поколения как единый набор.
// Вызывается под блокировкой.
func (b *Broker) stopTimersLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// generationCurrent проверяет, что callback принадлежит живому поколению.
func (b *Broker) generationCurrent(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.gen == gen
}

// notifyUpdate доставляет копию сессии подписчику отрисовки.
func (b *Broker) notifyUpdate(session model.QRLoginSession) {
	if b.cfg.OnUpdate == nil {
		return
	}
	b.cfg.OnUpdate(session, session.Remaining(time.Now()))
}
