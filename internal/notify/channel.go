// Пакет notify — устойчивый канал уведомлений.
// Channel держит локальный список уведомлений и счётчик непрочитанных,
// питаясь из двух независимых источников: real-time потока (SSE) и
// фонового опроса-сверки. Поток переподключается с фиксированной паузой;
// опрос перезаписывает список целиком и лечит любые расхождения,
// накопленные за время разрывов.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// Prometheus-метрики канала уведомлений.
var (
	streamEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_notify_stream_events_total",
		Help: "Принятые события real-time потока.",
	})
	streamDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_notify_stream_dropped_total",
		Help: "События потока, отброшенные как нераспознанные.",
	})
	streamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_notify_stream_reconnects_total",
		Help: "Попытки переподключения к потоку уведомлений.",
	})
)

const (
	seenCacheSize = 1024
	seenCacheTTL  = 10 * time.Minute
)

// TokenProvider отдаёт текущий токен доступа владельца канала.
type TokenProvider func() string

// Config — параметры Channel.
type Config struct {
	// ReconnectDelay — пауза перед переподключением потока (DA_NOTIFY_RECONNECT_DELAY)
	ReconnectDelay time.Duration
	// PollInterval — период фонового опроса-сверки (DA_NOTIFY_POLL_INTERVAL)
	PollInterval time.Duration
	// OnChange вызывается при каждом изменении списка; snapshot — копия,
	// unread — число непрочитанных
	OnChange func(snapshot []model.Notification, unread int)
}

// Channel — канал уведомлений одной аутентифицированной сессии.
type Channel struct {
	mu            sync.Mutex
	notifications []model.Notification
	// alive гасит все фоновые циклы после Close; после его сброса
	// не происходит ни одной попытки переподключения
	alive  bool
	cancel context.CancelFunc

	cfg       Config
	authority *authority.Client
	token     TokenProvider
	seen      *seenCache
	logger    *slog.Logger
}

// New создаёт Channel. Запуск — Open.
func New(auth *authority.Client, token TokenProvider, cfg Config, logger *slog.Logger) *Channel {
	return &Channel{
		cfg:       cfg,
		authority: auth,
		token:     token,
		seen:      newSeenCache(seenCacheSize, seenCacheTTL),
		logger:    logger.With(slog.String("component", "notify_channel")),
	}
}

// Open выполняет первичную полную загрузку и запускает поток и опрос.
// Ошибка первичной загрузки не фатальна: опрос выровняет список,
// как только authority станет доступен.
func (c *Channel) Open(ctx context.Context) {
	c.mu.Lock()
	if c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.refresh(runCtx); err != nil {
		c.logger.Warn("Первичная загрузка уведомлений не удалась", slog.String("error", err.Error()))
	}

	go c.streamLoop(runCtx)
	go c.pollLoop(runCtx)
	c.logger.Info("Канал уведомлений открыт")
}

// Close останавливает поток и опрос. Идемпотентен.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return
	}
	c.alive = false
	c.cancel()
	c.cancel = nil
	c.logger.Info("Канал уведомлений закрыт")
}

// Snapshot возвращает копию списка и число непрочитанных.
func (c *Channel) Snapshot() ([]model.Notification, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// MarkRead помечает уведомление прочитанным: локально сразу, на бэкенде —
// в фоне. Сбой сети не откатывает локальную пометку, расхождение
// выровняет очередной опрос.
func (c *Channel) MarkRead(ctx context.Context, id string) {
	c.mu.Lock()
	for i := range c.notifications {
		if c.notifications[i].ID == id {
			c.notifications[i].IsRead = true
			break
		}
	}
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()
	c.notifyChange(snapshot, unread)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.authority.MarkNotificationRead(ctx, c.token(), id); err != nil {
			c.logger.Warn("Не удалось пометить уведомление прочитанным",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ClearAll очищает список: локально сразу, на бэкенде — в фоне.
func (c *Channel) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.notifications = nil
	c.mu.Unlock()
	c.notifyChange(nil, 0)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.authority.ClearNotifications(ctx, c.token()); err != nil {
			c.logger.Warn("Не удалось очистить уведомления", slog.String("error", err.Error()))
		}
	}()
}

// streamLoop держит real-time поток открытым, переподключаясь после
// каждого разрыва с фиксированной паузой.
func (c *Channel) streamLoop(ctx context.Context) {
	for {
		err := c.authority.StreamNotifications(ctx, c.token(), c.handleFrame)

		select {
		case <-ctx.Done():
			return
		default:
		}

		streamReconnectsTotal.Inc()
		if err != nil {
			c.logger.Debug("Поток уведомлений разорван",
				slog.String("error", err.Error()),
				slog.Duration("reconnect_in", c.cfg.ReconnectDelay),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// handleFrame обрабатывает один SSE-кадр потока.
func (c *Channel) handleFrame(_ string, data []byte) {
	ev, ok := authority.ParseStreamEvent(data, c.logger)
	if !ok {
		streamDroppedTotal.Inc()
		return
	}
	streamEventsTotal.Inc()

	c.mu.Lock()
	if !c.alive {
		// Кадр, гонящийся с Close, не должен помечать id виденным:
		// пометка пережила бы повторный Open и скрыла бы уведомление
		c.mu.Unlock()
		return
	}
	if c.seen.Seen(ev.Notification.ID) {
		c.mu.Unlock()
		return
	}
	c.notifications = append([]model.Notification{*ev.Notification}, c.notifications...)
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug("Получено уведомление из потока", slog.String("id", ev.Notification.ID))
	c.notifyChange(snapshot, unread)
}

// pollLoop — фоновая сверка с бэкендом, независимая от судьбы потока.
func (c *Channel) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.refresh(ctx); err != nil {
			c.logger.Debug("Сверка уведомлений не удалась", slog.String("error", err.Error()))
		}
	}
}

// refresh загружает полный список и перезаписывает им локальное состояние.
// Бэкенд — источник истины: сверка переживает любые пропуски потока.
func (c *Channel) refresh(ctx context.Context) error {
	list, err := c.authority.Notifications(ctx, c.token())
	if err != nil {
		return err
	}

	for i := range list {
		c.seen.Seen(list[i].ID)
	}

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil
	}
	c.notifications = list
	snapshot, unread := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyChange(snapshot, unread)
	return nil
}

// snapshotLocked возвращает копию списка и число непрочитанных.
// Вызывается под блокировкой.
func (c *Channel) snapshotLocked() ([]model.Notification, int) {
	snapshot := make([]model.Notification, len(c.notifications))
	copy(snapshot, c.notifications)
	return snapshot, model.UnreadCount(snapshot)
}

func (c *Channel) notifyChange(snapshot []model.Notification, unread int) {
	if c.cfg.OnChange == nil {
		return
	}
	c.cfg.OnChange(snapshot, unread)
}
