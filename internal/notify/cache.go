package notify

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики дедупликации.
var (
	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_notify_dedup_hits_total",
		Help: "Уведомления, отброшенные как уже виденные.",
	})
	dedupMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "da_notify_dedup_misses_total",
		Help: "Уведомления, принятые как новые.",
	})
)

// seenCache — LRU-кэш идентификаторов уже виденных уведомлений с TTL.
// Поток и фоновый опрос работают независимо и могут доставить одно и то же
// уведомление дважды; кэш гасит дубли на входе.
// Обёртка над hashicorp/golang-lru/v2/expirable.
type seenCache struct {
	cache *expirable.LRU[string, struct{}]
}

// newSeenCache создаёт кэш на maxSize идентификаторов с TTL записи.
func newSeenCache(maxSize int, ttl time.Duration) *seenCache {
	return &seenCache{cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// Seen отмечает идентификатор и сообщает, встречался ли он раньше.
// Обновляет Prometheus-метрики hit/miss.
func (c *seenCache) Seen(id string) bool {
	if _, ok := c.cache.Get(id); ok {
		dedupHitsTotal.Inc()
		return true
	}
	dedupMissesTotal.Inc()
	c.cache.Add(id, struct{}{})
	return false
}
