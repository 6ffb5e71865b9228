// Пакет dephealth — интеграция с topologymetrics SDK для мониторинга
// зависимостей.
//
// Desk Agent мониторит единственную внешнюю зависимость:
//   - Authority — HTTP checker к его health endpoint (critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package dephealth

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// Service — сервис мониторинга зависимостей через topologymetrics.
type Service struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// New создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "desk-agent")
//   - group — имя группы в метриках (DA_DEPHEALTH_GROUP)
//   - authorityURL — базовый URL Authority
//   - checkInterval — интервал проверки зависимостей (DA_DEPHEALTH_CHECK_INTERVAL)
//   - isEntry — при true добавляет лейбл isentry=yes ко всем зависимостям (DEPHEALTH_ISENTRY)
func New(
	serviceID string,
	group string,
	authorityURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
) (*Service, error) {
	return newService(serviceID, group, authorityURL, checkInterval, isEntry, logger)
}

// NewWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewWithRegisterer(
	serviceID string,
	group string,
	authorityURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*Service, error) {
	return newService(serviceID, group, authorityURL, checkInterval, isEntry,
		logger, dephealth.WithRegisterer(registerer))
}

// newService — внутренний конструктор.
func newService(
	serviceID string,
	group string,
	authorityURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*Service, error) {
	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(authorityURL),
		dephealth.WithHTTPHealthPath("/health/ready"),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}
	if isEntry {
		depOpts = append(depOpts, dephealth.WithLabel("isentry", "yes"))
	}

	// Для Authority определяем TLS из URL
	if parsed, err := url.Parse(authorityURL); err == nil && parsed.Scheme == "https" {
		depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 2+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		// Authority — HTTP checker к /health/ready
		dephealth.HTTP("authority", depOpts...),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Мониторинг зависимостей запущен (Authority)")
	return s.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (s *Service) Stop() {
	s.dh.Stop()
	s.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (s *Service) Health() map[string]bool {
	return s.dh.Health()
}
