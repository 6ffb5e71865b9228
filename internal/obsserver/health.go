// health.go — обработчики health endpoints Desk Agent.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (Authority доступен)
// /metrics — Prometheus метрики
package obsserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/config"
)

// DependencyHealth отдаёт состояние зависимостей: имя -> ok.
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps — мониторинг зависимостей (может быть nil — readiness вернёт "fail").
func NewHealthHandler(deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Authority healthCheckResult `json:"authority"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "desk-agent",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady — readiness probe. Проверяет Authority.
// Возвращает 200 (ok) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "desk-agent",
	}

	resp.Checks.Authority = h.authorityCheck()
	resp.Status = resp.Checks.Authority.Status

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// Константы статусов health check.
const statusFail = "fail"

// authorityCheck сводит состояние Authority из мониторинга зависимостей.
func (h *HealthHandler) authorityCheck() healthCheckResult {
	if h.deps == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	ok, found := h.deps.Health()["authority"]
	if !found {
		return healthCheckResult{Status: statusFail, Message: "проверка ещё не выполнялась"}
	}
	if !ok {
		return healthCheckResult{Status: statusFail, Message: "authority недоступен"}
	}
	return healthCheckResult{Status: "ok"}
}
