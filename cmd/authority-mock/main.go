// Authority Mock — in-memory session authority для тестовой среды Desk Agent.
// Реализует полный auth-контракт: вход с лимитом сессий и CAPTCHA-сигналом,
// 2FA (аутентификатор, email-код, первичная настройка), QR-handshake,
// профиль, журнал активности, уведомления с SSE-потоком.
//
// Демо-пользователи: admin/admin123, manager/manager123 (2FA, код 123456),
// tech/tech123 (2FA), newbie/newbie123 (настройка 2FA), user/user123.
// Тестовый хук POST /mock/notifications/{username} вбрасывает уведомление.
package main

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// config хранит конфигурацию сервиса из env-переменных.
type config struct {
	Port             string        // MOCK_PORT — порт HTTP-сервера (default: 8090)
	SessionLimit     int           // MOCK_SESSION_LIMIT — лимит одновременных сессий (default: 3)
	CaptchaThreshold int           // MOCK_CAPTCHA_THRESHOLD — неудачных попыток до CAPTCHA (default: 3)
	QRTTL            time.Duration // MOCK_QR_TTL — время жизни QR-сессии (default: 60s)
}

// loadConfig загружает конфигурацию из переменных окружения.
func loadConfig() config {
	cfg := config{
		Port:             envOrDefault("MOCK_PORT", "8090"),
		SessionLimit:     3,
		CaptchaThreshold: 3,
		QRTTL:            60 * time.Second,
	}

	if v := os.Getenv("MOCK_SESSION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionLimit = n
		}
	}
	if v := os.Getenv("MOCK_CAPTCHA_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CaptchaThreshold = n
		}
	}
	if v := os.Getenv("MOCK_QR_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.QRTTL = d
		}
	}

	return cfg
}

// envOrDefault возвращает значение env-переменной или default.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	// Загрузка конфигурации
	cfg := loadConfig()

	// Настройка логгера (JSON)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Случайный ключ подписи — токены живут только в рамках одного запуска
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		logger.Error("Ошибка генерации ключа подписи", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &mockServer{
		store:      newStore(cfg.SessionLimit, cfg.CaptchaThreshold, cfg.QRTTL),
		signingKey: signingKey,
		logger:     logger,
	}

	// Маршруты
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", srv.handleLogin)
		r.Post("/auth/2fa/verify", srv.handleVerify(false))
		r.Post("/auth/2fa/email-otp/verify", srv.handleVerify(false))
		r.Post("/auth/2fa/email-otp/request", srv.handleEmailOTPRequest)
		r.Post("/auth/2fa/setup/initiate", srv.handleSetupInitiate)
		r.Post("/auth/2fa/setup/finalize", srv.handleVerify(true))
		r.Post("/auth/qr/initiate", srv.handleQRInitiate)
		r.Get("/auth/qr/status/{id}", srv.handleQRStatus)
		r.Post("/auth/qr/authorize/{id}", srv.handleQRAuthorize)
		r.Get("/auth/me", srv.handleMe)
		r.Put("/auth/me", srv.handleUpdateMe)
		r.Delete("/auth/sessions/{id}", srv.handleTerminateSession)
		r.Post("/auth/sessions/terminate-by-credentials", srv.handleTerminateByCredentials)
		r.Get("/auth/activity", srv.handleActivity)
		r.Delete("/auth/activity", srv.handleDeleteActivity)
		r.Delete("/auth/activity/{id}", srv.handleDeleteActivity)
		r.Get("/notifications/", srv.handleNotifications)
		r.Put("/notifications/{id}/read", srv.handleMarkRead)
		r.Delete("/notifications/clear", srv.handleClearNotifications)
		r.Get("/notifications/stream", srv.handleStream)
	})
	router.Post("/mock/notifications/{username}", srv.handleInjectNotification)
	router.Get("/health/live", srv.handleHealth)
	router.Get("/health/ready", srv.handleHealth)

	addr := ":" + cfg.Port
	logger.Info("Запуск Authority Mock",
		slog.String("addr", addr),
		slog.Int("session_limit", cfg.SessionLimit),
	)
	if err := http.ListenAndServe(addr, router); err != nil { //nolint:gosec // G114: тестовый сервис
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
