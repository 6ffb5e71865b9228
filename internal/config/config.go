// Пакет config — загрузка и валидация конфигурации Desk Agent
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Desk Agent.
type Config struct {
	// --- Authority ---

	// Базовый URL Authority (обязательный)
	AuthorityURL string
	// Путь к CA-сертификату Authority (опционально, для self-signed TLS)
	AuthorityCACert string
	// Таймаут HTTP-запросов к Authority (по умолчанию 30s)
	AuthorityTimeout time.Duration

	// --- Хранилище учётных данных ---

	// Путь к файлу зашифрованных учётных данных
	CredFile string
	// Ключ шифрования: base64 (32 байта) или произвольная строка
	CredKey string

	// --- QR-вход ---

	// Окно жизни одной QR-сессии (по умолчанию 30s)
	QRRotateInterval time.Duration
	// Период опроса статуса QR-сессии (по умолчанию 3s)
	QRPollInterval time.Duration

	// --- Контроль бездействия ---

	// Порог бездействия (по умолчанию 9m)
	IdleTimeout time.Duration
	// Длительность финального отсчёта предупреждения (по умолчанию 60s)
	IdleWarningCountdown time.Duration

	// --- Уведомления ---

	// Пауза перед переподключением потока (по умолчанию 5s)
	NotifyReconnectDelay time.Duration
	// Период фонового опроса-сверки (по умолчанию 60s)
	NotifyPollInterval time.Duration

	// --- Сервер наблюдаемости ---

	// Порт HTTP-сервера метрик и health-проб (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Мониторинг зависимостей ---

	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
	// Имя группы в метриках топологии
	DephealthGroup string
	// Лейбл isentry=yes на всех зависимостях
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Authority ---

	// DA_AUTHORITY_URL — базовый URL Authority (обязательный)
	cfg.AuthorityURL, err = getEnvRequired("DA_AUTHORITY_URL")
	if err != nil {
		return nil, err
	}
	cfg.AuthorityURL = strings.TrimRight(cfg.AuthorityURL, "/")

	// DA_AUTHORITY_CA_CERT — путь к CA-сертификату (опционально)
	cfg.AuthorityCACert = getEnvDefault("DA_AUTHORITY_CA_CERT", "")

	// DA_AUTHORITY_TIMEOUT — таймаут запросов к Authority (по умолчанию 30s)
	cfg.AuthorityTimeout, err = getEnvDuration("DA_AUTHORITY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_AUTHORITY_TIMEOUT: %w", err)
	}

	// --- Хранилище учётных данных ---

	// DA_CRED_FILE — путь к файлу учётных данных
	cfg.CredFile = getEnvDefault("DA_CRED_FILE", defaultCredFile())

	// DA_CRED_KEY — ключ шифрования (при пустом значении генерируется
	// случайный, учётные данные не переживут рестарт)
	cfg.CredKey = getEnvDefault("DA_CRED_KEY", "")

	// --- QR-вход ---

	// DA_QR_ROTATE_INTERVAL — окно жизни QR-сессии (по умолчанию 30s)
	cfg.QRRotateInterval, err = getEnvDuration("DA_QR_ROTATE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_QR_ROTATE_INTERVAL: %w", err)
	}

	// DA_QR_POLL_INTERVAL — период опроса QR-статуса (по умолчанию 3s)
	cfg.QRPollInterval, err = getEnvDuration("DA_QR_POLL_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_QR_POLL_INTERVAL: %w", err)
	}

	if cfg.QRPollInterval >= cfg.QRRotateInterval {
		return nil, fmt.Errorf("DA_QR_POLL_INTERVAL: период опроса (%s) должен быть меньше окна ротации (%s)",
			cfg.QRPollInterval, cfg.QRRotateInterval)
	}

	// --- Контроль бездействия ---

	// DA_IDLE_TIMEOUT — порог бездействия (по умолчанию 9m)
	cfg.IdleTimeout, err = getEnvDuration("DA_IDLE_TIMEOUT", 9*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DA_IDLE_TIMEOUT: %w", err)
	}

	// DA_IDLE_WARNING_COUNTDOWN — финальный отсчёт (по умолчанию 60s)
	cfg.IdleWarningCountdown, err = getEnvDuration("DA_IDLE_WARNING_COUNTDOWN", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_IDLE_WARNING_COUNTDOWN: %w", err)
	}

	// --- Уведомления ---

	// DA_NOTIFY_RECONNECT_DELAY — пауза переподключения потока (по умолчанию 5s)
	cfg.NotifyReconnectDelay, err = getEnvDuration("DA_NOTIFY_RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_NOTIFY_RECONNECT_DELAY: %w", err)
	}

	// DA_NOTIFY_POLL_INTERVAL — период опроса-сверки (по умолчанию 60s)
	cfg.NotifyPollInterval, err = getEnvDuration("DA_NOTIFY_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_NOTIFY_POLL_INTERVAL: %w", err)
	}

	// --- Сервер наблюдаемости ---

	// DA_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DA_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DA_PORT: %w", err)
	}

	// DA_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DA_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DA_LOG_LEVEL: %w", err)
	}

	// DA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DA_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	// DA_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("DA_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_HTTP_READ_TIMEOUT: %w", err)
	}

	// DA_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("DA_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// DA_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("DA_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// DA_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DA_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// DA_DEPHEALTH_CHECK_INTERVAL — интервал проверки (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("DA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DA_DEPHEALTH_GROUP — имя группы в метриках (по умолчанию helpdesk)
	cfg.DephealthGroup = getEnvDefault("DA_DEPHEALTH_GROUP", "helpdesk")

	// DEPHEALTH_ISENTRY — лейбл isentry=yes (по умолчанию false)
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// defaultCredFile — путь по умолчанию к файлу учётных данных
// в домашнем каталоге пользователя.
func defaultCredFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "desk-agent-credentials.enc"
	}
	return home + "/.desk-agent/credentials.enc"
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
