// errors.go — типизированная таксономия ошибок session authority.
// Все методы клиента возвращают ошибки отсюда; сырые транспортные ошибки
// оборачиваются через %w и наружу state machine не протекают.
package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

var (
	// ErrInvalidCredentials — неверная пара логин/пароль.
	ErrInvalidCredentials = errors.New("неверные учётные данные")
	// ErrCaptchaRequired — бэкенд требует пройти CAPTCHA перед повторной попыткой.
	ErrCaptchaRequired = errors.New("требуется прохождение CAPTCHA")
	// ErrCaptchaMismatch — ответ CAPTCHA не совпал с ожидаемым.
	// Проверяется локально, до сетевого вызова.
	ErrCaptchaMismatch = errors.New("неверный ответ CAPTCHA")
	// ErrTwoFactorCodeInvalid — неверный код 2FA; pre-auth контекст сохраняется,
	// пользователь может ввести код повторно.
	ErrTwoFactorCodeInvalid = errors.New("неверный код двухфакторной аутентификации")
	// ErrPreAuthExpired — pre-auth токен истёк или отозван (401 на шаге 2FA).
	// Невосстановимо: вход начинается заново с учётных данных.
	ErrPreAuthExpired = errors.New("pre-auth токен истёк")
	// ErrTokenExpired — access токен истёк или отозван (401 на
	// аутентифицированном вызове). Принудительный logout.
	ErrTokenExpired = errors.New("access токен истёк")
)

// SessionLimitError — отказ бэкенда выдать новую сессию: аккаунт уже держит
// максимум одновременных сессий. Несёт список конфликтующих сессий.
type SessionLimitError struct {
	Sessions []model.DeviceSession
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("превышен лимит одновременных сессий: %d активных", len(e.Sessions))
}

// sessionConflictPayload — нормализация трёх наблюдаемых форм тела 409:
// {"sessions": [...]}, {"detail": {"sessions": [...]}} и
// {"error": {"sessions": [...]}}. Наружу всегда выходит один
// SessionLimitError.
type sessionConflictPayload struct {
	Sessions []model.DeviceSession `json:"sessions"`
	Detail   *struct {
		Sessions []model.DeviceSession `json:"sessions"`
	} `json:"detail"`
	Err *struct {
		Sessions []model.DeviceSession `json:"sessions"`
	} `json:"error"`
}

// parseSessionConflict разбирает тело ответа 409 в SessionLimitError.
// Непарсящееся тело даёт конфликт с пустым списком сессий — состояние
// всё равно корректное, просто без деталей для выбора.
func parseSessionConflict(body []byte) *SessionLimitError {
	var payload sessionConflictPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return &SessionLimitError{}
	}
	switch {
	case len(payload.Sessions) > 0:
		return &SessionLimitError{Sessions: payload.Sessions}
	case payload.Detail != nil:
		return &SessionLimitError{Sessions: payload.Detail.Sessions}
	case payload.Err != nil:
		return &SessionLimitError{Sessions: payload.Err.Sessions}
	default:
		return &SessionLimitError{}
	}
}

// errorDetail извлекает поле detail из тела ошибки.
// Принимает как {"detail": "строка"}, так и сырой текст.
func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}

// detailRequiresCaptcha распознаёт требование CAPTCHA в detail-строке.
func detailRequiresCaptcha(detail string) bool {
	return strings.Contains(detail, "captcha_required")
}
