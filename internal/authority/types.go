// types.go — DTO запросов/ответов session authority.
package authority

import "github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"

// TokenGrant — полный результат аутентификации: bearer токен + id сессии.
type TokenGrant struct {
	// AccessToken — opaque bearer токен
	AccessToken string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг ответа authority
	// SessionID — идентификатор выданной сессии
	SessionID string `json:"session_id"`
}

// LoginResult — исход попытки входа по паролю.
// Ровно одно из полей не-nil: Grant при полном успехе, Challenge если
// бэкенд пометил вход незавершённым (2FA или первичная настройка 2FA).
type LoginResult struct {
	Grant     *TokenGrant
	Challenge *model.PendingChallenge
}

// TwoFactorSetup — секрет и QR-payload для первичной настройки 2FA.
type TwoFactorSetup struct {
	// Secret — base32 секрет TOTP
	Secret string `json:"secret"`
	// QRCode — otpauth:// payload для отображения QR-кода
	QRCode string `json:"qr_code"`
}

// loginResponse — сырой ответ POST /auth/login.
type loginResponse struct {
	Status       string `json:"status"`
	Username     string `json:"username"`
	PreAuthToken string `json:"pre_auth_token"` //nolint:gosec // G117: JSON-маппинг ответа authority
	AccessToken  string `json:"access_token"`   //nolint:gosec // G117: JSON-маппинг ответа authority
	SessionID    string `json:"session_id"`
}

// qrStatusResponse — сырой ответ GET /auth/qr/status/{id}.
type qrStatusResponse struct {
	Status      string `json:"status"`
	AccessToken string `json:"access_token,omitempty"` //nolint:gosec // G117: JSON-маппинг ответа authority
	SessionID   string `json:"session_id,omitempty"`
}

// QRState — статус QR-сессии с опциональным грантом.
// Grant не-nil только при Status == model.QRStatusAuthorized.
type QRState struct {
	Status model.QRStatus
	Grant  *TokenGrant
}

// StreamEvent — одно событие из real-time потока уведомлений.
type StreamEvent struct {
	// Type — тип события ("new_notification" — единственный распознаваемый)
	Type string `json:"type"`
	// Notification — полезная нагрузка для new_notification
	Notification *model.Notification `json:"notification"`
}
