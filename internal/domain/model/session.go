// session.go — сессии устройств и QR-сессии кросс-девайсного входа.
package model

import (
	"fmt"
	"net/url"
	"time"
)

// DeviceSession — снимок активной сессии устройства, возвращаемый бэкендом
// при конфликте лимита сессий или в журнале активности.
// Read-only: локально никогда не мутируется, удаляется только явным
// запросом на терминирование.
type DeviceSession struct {
	// ID — идентификатор сессии
	ID string `json:"id"`
	// DeviceClass — класс устройства (desktop, mobile, tablet)
	DeviceClass string `json:"device_class"`
	// OS — операционная система
	OS string `json:"os"`
	// Browser — браузер/клиент
	Browser string `json:"browser"`
	// IP — адрес, с которого открыта сессия
	IP string `json:"ip"`
	// LoginTime — время входа
	LoginTime time.Time `json:"login_time"`
}

// QRStatus — статус QR-сессии кросс-девайсного входа.
type QRStatus string

const (
	// QRStatusActive — сессия ждёт авторизации вторым устройством
	QRStatusActive QRStatus = "active"
	// QRStatusAuthorized — второе устройство подтвердило вход
	QRStatusAuthorized QRStatus = "authorized"
	// QRStatusExpired — сессия истекла на стороне бэкенда
	QRStatusExpired QRStatus = "expired"
)

// QRLoginSession — серверная QR-сессия, которую аутентифицированное
// устройство может авторизовать для входа неаутентифицированного.
// При ротации не мутируется, а замещается новым экземпляром с новым ID.
type QRLoginSession struct {
	// SessionID — идентификатор QR-сессии
	SessionID string
	// CreatedAt — момент создания
	CreatedAt time.Time
	// Status — текущий статус (active, authorized, expired)
	Status QRStatus
	// RotationDeadline — момент, после которого сессия замещается новой
	RotationDeadline time.Time
}

// Remaining возвращает оставшееся время до ротации (не меньше нуля).
func (s *QRLoginSession) Remaining(now time.Time) time.Duration {
	d := s.RotationDeadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TargetURL формирует URL для кодирования в QR: ссылка, по которой
// аутентифицированное устройство попадает на endpoint авторизации.
func (s *QRLoginSession) TargetURL(baseURL string) string {
	return fmt.Sprintf("%s/qr-login/%s", baseURL, url.PathEscape(s.SessionID))
}
