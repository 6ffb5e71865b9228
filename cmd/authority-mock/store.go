// store.go — in-memory состояние Authority Mock: пользователи, сессии,
// pre-auth токены, QR-сессии, уведомления и SSE-подписчики.
package main

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// mockUser — учётная запись тестового пользователя.
type mockUser struct {
	Username    string
	Password    string
	DisplayName string
	Role        model.Role
	// TwoFactor — у пользователя привязан аутентификатор;
	// мок принимает фиксированный код totpCode
	TwoFactor bool
	// NeedsEnrollment — вход требует первичной настройки 2FA
	NeedsEnrollment bool
	Permissions     model.PermissionSet
}

// фиксированные коды мока
const (
	totpCode     = "123456"
	emailOTPCode = "654321"
)

// session — активная пользовательская сессия.
type session struct {
	ID          string
	Username    string
	Token       string
	DeviceClass string
	IP          string
	LoginTime   time.Time
}

// preAuth — незавершённый вход, ожидающий 2FA.
type preAuth struct {
	Token     string
	Username  string
	Enrolling bool
	// EmailRequested — код отправлен (принимается emailOTPCode)
	EmailRequested bool
	CreatedAt      time.Time
}

// qrSession — состояние QR-handshake.
type qrSession struct {
	ID        string
	Status    model.QRStatus
	Grant     *session
	CreatedAt time.Time
}

// store — всё состояние мока под одним мьютексом.
type store struct {
	mu sync.Mutex

	users map[string]*mockUser
	// sessions: id -> сессия
	sessions map[string]*session
	// byToken: access токен -> id сессии
	byToken map[string]string
	preAuth map[string]*preAuth
	qr      map[string]*qrSession
	// failedLogins: username -> число неудачных попыток подряд
	failedLogins map[string]int
	// notifications: username -> список (новые в начале)
	notifications map[string][]model.Notification
	// subscribers: SSE-подписчики по username
	subscribers map[string]map[chan model.Notification]struct{}

	sessionLimit     int
	captchaThreshold int
	qrTTL            time.Duration
}

// newStore создаёт состояние с демо-пользователями.
func newStore(sessionLimit, captchaThreshold int, qrTTL time.Duration) *store {
	s := &store{
		users:            make(map[string]*mockUser),
		sessions:         make(map[string]*session),
		byToken:          make(map[string]string),
		preAuth:          make(map[string]*preAuth),
		qr:               make(map[string]*qrSession),
		failedLogins:     make(map[string]int),
		notifications:    make(map[string][]model.Notification),
		subscribers:      make(map[string]map[chan model.Notification]struct{}),
		sessionLimit:     sessionLimit,
		captchaThreshold: captchaThreshold,
		qrTTL:            qrTTL,
	}

	for _, u := range []*mockUser{
		{Username: "admin", Password: "admin123", DisplayName: "Администратор", Role: model.RoleAdmin},
		{Username: "manager", Password: "manager123", DisplayName: "Менеджер", Role: model.RoleManager, TwoFactor: true},
		{Username: "tech", Password: "tech123", DisplayName: "Техник", Role: model.RoleTechnician, TwoFactor: true},
		{Username: "newbie", Password: "newbie123", DisplayName: "Новый техник", Role: model.RoleTechnician, NeedsEnrollment: true},
		{Username: "user", Password: "user123", DisplayName: "Пользователь", Role: model.RoleUser},
	} {
		s.users[u.Username] = u
	}

	return s
}

// identityFor собирает Identity пользователя.
func (s *store) identityFor(u *mockUser) *model.Identity {
	return &model.Identity{
		ID:          "u-" + u.Username,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Permissions: u.Permissions,
	}
}

// newSessionLocked регистрирует сессию с заранее выпущенным токеном.
// Вызывается под блокировкой.
func (s *store) newSessionLocked(id, username, token, deviceClass, ip string) *session {
	sess := &session{
		ID:          id,
		Username:    username,
		Token:       token,
		DeviceClass: deviceClass,
		IP:          ip,
		LoginTime:   time.Now(),
	}
	s.sessions[sess.ID] = sess
	s.byToken[token] = sess.ID
	return sess
}

// userSessionsLocked возвращает сессии пользователя. Вызывается под блокировкой.
func (s *store) userSessionsLocked(username string) []*session {
	var out []*session
	for _, sess := range s.sessions {
		if sess.Username == username {
			out = append(out, sess)
		}
	}
	return out
}

// dropSessionLocked удаляет сессию. Вызывается под блокировкой.
func (s *store) dropSessionLocked(id string) {
	if sess, ok := s.sessions[id]; ok {
		delete(s.byToken, sess.Token)
		delete(s.sessions, id)
	}
}

// sessionByToken находит сессию по access токену.
func (s *store) sessionByToken(token string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil
	}
	return s.sessions[id]
}

// pushNotification добавляет уведомление и рассылает его подписчикам.
func (s *store) pushNotification(username string, n model.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.notifications[username] = append([]model.Notification{n}, s.notifications[username]...)
	subs := make([]chan model.Notification, 0, len(s.subscribers[username]))
	for ch := range s.subscribers[username] {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			// подписчик не успевает — событие теряется, сверка опросом догонит
		}
	}
}

// subscribe регистрирует SSE-подписчика.
func (s *store) subscribe(username string) chan model.Notification {
	ch := make(chan model.Notification, 16)
	s.mu.Lock()
	if s.subscribers[username] == nil {
		s.subscribers[username] = make(map[chan model.Notification]struct{})
	}
	s.subscribers[username][ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// unsubscribe снимает SSE-подписчика.
func (s *store) unsubscribe(username string, ch chan model.Notification) {
	s.mu.Lock()
	delete(s.subscribers[username], ch)
	s.mu.Unlock()
}
