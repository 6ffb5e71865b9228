// Пакет authflow — state machine аутентификации Desk Agent.
// Композирует клиент authority, хранилище учётных данных и разрешение
// конфликтов лимита сессий в единый контроллер входа/выхода/обновления.
// Владеет текущей аутентифицированной идентичностью.
//
// Переходы: LoggedOut → Authenticating → {Authenticated, AwaitingTwoFactor,
// AwaitingEnrollment, SessionLimitExceeded} → Authenticated → LoggedOut.
// Authenticated re-entrant: refresh профиля состояние не меняет.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/credstore"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/sessionlimit"
)

// State — состояние машины аутентификации.
type State string

const (
	StateLoggedOut            State = "logged_out"
	StateAuthenticating       State = "authenticating"
	StateAuthenticated        State = "authenticated"
	StateAwaitingTwoFactor    State = "awaiting_2fa"
	StateAwaitingEnrollment   State = "awaiting_2fa_setup"
	StateSessionLimitExceeded State = "session_limit_exceeded"
)

// ErrSuperseded — результат сетевого вызова пришёл для уже заброшенного
// контекста (состояние машины успело смениться). Побочные эффекты подавлены.
var ErrSuperseded = errors.New("операция отменена: состояние машины изменилось")

// ErrWrongState — операция недопустима в текущем состоянии машины.
var ErrWrongState = errors.New("операция недопустима в текущем состоянии")

// logoutCallTimeout — таймаут best-effort запроса инвалидации при logout.
const logoutCallTimeout = 5 * time.Second

// Prometheus-метрики машины аутентификации.
var (
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "da_login_attempts_total",
			Help: "Попытки входа по исходам (success, two_factor, conflict, rejected, error).",
		},
		[]string{"outcome"},
	)
	forcedLogoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "da_forced_logouts_total",
			Help: "Принудительные logout по причинам (token_expired, preauth_expired, idle).",
		},
		[]string{"reason"},
	)
)

// TransitionHook вызывается после каждого перехода состояния, вне
// внутренней блокировки машины (можно синхронно дёргать методы Machine).
type TransitionHook func(from, to State)

// retryKind — вид операции, породившей конфликт лимита сессий.
type retryKind int

const (
	retryLogin retryKind = iota
	retryVerify
	retryEnrollment
)

// pendingConflict — конфликт лимита сессий и контекст для однократного
// повтора исходной операции с её исходными входами.
type pendingConflict struct {
	sessions []model.DeviceSession
	kind     retryKind
	username string
	password string
	code     string
	method   model.TwoFactorMethod
}

// Machine — машина аутентификации. Все мутации состояния сериализованы
// через mu; сетевые вызовы выполняются вне блокировки, их результаты
// принимаются только если поколение (gen) не изменилось.
type Machine struct {
	mu  sync.Mutex
	gen uint64

	state     State
	identity  *model.Identity
	challenge model.PendingChallenge
	conflict  *pendingConflict
	token     string
	sessionID string

	// captchaAnswer — ожидаемый ответ отрисованной CAPTCHA ("" — проверка
	// не требуется). Сверяется локально, до сетевого вызова.
	captchaAnswer   string
	captchaRequired bool

	authority *authority.Client
	creds     *credstore.Store
	logger    *slog.Logger

	hook      TransitionHook
	hookQueue []stateChange
}

type stateChange struct{ from, to State }

// New создаёт машину в состоянии LoggedOut.
// hook может быть nil.
func New(auth *authority.Client, creds *credstore.Store, logger *slog.Logger, hook TransitionHook) *Machine {
	return &Machine{
		state:     StateLoggedOut,
		authority: auth,
		creds:     creds,
		logger:    logger.With(slog.String("component", "auth_machine")),
		hook:      hook,
	}
}

// State возвращает текущее состояние.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity возвращает текущую идентичность (nil вне Authenticated).
func (m *Machine) Identity() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Challenge возвращает незавершённый шаг входа (zero value — нет).
func (m *Machine) Challenge() model.PendingChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// Token возвращает текущий access токен ("" вне Authenticated).
// Используется как TokenProvider каналом уведомлений и монитором простоя.
func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SessionID возвращает идентификатор текущей сессии.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// CaptchaRequired сообщает, требует ли следующая попытка входа CAPTCHA.
func (m *Machine) CaptchaRequired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captchaRequired
}

// SetCaptchaChallenge фиксирует ожидаемый ответ отрисованной CAPTCHA.
// Вызывается после каждой отрисовки challenge.
func (m *Machine) SetCaptchaChallenge(answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captchaRequired = true
	m.captchaAnswer = strings.TrimSpace(answer)
}

// Login выполняет вход по паролю из состояния LoggedOut.
// CAPTCHA (если требуется) сверяется локально до сетевого вызова.
func (m *Machine) Login(ctx context.Context, username, password, captchaResponse string) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.mu.Unlock()
		return fmt.Errorf("%w: login из %s", ErrWrongState, m.state)
	}
	if m.captchaRequired && !strings.EqualFold(strings.TrimSpace(captchaResponse), m.captchaAnswer) {
		m.mu.Unlock()
		loginAttemptsTotal.WithLabelValues("rejected").Inc()
		return authority.ErrCaptchaMismatch
	}
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	return m.submitLogin(ctx, username, password)
}

// submitLogin — сетевой вызов входа и обработка исхода.
// Состояние уже Authenticating; вызывается без блокировки.
func (m *Machine) submitLogin(ctx context.Context, username, password string) error {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	attemptID := uuid.NewString()
	m.logger.Info("Попытка входа",
		slog.String("username", username),
		slog.String("attempt_id", attemptID),
	)

	res, err := m.authority.Login(ctx, username, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}

	if err != nil {
		var limitErr *authority.SessionLimitError
		switch {
		case errors.As(err, &limitErr):
			m.conflict = &pendingConflict{
				sessions: limitErr.Sessions,
				kind:     retryLogin,
				username: username,
				password: password,
			}
			m.setStateLocked(StateSessionLimitExceeded)
			loginAttemptsTotal.WithLabelValues("conflict").Inc()
		case errors.Is(err, authority.ErrCaptchaRequired):
			m.captchaRequired = true
			m.setStateLocked(StateLoggedOut)
			loginAttemptsTotal.WithLabelValues("rejected").Inc()
		case errors.Is(err, authority.ErrInvalidCredentials):
			m.setStateLocked(StateLoggedOut)
			loginAttemptsTotal.WithLabelValues("rejected").Inc()
		default:
			m.setStateLocked(StateLoggedOut)
			loginAttemptsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	if res.Challenge != nil {
		m.challenge = *res.Challenge
		// Пароль принят — текущая CAPTCHA использована
		m.captchaRequired = false
		m.captchaAnswer = ""
		if res.Challenge.Kind == model.ChallengeEnrollment {
			m.setStateLocked(StateAwaitingEnrollment)
		} else {
			m.setStateLocked(StateAwaitingTwoFactor)
		}
		loginAttemptsTotal.WithLabelValues("two_factor").Inc()
		return nil
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	return m.adoptGrantLocked(ctx, res.Grant)
}

// CompleteTwoFactor обменивает pre-auth токен + код на полный грант.
// method выбирает endpoint: код приложения или email-OTP.
// Неверный код — восстановимо: pre-auth контекст сохраняется.
func (m *Machine) CompleteTwoFactor(ctx context.Context, code string, method model.TwoFactorMethod) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateAwaitingTwoFactor {
		m.mu.Unlock()
		return fmt.Errorf("%w: verify из %s", ErrWrongState, m.state)
	}
	preAuth := m.challenge.PreAuthToken
	gen := m.gen
	m.mu.Unlock()

	grant, err := m.verifyCall(ctx, retryVerify, preAuth, code, method)
	return m.acceptVerifyResult(ctx, gen, retryVerify, code, method, grant, err)
}

// CompleteEnrollment завершает первичную настройку 2FA кодом из
// только что привязанного приложения.
func (m *Machine) CompleteEnrollment(ctx context.Context, code string) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateAwaitingEnrollment {
		m.mu.Unlock()
		return fmt.Errorf("%w: finalize из %s", ErrWrongState, m.state)
	}
	preAuth := m.challenge.PreAuthToken
	gen := m.gen
	m.mu.Unlock()

	grant, err := m.verifyCall(ctx, retryEnrollment, preAuth, code, model.MethodAuthenticator)
	return m.acceptVerifyResult(ctx, gen, retryEnrollment, code, model.MethodAuthenticator, grant, err)
}

// verifyCall выбирает verify-endpoint по виду операции и методу.
func (m *Machine) verifyCall(ctx context.Context, kind retryKind, preAuth, code string, method model.TwoFactorMethod) (*authority.TokenGrant, error) {
	if kind == retryEnrollment {
		return m.authority.FinalizeTwoFactorSetup(ctx, preAuth, code)
	}
	if method == model.MethodEmailOTP {
		return m.authority.VerifyEmailOTP(ctx, preAuth, code)
	}
	return m.authority.VerifyTwoFactor(ctx, preAuth, code)
}

// acceptVerifyResult применяет исход verify-вызова к состоянию машины.
func (m *Machine) acceptVerifyResult(ctx context.Context, gen uint64, kind retryKind, code string, method model.TwoFactorMethod, grant *authority.TokenGrant, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}

	if err != nil {
		var limitErr *authority.SessionLimitError
		switch {
		case errors.As(err, &limitErr):
			// Конфликт на шаге 2FA: pre-auth контекст (m.challenge)
			// сохраняется для повтора после терминирования
			m.conflict = &pendingConflict{
				sessions: limitErr.Sessions,
				kind:     kind,
				code:     code,
				method:   method,
			}
			m.setStateLocked(StateSessionLimitExceeded)
		case errors.Is(err, authority.ErrPreAuthExpired):
			// Невосстановимо: вход начинается заново с учётных данных
			m.resetLocked()
			m.setStateLocked(StateLoggedOut)
			forcedLogoutsTotal.WithLabelValues("preauth_expired").Inc()
		case errors.Is(err, authority.ErrTwoFactorCodeInvalid):
			// Восстановимо: challenge сохраняется, пользователь вводит код заново
		default:
			// Сетевая ошибка: challenge сохраняется, повтор за пользователем
		}
		return err
	}

	return m.adoptGrantLocked(ctx, grant)
}

// AdoptToken принимает грант, полученный вне парольного входа
// (авторизованная QR-сессия), и проводит его через тот же путь, что и
// успешный вход: сохранение токена, загрузка идентичности, Authenticated.
func (m *Machine) AdoptToken(ctx context.Context, grant authority.TokenGrant) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateLoggedOut && m.state != StateAuthenticating {
		m.mu.Unlock()
		return fmt.Errorf("%w: adopt из %s", ErrWrongState, m.state)
	}
	m.setStateLocked(StateAuthenticating)
	defer m.mu.Unlock()

	loginAttemptsTotal.WithLabelValues("success").Inc()
	return m.adoptGrantLocked(ctx, &grant)
}

// adoptGrantLocked завершает аутентификацию: сохраняет токен ДО перехода
// в Authenticated (инвариант согласованности хранилища и состояния),
// затем загружает идентичность. Вызывается под блокировкой; на время
// загрузки идентичности блокировка отпускается.
func (m *Machine) adoptGrantLocked(ctx context.Context, grant *authority.TokenGrant) error {
	if err := m.creds.Save(&credstore.Credentials{
		AccessToken: grant.AccessToken,
		SessionID:   grant.SessionID,
	}); err != nil {
		m.resetLocked()
		m.setStateLocked(StateLoggedOut)
		return fmt.Errorf("сохранение учётных данных: %w", err)
	}
	m.token = grant.AccessToken
	m.sessionID = grant.SessionID

	if exp, ok := credstore.TokenExpiry(grant.AccessToken); ok {
		m.logger.Debug("Получен access токен", slog.Time("expires_at", exp))
	}

	gen := m.gen
	m.mu.Unlock()
	identity, err := m.authority.Me(ctx, grant.AccessToken)
	m.mu.Lock()

	if m.gen != gen {
		return ErrSuperseded
	}
	if err != nil {
		// Без идентичности сессия не считается установленной
		m.resetLocked()
		m.setStateLocked(StateLoggedOut)
		return fmt.Errorf("загрузка идентичности после входа: %w", err)
	}

	m.identity = identity
	m.challenge = model.PendingChallenge{}
	m.conflict = nil
	m.captchaRequired = false
	m.captchaAnswer = ""
	if err := m.creds.Save(&credstore.Credentials{
		AccessToken: grant.AccessToken,
		SessionID:   grant.SessionID,
		Identity:    identity,
	}); err != nil {
		m.logger.Warn("Не удалось сохранить снимок идентичности", slog.String("error", err.Error()))
	}
	m.setStateLocked(StateAuthenticated)

	m.logger.Info("Вход выполнен",
		slog.String("username", identity.Username),
		slog.String("role", string(identity.Role)),
		slog.String("session_id", grant.SessionID),
	)
	return nil
}

// Logout завершает сессию. Локальная очистка выполняется безусловно и
// первой; уведомление authority — best-effort, его сбой не мешает выходу.
func (m *Machine) Logout(ctx context.Context) {
	defer m.flushHooks()

	m.mu.Lock()
	token, sessionID := m.token, m.sessionID
	m.resetLocked()
	m.setStateLocked(StateLoggedOut)
	m.mu.Unlock()

	if token == "" || sessionID == "" {
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutCallTimeout)
	defer cancel()
	if err := m.authority.TerminateSession(callCtx, token, sessionID); err != nil {
		m.logger.Warn("Не удалось инвалидировать сессию на бэкенде (выход выполнен локально)",
			slog.String("error", err.Error()),
		)
	}
}

// CancelChallenge отменяет незавершённый шаг входа (2FA, настройка,
// конфликт лимита) и возвращает машину в LoggedOut.
func (m *Machine) CancelChallenge() {
	defer m.flushHooks()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateAwaitingTwoFactor, StateAwaitingEnrollment, StateSessionLimitExceeded:
		m.resetLocked()
		m.setStateLocked(StateLoggedOut)
	default:
	}
}

// RefreshIdentity перечитывает идентичность. 401 трактуется как
// инициированный бэкендом logout; любой другой сбой не фатален и
// оставляет кэшированную идентичность нетронутой.
func (m *Machine) RefreshIdentity(ctx context.Context) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return fmt.Errorf("%w: refresh из %s", ErrWrongState, m.state)
	}
	token, sessionID := m.token, m.sessionID
	gen := m.gen
	m.mu.Unlock()

	identity, err := m.authority.Me(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}

	if errors.Is(err, authority.ErrTokenExpired) {
		m.resetLocked()
		m.setStateLocked(StateLoggedOut)
		forcedLogoutsTotal.WithLabelValues("token_expired").Inc()
		m.logger.Info("Бэкенд инвалидировал сессию, выполнен принудительный выход")
		return authority.ErrTokenExpired
	}
	if err != nil {
		return err
	}

	// Замена целиком; состояние не меняется (Authenticated re-entrant)
	m.identity = identity
	if err := m.creds.Save(&credstore.Credentials{
		AccessToken: token,
		SessionID:   sessionID,
		Identity:    identity,
	}); err != nil {
		m.logger.Warn("Не удалось сохранить снимок идентичности", slog.String("error", err.Error()))
	}
	return nil
}

// UpdateProfile отправляет изменения профиля и принимает обновлённую
// идентичность. Семантика ошибок как у RefreshIdentity.
func (m *Machine) UpdateProfile(ctx context.Context, updates map[string]any) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return fmt.Errorf("%w: update из %s", ErrWrongState, m.state)
	}
	token, sessionID := m.token, m.sessionID
	gen := m.gen
	m.mu.Unlock()

	identity, err := m.authority.UpdateMe(ctx, token, updates)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}
	if errors.Is(err, authority.ErrTokenExpired) {
		m.resetLocked()
		m.setStateLocked(StateLoggedOut)
		forcedLogoutsTotal.WithLabelValues("token_expired").Inc()
		return authority.ErrTokenExpired
	}
	if err != nil {
		return err
	}

	m.identity = identity
	if err := m.creds.Save(&credstore.Credentials{
		AccessToken: token,
		SessionID:   sessionID,
		Identity:    identity,
	}); err != nil {
		m.logger.Warn("Не удалось сохранить снимок идентичности", slog.String("error", err.Error()))
	}
	return nil
}

// Resume восстанавливает сессию из хранилища при старте агента и сразу
// валидирует её через RefreshIdentity (401 ⇒ принудительный выход).
// Возвращает true, если агент в итоге аутентифицирован.
func (m *Machine) Resume(ctx context.Context) (bool, error) {
	defer m.flushHooks()

	creds, err := m.creds.Load()
	if err != nil {
		return false, fmt.Errorf("чтение сохранённой сессии: %w", err)
	}
	if creds == nil || creds.AccessToken == "" {
		return false, nil
	}

	m.mu.Lock()
	if m.state != StateLoggedOut {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: resume из %s", ErrWrongState, m.state)
	}
	m.token = creds.AccessToken
	m.sessionID = creds.SessionID
	m.identity = creds.Identity
	m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()
	m.flushHooks()

	if exp, ok := credstore.TokenExpiry(creds.AccessToken); ok {
		m.logger.Info("Сессия восстановлена из хранилища", slog.Time("token_expires_at", exp))
	} else {
		m.logger.Info("Сессия восстановлена из хранилища")
	}

	if err := m.RefreshIdentity(ctx); err != nil {
		if errors.Is(err, authority.ErrTokenExpired) {
			return false, err
		}
		// Сетевой сбой при валидации не фатален: работаем со снимком
		m.logger.Warn("Валидация восстановленной сессии отложена",
			slog.String("error", err.Error()),
		)
	}
	return m.State() == StateAuthenticated, nil
}

// Conflict возвращает текущий конфликт лимита сессий в виде, пригодном
// для sessionlimit.Negotiator, или nil. Terminate использует пруф,
// соответствующий породившей конфликт операции: учётные данные для входа
// по паролю, pre-auth токен для шагов 2FA.
func (m *Machine) Conflict() *sessionlimit.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSessionLimitExceeded || m.conflict == nil {
		return nil
	}

	c := m.conflict
	out := &sessionlimit.Conflict{
		Sessions: append([]model.DeviceSession(nil), c.sessions...),
	}

	switch c.kind {
	case retryLogin:
		username, password := c.username, c.password
		out.Terminate = func(ctx context.Context, id string) error {
			return m.authority.TerminateSessionByCredentials(ctx, username, password, id)
		}
		out.Retry = func(ctx context.Context) error {
			return m.retryLogin(ctx)
		}
	default:
		preAuth := m.challenge.PreAuthToken
		out.Terminate = func(ctx context.Context, id string) error {
			err := m.authority.TerminateSession(ctx, preAuth, id)
			if errors.Is(err, authority.ErrTokenExpired) {
				// Пруфом был pre-auth токен
				return authority.ErrPreAuthExpired
			}
			return err
		}
		out.Retry = func(ctx context.Context) error {
			return m.retryVerify(ctx)
		}
	}
	return out
}

// retryLogin повторяет вход по паролю после терминирования сессии.
// Вызывается ровно один раз Negotiator'ом.
func (m *Machine) retryLogin(ctx context.Context) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateSessionLimitExceeded || m.conflict == nil || m.conflict.kind != retryLogin {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry login из %s", ErrWrongState, m.state)
	}
	username, password := m.conflict.username, m.conflict.password
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	return m.submitLogin(ctx, username, password)
}

// retryVerify повторяет verify-шаг (2FA или настройку) после
// терминирования сессии, с исходным кодом и методом.
func (m *Machine) retryVerify(ctx context.Context) error {
	defer m.flushHooks()

	m.mu.Lock()
	if m.state != StateSessionLimitExceeded || m.conflict == nil || m.conflict.kind == retryLogin {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry verify из %s", ErrWrongState, m.state)
	}
	kind := m.conflict.kind
	code, method := m.conflict.code, m.conflict.method
	preAuth := m.challenge.PreAuthToken
	gen := m.gen
	m.mu.Unlock()

	grant, err := m.verifyCall(ctx, kind, preAuth, code, method)
	return m.acceptVerifyResult(ctx, gen, kind, code, method, grant, err)
}

// ForceLogout — локальный принудительный выход (истечение простоя).
// Сетевой вызов best-effort, как у Logout.
func (m *Machine) ForceLogout(ctx context.Context, reason string) {
	forcedLogoutsTotal.WithLabelValues(reason).Inc()
	m.logger.Info("Принудительный выход", slog.String("reason", reason))
	m.Logout(ctx)
}

// resetLocked очищает всё аутентификационное состояние и хранилище.
// Вызывается под блокировкой.
func (m *Machine) resetLocked() {
	if err := m.creds.Clear(); err != nil {
		m.logger.Warn("Не удалось очистить хранилище учётных данных",
			slog.String("error", err.Error()),
		)
	}
	m.token = ""
	m.sessionID = ""
	m.identity = nil
	m.challenge = model.PendingChallenge{}
	m.conflict = nil
}

// setStateLocked выполняет переход состояния, инкрементирует поколение
// (подавляя результаты вызовов, начатых до перехода) и ставит hook в
// очередь. Вызывается под блокировкой.
func (m *Machine) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.gen++
	if m.hook != nil {
		m.hookQueue = append(m.hookQueue, stateChange{from: from, to: to})
	}
	m.logger.Debug("Переход состояния",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

// flushHooks вызывает отложенные hooks вне блокировки, сохраняя порядок
// переходов.
func (m *Machine) flushHooks() {
	for {
		m.mu.Lock()
		if len(m.hookQueue) == 0 {
			m.mu.Unlock()
			return
		}
		change := m.hookQueue[0]
		m.hookQueue = m.hookQueue[1:]
		m.mu.Unlock()

		m.hook(change.from, change.to)
	}
}
