// Пакет authority — HTTP-клиент session authority help-desk бэкенда.
// Типизированные обёртки над auth-endpoints: вход, 2FA, QR-handshake,
// управление сессиями, уведомления. Чистый I/O, без собственного состояния.
// Поддерживает TLS с кастомным CA (DA_AUTHORITY_CA_CERT).
package authority

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// Client — HTTP-клиент session authority.
type Client struct {
	httpClient *http.Client
	// streamClient — отдельный клиент без общего таймаута для SSE-потока.
	// Общий Timeout httpClient разорвал бы долгоживущий поток.
	streamClient *http.Client
	baseURL      string
	logger       *slog.Logger
}

// New создаёт клиент session authority.
// baseURL — базовый URL бэкенда (например, https://desk.example.com).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут обычных HTTP-запросов (DA_AUTHORITY_TIMEOUT).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата authority: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат authority добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger.With(slog.String("component", "authority_client")),
	}, nil
}

// Login выполняет вход по паролю. POST /api/v1/auth/login.
// Возвращает LoginResult (грант или незавершённый шаг 2FA), либо ошибку
// из таксономии: ErrInvalidCredentials, ErrCaptchaRequired, *SessionLimitError.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа login: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var lr loginResponse
		if err := json.Unmarshal(raw, &lr); err != nil {
			return nil, fmt.Errorf("декодирование ответа login: %w", err)
		}
		switch lr.Status {
		case "2fa_required":
			return &LoginResult{Challenge: &model.PendingChallenge{
				Kind:         model.ChallengeTwoFactor,
				PreAuthToken: lr.PreAuthToken,
				Username:     lr.Username,
			}}, nil
		case "2fa_setup_required":
			return &LoginResult{Challenge: &model.PendingChallenge{
				Kind:         model.ChallengeEnrollment,
				PreAuthToken: lr.PreAuthToken,
				Username:     lr.Username,
			}}, nil
		}
		if lr.AccessToken == "" {
			return nil, fmt.Errorf("пустой access_token в ответе login")
		}
		return &LoginResult{Grant: &TokenGrant{AccessToken: lr.AccessToken, SessionID: lr.SessionID}}, nil
	case http.StatusConflict:
		return nil, parseSessionConflict(raw)
	case http.StatusUnauthorized, http.StatusBadRequest, http.StatusForbidden:
		detail := errorDetail(raw)
		if detailRequiresCaptcha(detail) {
			return nil, ErrCaptchaRequired
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("отказ login: %s", detail)
	default:
		return nil, c.unexpectedStatus("login", resp.StatusCode, raw)
	}
}

// VerifyTwoFactor подтверждает вход кодом из приложения-аутентификатора.
// POST /api/v1/auth/2fa/verify.
func (c *Client) VerifyTwoFactor(ctx context.Context, preAuthToken, code string) (*TokenGrant, error) {
	return c.verify(ctx, "/api/v1/auth/2fa/verify", preAuthToken, code)
}

// VerifyEmailOTP подтверждает вход одноразовым кодом из email.
// POST /api/v1/auth/2fa/email-otp/verify.
func (c *Client) VerifyEmailOTP(ctx context.Context, preAuthToken, code string) (*TokenGrant, error) {
	return c.verify(ctx, "/api/v1/auth/2fa/email-otp/verify", preAuthToken, code)
}

// FinalizeTwoFactorSetup завершает первичную настройку 2FA кодом из
// только что привязанного приложения. POST /api/v1/auth/2fa/setup/finalize.
func (c *Client) FinalizeTwoFactorSetup(ctx context.Context, preAuthToken, code string) (*TokenGrant, error) {
	return c.verify(ctx, "/api/v1/auth/2fa/setup/finalize", preAuthToken, code)
}

// verify — общий обмен pre-auth токен + код → полный грант.
func (c *Client) verify(ctx context.Context, path, preAuthToken, code string) (*TokenGrant, error) {
	body := map[string]string{"token": preAuthToken, "code": code}

	resp, err := c.doJSON(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа verify: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var grant TokenGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return nil, fmt.Errorf("декодирование гранта: %w", err)
		}
		if grant.AccessToken == "" {
			return nil, fmt.Errorf("пустой access_token в ответе verify")
		}
		return &grant, nil
	case http.StatusConflict:
		return nil, parseSessionConflict(raw)
	case http.StatusUnauthorized:
		return nil, ErrPreAuthExpired
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, ErrTwoFactorCodeInvalid
	default:
		return nil, c.unexpectedStatus("verify", resp.StatusCode, raw)
	}
}

// RequestEmailOTP запрашивает отправку одноразового кода на email.
// POST /api/v1/auth/2fa/email-otp/request.
func (c *Client) RequestEmailOTP(ctx context.Context, preAuthToken string) error {
	body := map[string]string{"token": preAuthToken}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/2fa/email-otp/request", "", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted:
		return nil
	case http.StatusUnauthorized:
		return ErrPreAuthExpired
	default:
		raw, _ := io.ReadAll(resp.Body)
		return c.unexpectedStatus("email-otp request", resp.StatusCode, raw)
	}
}

// InitiateTwoFactorSetup запрашивает секрет и QR-payload для первичной
// настройки 2FA. POST /api/v1/auth/2fa/setup/initiate.
func (c *Client) InitiateTwoFactorSetup(ctx context.Context, preAuthToken string) (*TwoFactorSetup, error) {
	body := map[string]string{"token": preAuthToken}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/2fa/setup/initiate", "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа setup initiate: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var setup TwoFactorSetup
		if err := json.Unmarshal(raw, &setup); err != nil {
			return nil, fmt.Errorf("декодирование секрета 2FA: %w", err)
		}
		return &setup, nil
	case http.StatusUnauthorized:
		return nil, ErrPreAuthExpired
	default:
		return nil, c.unexpectedStatus("setup initiate", resp.StatusCode, raw)
	}
}

// QRInitiate создаёт новую QR-сессию. POST /api/v1/auth/qr/initiate.
func (c *Client) QRInitiate(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/qr/initiate", "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("чтение ответа qr initiate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.unexpectedStatus("qr initiate", resp.StatusCode, raw)
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("декодирование ответа qr initiate: %w", err)
	}
	if payload.SessionID == "" {
		return "", fmt.Errorf("пустой session_id в ответе qr initiate")
	}
	return payload.SessionID, nil
}

// QRStatus опрашивает статус QR-сессии. GET /api/v1/auth/qr/status/{id}.
// 404 трактуется как истёкшая сессия (бэкенд уже забыл про неё).
func (c *Client) QRStatus(ctx context.Context, sessionID string) (*QRState, error) {
	path := "/api/v1/auth/qr/status/" + url.PathEscape(sessionID)

	resp, err := c.doJSON(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа qr status: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var qs qrStatusResponse
		if err := json.Unmarshal(raw, &qs); err != nil {
			return nil, fmt.Errorf("декодирование ответа qr status: %w", err)
		}
		state := &QRState{Status: model.QRStatus(qs.Status)}
		if qs.Status == string(model.QRStatusAuthorized) {
			if qs.AccessToken == "" {
				return nil, fmt.Errorf("authorized QR-сессия без access_token")
			}
			state.Grant = &TokenGrant{AccessToken: qs.AccessToken, SessionID: qs.SessionID}
		}
		return state, nil
	case http.StatusNotFound, http.StatusGone:
		return &QRState{Status: model.QRStatusExpired}, nil
	default:
		return nil, c.unexpectedStatus("qr status", resp.StatusCode, raw)
	}
}

// QRAuthorize авторизует QR-сессию с уже аутентифицированного устройства.
// POST /api/v1/auth/qr/authorize/{id}, bearer — полный access токен.
func (c *Client) QRAuthorize(ctx context.Context, accessToken, sessionID string) error {
	path := "/api/v1/auth/qr/authorize/" + url.PathEscape(sessionID)

	resp, err := c.doJSON(ctx, http.MethodPost, path, accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("чтение ответа qr authorize: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return parseSessionConflict(raw)
	case http.StatusUnauthorized:
		return ErrTokenExpired
	default:
		return c.unexpectedStatus("qr authorize", resp.StatusCode, raw)
	}
}

// Me запрашивает идентичность текущего пользователя. GET /api/v1/auth/me.
func (c *Client) Me(ctx context.Context, accessToken string) (*model.Identity, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/api/v1/auth/me", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeIdentity(resp)
}

// UpdateMe обновляет профиль пользователя и возвращает обновлённую
// идентичность. PUT /api/v1/auth/me.
func (c *Client) UpdateMe(ctx context.Context, accessToken string, updates map[string]any) (*model.Identity, error) {
	resp, err := c.doJSON(ctx, http.MethodPut, "/api/v1/auth/me", accessToken, updates)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeIdentity(resp)
}

// decodeIdentity — общий разбор ответа auth/me.
func decodeIdentity(resp *http.Response) (*model.Identity, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа auth/me: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var identity model.Identity
		if err := json.Unmarshal(raw, &identity); err != nil {
			return nil, fmt.Errorf("декодирование идентичности: %w", err)
		}
		return &identity, nil
	case http.StatusUnauthorized:
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("auth/me вернул статус %d: %s", resp.StatusCode, string(raw))
	}
}

// TerminateSession терминирует сессию по id. DELETE /api/v1/auth/sessions/{id}.
// bearer — полный access токен либо pre-auth токен (в конфликтных путях 2FA).
func (c *Client) TerminateSession(ctx context.Context, bearer, sessionID string) error {
	path := "/api/v1/auth/sessions/" + url.PathEscape(sessionID)

	resp, err := c.doJSON(ctx, http.MethodDelete, path, bearer, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return ErrTokenExpired
	default:
		raw, _ := io.ReadAll(resp.Body)
		return c.unexpectedStatus("terminate session", resp.StatusCode, raw)
	}
}

// TerminateSessionByCredentials терминирует сессию с повторным
// подтверждением учётных данных — путь разрешения конфликта при входе по
// паролю. POST /api/v1/auth/sessions/terminate-by-credentials.
func (c *Client) TerminateSessionByCredentials(ctx context.Context, username, password, sessionID string) error {
	body := map[string]string{
		"username":   username,
		"password":   password,
		"session_id": sessionID,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/sessions/terminate-by-credentials", "", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	default:
		raw, _ := io.ReadAll(resp.Body)
		return c.unexpectedStatus("terminate by credentials", resp.StatusCode, raw)
	}
}

// ListActivity возвращает журнал активности устройств. GET /api/v1/auth/activity.
func (c *Client) ListActivity(ctx context.Context, accessToken string) ([]model.DeviceSession, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/api/v1/auth/activity", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа activity: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var items []model.DeviceSession
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("декодирование журнала активности: %w", err)
		}
		return items, nil
	case http.StatusUnauthorized:
		return nil, ErrTokenExpired
	default:
		return nil, c.unexpectedStatus("activity", resp.StatusCode, raw)
	}
}

// DeleteActivity удаляет запись журнала активности (или все записи при
// пустом id). DELETE /api/v1/auth/activity[/{id}].
func (c *Client) DeleteActivity(ctx context.Context, accessToken, id string) error {
	path := "/api/v1/auth/activity"
	if id != "" {
		path += "/" + url.PathEscape(id)
	}

	resp, err := c.doJSON(ctx, http.MethodDelete, path, accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return ErrTokenExpired
	default:
		raw, _ := io.ReadAll(resp.Body)
		return c.unexpectedStatus("delete activity", resp.StatusCode, raw)
	}
}

// Notifications выполняет полную выборку уведомлений. GET /api/v1/notifications/.
func (c *Client) Notifications(ctx context.Context, accessToken string) ([]model.Notification, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/api/v1/notifications/", accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа notifications: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var items []model.Notification
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("декодирование уведомлений: %w", err)
		}
		return items, nil
	case http.StatusUnauthorized:
		return nil, ErrTokenExpired
	default:
		return nil, c.unexpectedStatus("notifications", resp.StatusCode, raw)
	}
}

// MarkNotificationRead помечает уведомление прочитанным.
// PUT /api/v1/notifications/{id}/read.
func (c *Client) MarkNotificationRead(ctx context.Context, accessToken, id string) error {
	path := "/api/v1/notifications/" + url.PathEscape(id) + "/read"
	return c.simpleCall(ctx, http.MethodPut, path, accessToken, "mark read")
}

// ClearNotifications удаляет все уведомления. DELETE /api/v1/notifications/clear.
func (c *Client) ClearNotifications(ctx context.Context, accessToken string) error {
	return c.simpleCall(ctx, http.MethodDelete, "/api/v1/notifications/clear", accessToken, "clear notifications")
}

// simpleCall — вызов без тела ответа: 2xx — успех, 401 — ErrTokenExpired.
func (c *Client) simpleCall(ctx context.Context, method, path, accessToken, op string) error {
	resp, err := c.doJSON(ctx, method, path, accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized:
		return ErrTokenExpired
	default:
		raw, _ := io.ReadAll(resp.Body)
		return c.unexpectedStatus(op, resp.StatusCode, raw)
	}
}

// doJSON выполняет HTTP-запрос с JSON-телом и опциональным bearer токеном.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса %s: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	return resp, nil
}

// unexpectedStatus формирует ошибку для неожиданного статус-кода.
func (c *Client) unexpectedStatus(op string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	return fmt.Errorf("authority вернул статус %d для %s: %s", status, op, detail)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
