// handlers.go — HTTP-обработчики Authority Mock.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// mockServer объединяет состояние и зависимости обработчиков.
type mockServer struct {
	store      *store
	signingKey []byte
	logger     *slog.Logger
}

// signToken выпускает HS256 JWT с sub и sid.
func (m *mockServer) signToken(username, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"sid": sessionID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
		"iss": "authority-mock",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// bearer извлекает bearer токен из запроса.
func bearer(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// authSession находит сессию по bearer токену запроса.
func (m *mockServer) authSession(r *http.Request) *session {
	token := bearer(r)
	if token == "" {
		return nil
	}
	return m.store.sessionByToken(token)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отправляет JSON-ошибку в формате {"detail": ...}.
func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// deviceSessionDTO приводит сессию к wire-формату DeviceSession.
func deviceSessionDTO(s *session) model.DeviceSession {
	return model.DeviceSession{
		ID:          s.ID,
		DeviceClass: s.DeviceClass,
		OS:          "Linux",
		Browser:     "desk-agent",
		IP:          s.IP,
		LoginTime:   s.LoginTime,
	}
}

// --- Вход ---

// handleLogin — POST /api/v1/auth/login.
func (m *mockServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.mu.Lock()
	user, ok := m.store.users[req.Username]
	if !ok || user.Password != req.Password {
		m.store.failedLogins[req.Username]++
		failed := m.store.failedLogins[req.Username]
		m.store.mu.Unlock()

		m.logger.Info("Отказ входа",
			slog.String("username", req.Username),
			slog.Int("failed_attempts", failed),
		)
		if failed >= m.store.captchaThreshold {
			writeError(w, http.StatusUnauthorized, "captcha_required")
			return
		}
		writeError(w, http.StatusUnauthorized, "неверные учётные данные")
		return
	}

	m.store.failedLogins[req.Username] = 0

	// Лимит одновременных сессий проверяется до выдачи гранта и до 2FA
	if existing := m.store.userSessionsLocked(user.Username); len(existing) >= m.store.sessionLimit {
		dtos := make([]model.DeviceSession, 0, len(existing))
		for _, s := range existing {
			dtos = append(dtos, deviceSessionDTO(s))
		}
		m.store.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"sessions": dtos})
		return
	}

	switch {
	case user.NeedsEnrollment:
		pa := &preAuth{Token: uuid.NewString(), Username: user.Username, Enrolling: true, CreatedAt: time.Now()}
		m.store.preAuth[pa.Token] = pa
		m.store.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "2fa_setup_required",
			"username":       user.Username,
			"pre_auth_token": pa.Token,
		})
	case user.TwoFactor:
		pa := &preAuth{Token: uuid.NewString(), Username: user.Username, CreatedAt: time.Now()}
		m.store.preAuth[pa.Token] = pa
		m.store.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "2fa_required",
			"username":       user.Username,
			"pre_auth_token": pa.Token,
		})
	default:
		sess, err := m.issueSessionLocked(user.Username, r)
		m.store.mu.Unlock()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ошибка выпуска токена")
			return
		}
		m.logger.Info("Вход выполнен", slog.String("username", user.Username))
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": sess.Token,
			"session_id":   sess.ID,
		})
	}
}

// issueSessionLocked выпускает токен и сессию. Вызывается под блокировкой.
func (m *mockServer) issueSessionLocked(username string, r *http.Request) (*session, error) {
	sessionID := uuid.NewString()
	token, err := m.signToken(username, sessionID, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("подпись токена: %w", err)
	}
	return m.store.newSessionLocked(sessionID, username, token, "desktop", r.RemoteAddr), nil
}

// --- 2FA ---

// consumePreAuth проверяет pre-auth токен и код.
// Возвращает (preAuth, "") при успехе либо (nil, причина).
func (m *mockServer) consumePreAuth(token, code string, wantEnroll bool) (*preAuth, string) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	pa, ok := m.store.preAuth[token]
	if !ok || time.Since(pa.CreatedAt) > 5*time.Minute {
		return nil, "preauth_expired"
	}
	if pa.Enrolling != wantEnroll {
		return nil, "wrong_flow"
	}

	expected := totpCode
	if pa.EmailRequested {
		expected = emailOTPCode
	}
	if code != expected {
		return nil, "code_invalid"
	}

	delete(m.store.preAuth, token)
	return pa, ""
}

// handleVerify — POST /api/v1/auth/2fa/verify, .../email-otp/verify,
// .../setup/finalize (через wantEnroll).
func (m *mockServer) handleVerify(wantEnroll bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "невалидный JSON")
			return
		}

		pa, reason := m.consumePreAuth(req.Token, req.Code, wantEnroll)
		switch reason {
		case "":
			// успех
		case "code_invalid":
			// неверный код не сжигает pre-auth токен
			writeError(w, http.StatusUnprocessableEntity, "неверный код")
			return
		default:
			writeError(w, http.StatusUnauthorized, "pre-auth токен недействителен")
			return
		}

		m.store.mu.Lock()
		if wantEnroll {
			m.store.users[pa.Username].NeedsEnrollment = false
			m.store.users[pa.Username].TwoFactor = true
		}
		// Повторная проверка лимита: с момента login мог войти кто-то ещё
		if existing := m.store.userSessionsLocked(pa.Username); len(existing) >= m.store.sessionLimit {
			dtos := make([]model.DeviceSession, 0, len(existing))
			for _, s := range existing {
				dtos = append(dtos, deviceSessionDTO(s))
			}
			// токен возвращается: разрешение конфликта повторит verify
			m.store.preAuth[pa.Token] = pa
			m.store.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]any{"detail": map[string]any{"sessions": dtos}})
			return
		}
		sess, err := m.issueSessionLocked(pa.Username, r)
		m.store.mu.Unlock()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ошибка выпуска токена")
			return
		}

		m.logger.Info("2FA пройдена", slog.String("username", pa.Username))
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": sess.Token,
			"session_id":   sess.ID,
		})
	}
}

// handleEmailOTPRequest — POST /api/v1/auth/2fa/email-otp/request.
func (m *mockServer) handleEmailOTPRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.mu.Lock()
	pa, ok := m.store.preAuth[req.Token]
	if ok {
		pa.EmailRequested = true
	}
	m.store.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "pre-auth токен недействителен")
		return
	}
	m.logger.Info("Email-код отправлен", slog.String("username", pa.Username))
	w.WriteHeader(http.StatusAccepted)
}

// handleSetupInitiate — POST /api/v1/auth/2fa/setup/initiate.
func (m *mockServer) handleSetupInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.mu.Lock()
	pa, ok := m.store.preAuth[req.Token]
	m.store.mu.Unlock()
	if !ok || !pa.Enrolling {
		writeError(w, http.StatusUnauthorized, "pre-auth токен недействителен")
		return
	}

	secret := "JBSWY3DPEHPK3PXP"
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":  secret,
		"qr_code": fmt.Sprintf("otpauth://totp/HelpDesk:%s?secret=%s&issuer=HelpDesk", pa.Username, secret),
	})
}

// --- QR-handshake ---

// handleQRInitiate — POST /api/v1/auth/qr/initiate.
func (m *mockServer) handleQRInitiate(w http.ResponseWriter, _ *http.Request) {
	qs := &qrSession{ID: uuid.NewString(), Status: model.QRStatusActive, CreatedAt: time.Now()}

	m.store.mu.Lock()
	m.store.qr[qs.ID] = qs
	m.store.mu.Unlock()

	m.logger.Info("QR-сессия создана", slog.String("qr_session_id", qs.ID))
	writeJSON(w, http.StatusOK, map[string]string{"session_id": qs.ID})
}

// handleQRStatus — GET /api/v1/auth/qr/status/{id}.
func (m *mockServer) handleQRStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m.store.mu.Lock()
	qs, ok := m.store.qr[id]
	if ok && qs.Status == model.QRStatusActive && time.Since(qs.CreatedAt) > m.store.qrTTL {
		qs.Status = model.QRStatusExpired
	}
	m.store.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "QR-сессия не найдена")
		return
	}

	resp := map[string]string{"status": string(qs.Status)}
	if qs.Status == model.QRStatusAuthorized && qs.Grant != nil {
		resp["access_token"] = qs.Grant.Token
		resp["session_id"] = qs.Grant.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQRAuthorize — POST /api/v1/auth/qr/authorize/{id}.
// Bearer — полный токен уже вошедшего устройства; грант выпускается
// тому же пользователю как новая сессия.
func (m *mockServer) handleQRAuthorize(w http.ResponseWriter, r *http.Request) {
	authSess := m.authSession(r)
	if authSess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	id := chi.URLParam(r, "id")

	m.store.mu.Lock()
	qs, ok := m.store.qr[id]
	if !ok || qs.Status != model.QRStatusActive || time.Since(qs.CreatedAt) > m.store.qrTTL {
		m.store.mu.Unlock()
		writeError(w, http.StatusGone, "QR-сессия недоступна")
		return
	}

	// Новая сессия на втором устройстве подчиняется общему лимиту
	if existing := m.store.userSessionsLocked(authSess.Username); len(existing) >= m.store.sessionLimit {
		dtos := make([]model.DeviceSession, 0, len(existing))
		for _, s := range existing {
			dtos = append(dtos, deviceSessionDTO(s))
		}
		m.store.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{"sessions": dtos}})
		return
	}

	sess, err := m.issueSessionLocked(authSess.Username, r)
	if err != nil {
		m.store.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "ошибка выпуска токена")
		return
	}
	qs.Status = model.QRStatusAuthorized
	qs.Grant = sess
	m.store.mu.Unlock()

	m.logger.Info("QR-сессия авторизована",
		slog.String("qr_session_id", id),
		slog.String("username", authSess.Username),
	)
	w.WriteHeader(http.StatusNoContent)
}

// --- Профиль и сессии ---

// handleMe — GET /api/v1/auth/me.
func (m *mockServer) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	m.store.mu.Lock()
	identity := m.store.identityFor(m.store.users[sess.Username])
	m.store.mu.Unlock()
	writeJSON(w, http.StatusOK, identity)
}

// handleUpdateMe — PUT /api/v1/auth/me. Мок принимает только display_name.
func (m *mockServer) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.mu.Lock()
	user := m.store.users[sess.Username]
	if name, ok := updates["display_name"].(string); ok && name != "" {
		user.DisplayName = name
	}
	identity := m.store.identityFor(user)
	m.store.mu.Unlock()
	writeJSON(w, http.StatusOK, identity)
}

// handleTerminateSession — DELETE /api/v1/auth/sessions/{id}.
// Принимает и полный, и pre-auth bearer (разрешение конфликта из 2FA).
func (m *mockServer) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	id := chi.URLParam(r, "id")

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	target, exists := m.store.sessions[id]

	authorized := false
	if sid, ok := m.store.byToken[token]; ok && exists {
		authorized = m.store.sessions[sid].Username == target.Username
	}
	if !authorized && exists {
		for _, pa := range m.store.preAuth {
			if pa.Token == token {
				authorized = target.Username == pa.Username
				break
			}
		}
	}
	if !authorized {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	m.store.dropSessionLocked(id)
	m.logger.Info("Сессия терминирована", slog.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleTerminateByCredentials — POST /api/v1/auth/sessions/terminate-by-credentials.
func (m *mockServer) handleTerminateByCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	user, ok := m.store.users[req.Username]
	if !ok || user.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "неверные учётные данные")
		return
	}
	if target, ok := m.store.sessions[req.SessionID]; !ok || target.Username != req.Username {
		writeError(w, http.StatusNotFound, "сессия не найдена")
		return
	}

	m.store.dropSessionLocked(req.SessionID)
	m.logger.Info("Сессия терминирована по учётным данным", slog.String("session_id", req.SessionID))
	w.WriteHeader(http.StatusNoContent)
}

// handleActivity — GET /api/v1/auth/activity.
func (m *mockServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	m.store.mu.Lock()
	sessions := m.store.userSessionsLocked(sess.Username)
	m.store.mu.Unlock()

	dtos := make([]model.DeviceSession, 0, len(sessions))
	for _, s := range sessions {
		dtos = append(dtos, deviceSessionDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleDeleteActivity — DELETE /api/v1/auth/activity[/{id}].
func (m *mockServer) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	id := chi.URLParam(r, "id")

	m.store.mu.Lock()
	if id == "" {
		// очистка всего журнала, кроме текущей сессии
		for _, s := range m.store.userSessionsLocked(sess.Username) {
			if s.ID != sess.ID {
				m.store.dropSessionLocked(s.ID)
			}
		}
	} else if target, ok := m.store.sessions[id]; ok && target.Username == sess.Username {
		m.store.dropSessionLocked(id)
	}
	m.store.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// --- Уведомления ---

// handleNotifications — GET /api/v1/notifications/.
func (m *mockServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	m.store.mu.Lock()
	list := make([]model.Notification, len(m.store.notifications[sess.Username]))
	copy(list, m.store.notifications[sess.Username])
	m.store.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

// handleMarkRead — PUT /api/v1/notifications/{id}/read.
func (m *mockServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	id := chi.URLParam(r, "id")

	m.store.mu.Lock()
	list := m.store.notifications[sess.Username]
	for i := range list {
		if list[i].ID == id {
			list[i].IsRead = true
			break
		}
	}
	m.store.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleClearNotifications — DELETE /api/v1/notifications/clear.
func (m *mockServer) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	m.store.mu.Lock()
	m.store.notifications[sess.Username] = nil
	m.store.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleStream — GET /api/v1/notifications/stream (SSE).
func (m *mockServer) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := m.authSession(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "токен недействителен")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming не поддерживается")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := m.store.subscribe(sess.Username)
	defer m.store.unsubscribe(sess.Username, ch)

	m.logger.Info("SSE-подписчик подключён", slog.String("username", sess.Username))
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case n := <-ch:
			payload, err := json.Marshal(map[string]any{
				"type":         "new_notification",
				"notification": n,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleInjectNotification — POST /mock/notifications/{username}.
// Тестовый хук: кладёт уведомление пользователю и рассылает по SSE.
func (m *mockServer) handleInjectNotification(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var n model.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "невалидный JSON")
		return
	}

	m.store.pushNotification(username, n)
	w.WriteHeader(http.StatusAccepted)
}

// --- Health ---

func (m *mockServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
