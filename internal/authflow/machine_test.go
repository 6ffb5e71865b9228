package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/credstore"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/sessionlimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestMachine собирает машину поверх тестового authority-сервера.
func newTestMachine(t *testing.T, handler http.Handler, hook TransitionHook) (*Machine, *credstore.Store) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := authority.New(srv.URL, "", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания клиента authority: %v", err)
	}

	creds, err := credstore.New(filepath.Join(t.TempDir(), "creds.enc"), "тест", testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания хранилища: %v", err)
	}

	return New(client, creds, testLogger(), hook), creds
}

// identityJSON — типовой ответ auth/me.
const identityJSON = `{"id":"u-1","username":"user","display_name":"Пользователь","role":"user","permissions":null}`

// grantHandler отвечает грантом на login и идентичностью на auth/me.
func grantHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","session_id":"sess-1"}`))
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(identityJSON))
	})
	mux.HandleFunc("DELETE /api/v1/auth/sessions/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// TestMachine_LoginSuccess проверяет полный успешный вход: состояние,
// токен, идентичность и согласованность хранилища.
func TestMachine_LoginSuccess(t *testing.T) {
	m, creds := newTestMachine(t, grantHandler(), nil)

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	if m.State() != StateAuthenticated {
		t.Errorf("Ожидали Authenticated, получили %s", m.State())
	}
	if m.Token() != "tok-1" || m.SessionID() != "sess-1" {
		t.Errorf("Грант не принят: token=%q session=%q", m.Token(), m.SessionID())
	}
	if id := m.Identity(); id == nil || id.Username != "user" {
		t.Errorf("Идентичность не загружена: %+v", id)
	}

	// Инвариант согласованности: хранилище содержит тот же токен
	saved, err := creds.Load()
	if err != nil || saved == nil {
		t.Fatalf("Хранилище пусто после входа: %v", err)
	}
	if saved.AccessToken != "tok-1" || saved.Identity == nil {
		t.Errorf("Снимок в хранилище неполон: %+v", saved)
	}
}

// TestMachine_LoginInvalidCredentials проверяет возврат в LoggedOut при
// неверных учётных данных.
func TestMachine_LoginInvalidCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"неверные учётные данные"}`))
	})
	m, _ := newTestMachine(t, mux, nil)

	err := m.Login(context.Background(), "user", "wrong", "")
	if !errors.Is(err, authority.ErrInvalidCredentials) {
		t.Errorf("Ожидали ErrInvalidCredentials, получили %v", err)
	}
	if m.State() != StateLoggedOut {
		t.Errorf("Ожидали LoggedOut, получили %s", m.State())
	}
}

// TestMachine_CaptchaMismatchLocal проверяет локальную сверку CAPTCHA:
// при несовпадении сетевой вызов не выполняется.
func TestMachine_CaptchaMismatchLocal(t *testing.T) {
	m, _ := newTestMachine(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("Сетевой вызов при несовпадении CAPTCHA недопустим")
	}), nil)

	m.SetCaptchaChallenge("12")
	err := m.Login(context.Background(), "user", "pass", "7")
	if !errors.Is(err, authority.ErrCaptchaMismatch) {
		t.Errorf("Ожидали ErrCaptchaMismatch, получили %v", err)
	}
	if m.State() != StateLoggedOut {
		t.Errorf("Ожидали LoggedOut, получили %s", m.State())
	}
}

// TestMachine_CaptchaCaseInsensitive проверяет регистронезависимую сверку.
func TestMachine_CaptchaCaseInsensitive(t *testing.T) {
	m, _ := newTestMachine(t, grantHandler(), nil)

	m.SetCaptchaChallenge("AbC")
	if err := m.Login(context.Background(), "user", "pass", " abc "); err != nil {
		t.Fatalf("Регистр и пробелы не должны мешать сверке: %v", err)
	}
	if m.State() != StateAuthenticated {
		t.Errorf("Ожидали Authenticated, получили %s", m.State())
	}
}

// TestMachine_CaptchaRequiredSignal проверяет, что сигнал captcha_required
// от бэкенда взводит требование CAPTCHA для следующей попытки.
func TestMachine_CaptchaRequiredSignal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"captcha_required"}`))
	})
	m, _ := newTestMachine(t, mux, nil)

	err := m.Login(context.Background(), "user", "wrong", "")
	if !errors.Is(err, authority.ErrCaptchaRequired) {
		t.Fatalf("Ожидали ErrCaptchaRequired, получили %v", err)
	}
	if !m.CaptchaRequired() {
		t.Error("Требование CAPTCHA должно быть взведено")
	}
	if m.State() != StateLoggedOut {
		t.Errorf("Ожидали LoggedOut, получили %s", m.State())
	}
}

// TestMachine_TwoFactorFlow проверяет вход с 2FA: неверный код сохраняет
// pre-auth контекст, верный завершает вход.
func TestMachine_TwoFactorFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"2fa_required","username":"manager","pre_auth_token":"pre-1"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
			Code  string `json:"code"`
		}
		decodeBody(t, r, &req)
		if req.Token != "pre-1" {
			t.Errorf("Неверный pre-auth токен: %q", req.Token)
		}
		if req.Code != "123456" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-2","session_id":"sess-2"}`))
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(identityJSON))
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "manager", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}
	if m.State() != StateAwaitingTwoFactor {
		t.Fatalf("Ожидали AwaitingTwoFactor, получили %s", m.State())
	}

	// Неверный код: восстановимо, challenge на месте
	err := m.CompleteTwoFactor(context.Background(), "000000", model.MethodAuthenticator)
	if !errors.Is(err, authority.ErrTwoFactorCodeInvalid) {
		t.Fatalf("Ожидали ErrTwoFactorCodeInvalid, получили %v", err)
	}
	if m.State() != StateAwaitingTwoFactor {
		t.Errorf("Неверный код не должен сбрасывать шаг, получили %s", m.State())
	}
	if m.Challenge().PreAuthToken != "pre-1" {
		t.Error("Pre-auth контекст потерян после неверного кода")
	}

	// Верный код завершает вход
	if err := m.CompleteTwoFactor(context.Background(), "123456", model.MethodAuthenticator); err != nil {
		t.Fatalf("Ошибка верификации: %v", err)
	}
	if m.State() != StateAuthenticated || m.Token() != "tok-2" {
		t.Errorf("Вход не завершён: state=%s token=%q", m.State(), m.Token())
	}
}

// TestMachine_PreAuthExpired проверяет невосстановимость истёкшего
// pre-auth токена: машина возвращается в LoggedOut.
func TestMachine_PreAuthExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"2fa_required","username":"manager","pre_auth_token":"pre-1"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "manager", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}
	err := m.CompleteTwoFactor(context.Background(), "123456", model.MethodAuthenticator)
	if !errors.Is(err, authority.ErrPreAuthExpired) {
		t.Fatalf("Ожидали ErrPreAuthExpired, получили %v", err)
	}
	if m.State() != StateLoggedOut {
		t.Errorf("Ожидали LoggedOut, получили %s", m.State())
	}
	if m.Challenge().Active() {
		t.Error("Challenge должен быть сброшен")
	}
}

// TestMachine_SessionConflictResolved проверяет путь: 409 при входе →
// SessionLimitExceeded → терминирование выбранной сессии → однократный
// повтор → Authenticated.
func TestMachine_SessionConflictResolved(t *testing.T) {
	var mu sync.Mutex
	terminated := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		done := terminated
		mu.Unlock()
		if !done {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"sessions":[{"id":"s-1","device_class":"desktop"},{"id":"s-2","device_class":"mobile"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-3","session_id":"sess-3"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/sessions/terminate-by-credentials", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username  string `json:"username"`
			Password  string `json:"password"`
			SessionID string `json:"session_id"`
		}
		decodeBody(t, r, &req)
		if req.Username != "user" || req.Password != "pass" || req.SessionID != "s-1" {
			t.Errorf("Неверный запрос терминирования: %+v", req)
		}
		mu.Lock()
		terminated = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(identityJSON))
	})
	m, _ := newTestMachine(t, mux, nil)

	err := m.Login(context.Background(), "user", "pass", "")
	var limitErr *authority.SessionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Ожидали SessionLimitError, получили %v", err)
	}
	if m.State() != StateSessionLimitExceeded {
		t.Fatalf("Ожидали SessionLimitExceeded, получили %s", m.State())
	}

	conflict := m.Conflict()
	if conflict == nil || len(conflict.Sessions) != 2 {
		t.Fatalf("Конфликт не заполнен: %+v", conflict)
	}

	n := sessionlimit.New(testLogger())
	if err := n.Resolve(context.Background(), conflict, "s-1"); err != nil {
		t.Fatalf("Ошибка разрешения конфликта: %v", err)
	}
	if m.State() != StateAuthenticated || m.Token() != "tok-3" {
		t.Errorf("Повтор входа не завершился: state=%s token=%q", m.State(), m.Token())
	}
}

// TestMachine_LogoutBestEffort проверяет, что выход выполняется локально
// даже при недоступном бэкенде.
func TestMachine_LogoutBestEffort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","session_id":"sess-1"}`))
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(identityJSON))
	})
	mux.HandleFunc("DELETE /api/v1/auth/sessions/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	m, creds := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	m.Logout(context.Background())

	if m.State() != StateLoggedOut || m.Token() != "" || m.Identity() != nil {
		t.Errorf("Локальная очистка не выполнена: state=%s token=%q", m.State(), m.Token())
	}
	saved, err := creds.Load()
	if err != nil || saved != nil {
		t.Errorf("Хранилище должно быть пустым после выхода: (%+v, %v)", saved, err)
	}
}

// TestMachine_RefreshTokenExpired проверяет принудительный выход при 401
// на обновлении идентичности.
func TestMachine_RefreshTokenExpired(t *testing.T) {
	var mu sync.Mutex
	expired := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","session_id":"sess-1"}`))
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		dead := expired
		mu.Unlock()
		if dead {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(identityJSON))
	})
	mux.HandleFunc("DELETE /api/v1/auth/sessions/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	mu.Lock()
	expired = true
	mu.Unlock()

	err := m.RefreshIdentity(context.Background())
	if !errors.Is(err, authority.ErrTokenExpired) {
		t.Fatalf("Ожидали ErrTokenExpired, получили %v", err)
	}
	if m.State() != StateLoggedOut {
		t.Errorf("401 должен приводить к LoggedOut, получили %s", m.State())
	}
}

// TestMachine_RefreshNetworkFailureTolerated проверяет, что сетевой сбой
// обновления не сбрасывает сессию и оставляет кэшированную идентичность.
func TestMachine_RefreshNetworkFailureTolerated(t *testing.T) {
	var mu sync.Mutex
	broken := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-1","session_id":"sess-1"}`))
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		bad := broken
		mu.Unlock()
		if bad {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(identityJSON))
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	mu.Lock()
	broken = true
	mu.Unlock()

	if err := m.RefreshIdentity(context.Background()); err == nil {
		t.Fatal("Ожидали ошибку обновления")
	}
	if m.State() != StateAuthenticated {
		t.Errorf("Сетевой сбой не должен сбрасывать сессию, получили %s", m.State())
	}
	if m.Identity() == nil {
		t.Error("Кэшированная идентичность потеряна")
	}
}

// TestMachine_Resume проверяет восстановление сессии из хранилища.
func TestMachine_Resume(t *testing.T) {
	m, creds := newTestMachine(t, grantHandler(), nil)

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	// Новая машина над тем же хранилищем — имитация перезапуска агента
	srv := httptest.NewServer(grantHandler())
	defer srv.Close()
	client, err := authority.New(srv.URL, "", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания клиента: %v", err)
	}
	restarted := New(client, creds, testLogger(), nil)

	resumed, err := restarted.Resume(context.Background())
	if err != nil {
		t.Fatalf("Ошибка восстановления: %v", err)
	}
	if !resumed || restarted.State() != StateAuthenticated {
		t.Errorf("Сессия не восстановлена: resumed=%v state=%s", resumed, restarted.State())
	}
	if restarted.Token() != "tok-1" {
		t.Errorf("Токен не восстановлен: %q", restarted.Token())
	}
}

// TestMachine_ResumeEmptyStore проверяет, что пустое хранилище — не ошибка.
func TestMachine_ResumeEmptyStore(t *testing.T) {
	m, _ := newTestMachine(t, grantHandler(), nil)

	resumed, err := m.Resume(context.Background())
	if err != nil || resumed {
		t.Errorf("Пустое хранилище должно давать (false, nil), получили (%v, %v)", resumed, err)
	}
	if m.State() != StateLoggedOut {
		t.Errorf("Ожидали LoggedOut, получили %s", m.State())
	}
}

// TestMachine_TransitionHook проверяет порядок переходов на пути входа и
// возможность синхронно дёргать машину из hook.
func TestMachine_TransitionHook(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	var tokenInHook string

	var m *Machine
	m, _ = newTestMachine(t, grantHandler(), func(from, to State) {
		mu.Lock()
		transitions = append(transitions, string(from)+"→"+string(to))
		mu.Unlock()
		if to == StateAuthenticated {
			// hook вызывается вне блокировки: методы машины доступны
			tokenInHook = m.Token()
		}
	})

	if err := m.Login(context.Background(), "user", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"logged_out→authenticating", "authenticating→authenticated"}
	if len(transitions) != len(want) {
		t.Fatalf("Ожидали переходы %v, получили %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Переход %d: ожидали %s, получили %s", i, want[i], transitions[i])
		}
	}
	if tokenInHook != "tok-1" {
		t.Errorf("Token() из hook вернул %q", tokenInHook)
	}
}

// TestMachine_CancelChallenge проверяет отмену незавершённого шага.
func TestMachine_CancelChallenge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"2fa_required","username":"manager","pre_auth_token":"pre-1"}`))
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "manager", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}
	m.CancelChallenge()

	if m.State() != StateLoggedOut || m.Challenge().Active() {
		t.Errorf("Шаг не отменён: state=%s challenge=%+v", m.State(), m.Challenge())
	}
}

// decodeBody разбирает JSON-тело запроса в тестовом обработчике.
func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Fatalf("Ошибка разбора тела запроса: %v", err)
	}
}

// TestMachine_VerifyConflictResolved проверяет конфликт лимита на шаге
// 2FA: pre-auth контекст сохраняется, терминирование идёт с pre-auth
// токеном в качестве пруфа, однократный повтор verify завершает вход.
func TestMachine_VerifyConflictResolved(t *testing.T) {
	var mu sync.Mutex
	terminated := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"2fa_required","username":"manager","pre_auth_token":"pre-1"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/2fa/verify", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		done := terminated
		mu.Unlock()
		if !done {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"detail":{"sessions":[{"id":"s-1","device_class":"desktop"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-4","session_id":"sess-4"}`))
	})
	mux.HandleFunc("DELETE /api/v1/auth/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		// Пруф терминирования на шаге 2FA — pre-auth токен
		if got := r.Header.Get("Authorization"); got != "Bearer pre-1" {
			t.Errorf("Ожидали pre-auth пруф, получили %q", got)
		}
		if r.PathValue("id") != "s-1" {
			t.Errorf("Терминируется не та сессия: %q", r.PathValue("id"))
		}
		mu.Lock()
		terminated = true
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(identityJSON))
	})
	m, _ := newTestMachine(t, mux, nil)

	if err := m.Login(context.Background(), "manager", "pass", ""); err != nil {
		t.Fatalf("Ошибка входа: %v", err)
	}

	err := m.CompleteTwoFactor(context.Background(), "123456", model.MethodAuthenticator)
	var limitErr *authority.SessionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Ожидали SessionLimitError, получили %v", err)
	}
	if m.State() != StateSessionLimitExceeded {
		t.Fatalf("Ожидали SessionLimitExceeded, получили %s", m.State())
	}
	// Pre-auth контекст переживает конфликт: повтор не требует нового входа
	if m.Challenge().PreAuthToken != "pre-1" {
		t.Fatalf("Pre-auth токен потерян: %q", m.Challenge().PreAuthToken)
	}

	conflict := m.Conflict()
	if conflict == nil || len(conflict.Sessions) != 1 {
		t.Fatalf("Конфликт не заполнен: %+v", conflict)
	}

	n := sessionlimit.New(testLogger())
	if err := n.Resolve(context.Background(), conflict, "s-1"); err != nil {
		t.Fatalf("Ошибка разрешения конфликта: %v", err)
	}
	if m.State() != StateAuthenticated || m.Token() != "tok-4" {
		t.Errorf("Повтор verify не завершился: state=%s token=%q", m.State(), m.Token())
	}
}
