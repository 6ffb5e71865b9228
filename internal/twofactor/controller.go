// Пакет twofactor — контроллер шага 2FA: верификация кодом приложения или
// email-OTP и первичная настройка 2FA. Ровно один способ активен в каждый
// момент; переключение сбрасывает уже введённый код.
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authflow"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// ErrNoChallenge — нет незавершённого шага 2FA.
var ErrNoChallenge = errors.New("нет активного шага двухфакторной аутентификации")

// ErrEmptyCode — код не введён.
var ErrEmptyCode = errors.New("код не введён")

// Controller — контроллер шага 2FA поверх машины аутентификации.
type Controller struct {
	mu sync.Mutex

	// method — активный способ подтверждения для следующего verify
	method model.TwoFactorMethod
	// code — буфер введённого кода
	code string
	// setup — закэшированный секрет настройки 2FA
	setup *authority.TwoFactorSetup
	// setupToken — pre-auth токен, для которого секрет уже получен.
	// Повторная отрисовка не должна генерировать второй секрет.
	setupToken string

	machine   *authflow.Machine
	authority *authority.Client
	logger    *slog.Logger
}

// New создаёт контроллер с активным способом "код приложения".
func New(machine *authflow.Machine, auth *authority.Client, logger *slog.Logger) *Controller {
	return &Controller{
		method:    model.MethodAuthenticator,
		machine:   machine,
		authority: auth,
		logger:    logger.With(slog.String("component", "two_factor")),
	}
}

// ActiveMethod возвращает активный способ подтверждения.
func (c *Controller) ActiveMethod() model.TwoFactorMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.method
}

// SwitchMethod меняет активный способ. Уже введённый код сбрасывается.
// Вид незавершённого шага в машине не меняется — только способ,
// которым будет выполнен следующий verify.
func (c *Controller) SwitchMethod(method model.TwoFactorMethod) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.method == method {
		return
	}
	c.method = method
	c.code = ""
}

// SetCode записывает введённый пользователем код в буфер.
func (c *Controller) SetCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = strings.TrimSpace(code)
}

// Code возвращает буфер введённого кода.
func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// RequestEmailCode запрашивает отправку одноразового кода на email,
// по тому же pre-auth токену. Истёкший pre-auth токен (401) —
// невосстановимо: шаг отменяется, машина возвращается в LoggedOut.
func (c *Controller) RequestEmailCode(ctx context.Context) error {
	challenge := c.machine.Challenge()
	if challenge.Kind != model.ChallengeTwoFactor {
		return ErrNoChallenge
	}

	if err := c.authority.RequestEmailOTP(ctx, challenge.PreAuthToken); err != nil {
		if errors.Is(err, authority.ErrPreAuthExpired) {
			c.machine.CancelChallenge()
		}
		return err
	}

	c.logger.Info("Одноразовый код отправлен на email",
		slog.String("username", challenge.Username),
	)
	return nil
}

// EnsureEnrollment возвращает секрет и QR-payload первичной настройки 2FA,
// запрашивая их у authority не более одного раза на незавершённый шаг:
// повторные вызовы (перерисовка) отдают кэш.
func (c *Controller) EnsureEnrollment(ctx context.Context) (*authority.TwoFactorSetup, error) {
	challenge := c.machine.Challenge()
	if challenge.Kind != model.ChallengeEnrollment {
		return nil, ErrNoChallenge
	}

	c.mu.Lock()
	if c.setup != nil && c.setupToken == challenge.PreAuthToken {
		setup := c.setup
		c.mu.Unlock()
		return setup, nil
	}
	c.mu.Unlock()

	setup, err := c.authority.InitiateTwoFactorSetup(ctx, challenge.PreAuthToken)
	if err != nil {
		if errors.Is(err, authority.ErrPreAuthExpired) {
			c.machine.CancelChallenge()
		}
		return nil, err
	}

	c.mu.Lock()
	c.setup = setup
	c.setupToken = challenge.PreAuthToken
	c.mu.Unlock()
	return setup, nil
}

// Verify выполняет verify-шаг введённым кодом: завершение настройки для
// ChallengeEnrollment, иначе верификация активным способом. Успех очищает
// буфер; неверный код оставляет шаг на месте для повторного ввода.
func (c *Controller) Verify(ctx context.Context) error {
	c.mu.Lock()
	code := c.code
	method := c.method
	c.mu.Unlock()

	if code == "" {
		return ErrEmptyCode
	}

	challenge := c.machine.Challenge()
	var err error
	switch challenge.Kind {
	case model.ChallengeEnrollment:
		err = c.machine.CompleteEnrollment(ctx, code)
	case model.ChallengeTwoFactor:
		err = c.machine.CompleteTwoFactor(ctx, code, method)
	default:
		return ErrNoChallenge
	}

	if err != nil {
		if errors.Is(err, authority.ErrTwoFactorCodeInvalid) {
			// Восстановимо: оставляем шаг, очищаем только буфер
			c.mu.Lock()
			c.code = ""
			c.mu.Unlock()
		}
		return fmt.Errorf("верификация 2FA: %w", err)
	}

	c.Reset()
	return nil
}

// Reset очищает контроллер при завершении или отмене шага.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = model.MethodAuthenticator
	c.code = ""
	c.setup = nil
	c.setupToken = ""
}
