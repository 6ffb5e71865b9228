// Пакет sessionlimit — разрешение конфликта лимита одновременных сессий.
// Пользователь выбирает одну из конфликтующих сессий, она терминируется с
// повторным подтверждением личности, после чего исходная операция
// повторяется ровно один раз с исходными входными данными.
package sessionlimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// ErrRetryExhausted — повторная попытка исходной операции уже выполнялась;
// второй автоматический повтор запрещён, конфликт показывается заново.
var ErrRetryExhausted = errors.New("повторная попытка после терминирования уже выполнена")

// ErrUnknownSession — выбранной сессии нет в конфликтном списке.
var ErrUnknownSession = errors.New("сессия отсутствует в списке конфликта")

// Conflict — конфликт лимита сессий с привязанным контекстом исходной
// операции. Terminate выполняет терминирование выбранной сессии с
// подходящим пруфом (учётные данные для пути входа по паролю, pre-auth или
// полный токен для путей 2FA/QR-авторизации). Retry повторяет исходную
// операцию с её исходными входами.
type Conflict struct {
	// Sessions — read-only снимки конфликтующих сессий
	Sessions []model.DeviceSession
	// Terminate — терминирование одной сессии с повторным пруфом личности
	Terminate func(ctx context.Context, sessionID string) error
	// Retry — однократный повтор исходной операции
	Retry func(ctx context.Context) error
}

// Negotiator — исполнитель разрешения одного конфликта.
// Экземпляр одноразовый: на каждый показанный конфликт создаётся новый,
// чем и обеспечивается ровно один автоматический повтор.
type Negotiator struct {
	logger    *slog.Logger
	attempted bool
}

// New создаёт Negotiator для одного конфликта.
func New(logger *slog.Logger) *Negotiator {
	return &Negotiator{
		logger: logger.With(slog.String("component", "session_limit")),
	}
}

// Resolve терминирует выбранную сессию и повторяет исходную операцию.
// Повторный конфликт (SessionLimitError из Retry) возвращается как есть —
// его показывают пользователю заново, автоматического цикла нет.
func (n *Negotiator) Resolve(ctx context.Context, conflict *Conflict, sessionID string) error {
	if n.attempted {
		return ErrRetryExhausted
	}

	if !containsSession(conflict.Sessions, sessionID) {
		return ErrUnknownSession
	}

	if err := conflict.Terminate(ctx, sessionID); err != nil {
		return fmt.Errorf("терминирование сессии %s: %w", sessionID, err)
	}
	n.logger.Info("Конфликтующая сессия терминирована",
		slog.String("session_id", sessionID),
	)

	n.attempted = true
	err := conflict.Retry(ctx)

	var limitErr *authority.SessionLimitError
	if errors.As(err, &limitErr) {
		n.logger.Warn("Повтор операции снова упёрся в лимит сессий",
			slog.Int("sessions", len(limitErr.Sessions)),
		)
	}
	return err
}

// containsSession проверяет наличие id в конфликтном списке.
func containsSession(sessions []model.DeviceSession, id string) bool {
	for i := range sessions {
		if sessions[i].ID == id {
			return true
		}
	}
	return false
}
