package qrlogin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/sessionlimit"
)

// TokenProvider отдаёт полный токен доступа аутентифицированного устройства.
type TokenProvider func() string

// Authorizer — сторона уже вошедшего устройства: подтверждение чужой
// QR-сессии своим токеном.
type Authorizer struct {
	authority *authority.Client
	token     TokenProvider
	logger    *slog.Logger
}

// NewAuthorizer создаёт Authorizer.
func NewAuthorizer(auth *authority.Client, token TokenProvider, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		authority: auth,
		token:     token,
		logger:    logger.With(slog.String("component", "qr_authorizer")),
	}
}

// Authorize подтверждает QR-сессию qrSessionID. Авторизация заводит новую
// сессию на втором устройстве и потому может упереться в лимит
// одновременных сессий: в этом случае возвращается заполненный Conflict,
// завершение и повтор которого идут с полным токеном этого устройства.
func (a *Authorizer) Authorize(ctx context.Context, qrSessionID string) (*sessionlimit.Conflict, error) {
	token := a.token()
	err := a.authority.QRAuthorize(ctx, token, qrSessionID)
	if err == nil {
		a.logger.Info("QR-сессия подтверждена", slog.String("qr_session_id", qrSessionID))
		return nil, nil
	}

	var limitErr *authority.SessionLimitError
	if !errors.As(err, &limitErr) {
		return nil, fmt.Errorf("подтверждение QR-сессии: %w", err)
	}

	a.logger.Info("Подтверждение QR упёрлось в лимит сессий",
		slog.Int("sessions", len(limitErr.Sessions)),
	)
	conflict := &sessionlimit.Conflict{
		Sessions: limitErr.Sessions,
		Terminate: func(ctx context.Context, sessionID string) error {
			return a.authority.TerminateSession(ctx, a.token(), sessionID)
		},
		Retry: func(ctx context.Context) error {
			return a.authority.QRAuthorize(ctx, a.token(), qrSessionID)
		},
	}
	return conflict, err
}
