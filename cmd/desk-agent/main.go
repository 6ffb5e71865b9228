// main.go — точка входа Desk Agent.
// Агент ведёт жизненный цикл одной пользовательской сессии help desk:
// вход (пароль + CAPTCHA, 2FA, QR), переговоры о лимите сессий, контроль
// бездействия, канал уведомлений. HTTP-сервер агента отдаёт только
// наблюдаемость (health-пробы, метрики).
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authflow"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/config"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/credstore"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/dephealth"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/idle"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/notify"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/obsserver"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/qrlogin"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Desk Agent запускается",
		slog.String("version", config.Version),
		slog.String("authority", cfg.AuthorityURL),
		slog.Int("port", cfg.Port),
	)

	// 3. Клиент Authority
	authClient, err := authority.New(cfg.AuthorityURL, cfg.AuthorityCACert, cfg.AuthorityTimeout, logger)
	if err != nil {
		log.Fatalf("Ошибка создания клиента Authority: %v", err)
	}

	// 4. Хранилище зашифрованных учётных данных
	creds, err := credstore.New(cfg.CredFile, cfg.CredKey, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации хранилища учётных данных: %v", err)
	}

	// 5. Машина аутентификации. Контроль бездействия и канал уведомлений
	// живут ровно пока сессия аутентифицирована, поэтому подвешены на
	// переходы состояния машины. Machine создаётся раньше idle/notify,
	// hook замыкается на ещё не заполненные указатели — к моменту первого
	// перехода они уже инициализированы.
	var (
		machine     *authflow.Machine
		idleMonitor *idle.Monitor
		channel     *notify.Channel
	)
	machine = authflow.New(authClient, creds, logger, func(from, to authflow.State) {
		logger.Debug("Переход состояния аутентификации",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		switch {
		case to == authflow.StateAuthenticated:
			idleMonitor.Start()
			channel.Open(context.Background())
		case from == authflow.StateAuthenticated:
			idleMonitor.Stop()
			channel.Close()
		}
	})

	// 6. Контроль бездействия
	idleMonitor = idle.New(idle.Config{
		Timeout:          cfg.IdleTimeout,
		WarningCountdown: cfg.IdleWarningCountdown,
		OnWarning: func(remaining time.Duration) {
			logger.Info("Предупреждение о бездействии",
				slog.Duration("remaining", remaining.Round(time.Second)),
			)
		},
		Validate: machine.RefreshIdentity,
		ForceLogout: func(ctx context.Context, reason string) {
			machine.ForceLogout(ctx, reason)
		},
	}, logger)

	// 7. Канал уведомлений
	channel = notify.New(authClient, machine.Token, notify.Config{
		ReconnectDelay: cfg.NotifyReconnectDelay,
		PollInterval:   cfg.NotifyPollInterval,
		OnChange: func(_ []model.Notification, unread int) {
			logger.Debug("Список уведомлений обновлён", slog.Int("unread", unread))
		},
	}, logger)

	// 8. Восстановление сессии из хранилища (если есть)
	ctx := context.Background()
	resumed, err := machine.Resume(ctx)
	if err != nil {
		logger.Warn("Восстановление сессии не удалось", slog.String("error", err.Error()))
	} else if resumed {
		logger.Info("Сессия восстановлена из хранилища")
	}

	// 9. Опциональный вход по учётным данным из окружения (headless-режим)
	if !resumed {
		if username := os.Getenv("DA_LOGIN_USERNAME"); username != "" {
			if err := machine.Login(ctx, username, os.Getenv("DA_LOGIN_PASSWORD"), ""); err != nil {
				logger.Warn("Вход по учётным данным из окружения не удался",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// 10. Альтернативный путь входа — QR-handshake (DA_QR_LOGIN=true):
	// агент крутит ротацию QR-сессий, вход подтверждает второе устройство
	if machine.State() != authflow.StateAuthenticated && os.Getenv("DA_QR_LOGIN") == "true" {
		broker := qrlogin.New(authClient, machine, qrlogin.Config{
			RotateInterval: cfg.QRRotateInterval,
			PollInterval:   cfg.QRPollInterval,
			OnUpdate: func(session model.QRLoginSession, remaining time.Duration) {
				logger.Info("QR-сессия",
					slog.String("target", session.TargetURL(cfg.AuthorityURL)),
					slog.String("status", string(session.Status)),
					slog.Duration("remaining", remaining.Round(time.Second)),
				)
			},
		}, logger)
		if err := broker.Start(ctx); err != nil {
			logger.Warn("Запуск QR-входа не удался", slog.String("error", err.Error()))
		} else {
			defer broker.Close()
		}
	}

	// 11. Мониторинг зависимостей (Authority)
	deps, err := dephealth.New("desk-agent", cfg.DephealthGroup, cfg.AuthorityURL,
		cfg.DephealthCheckInterval, cfg.DephealthIsEntry, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации мониторинга зависимостей: %v", err)
	}
	if err := deps.Start(ctx); err != nil {
		log.Fatalf("Ошибка запуска мониторинга зависимостей: %v", err)
	}
	defer deps.Stop()

	// 12. HTTP-сервер наблюдаемости (блокирующий вызов с graceful shutdown)
	healthHandler := obsserver.NewHealthHandler(deps)
	srv := obsserver.New(cfg, logger, healthHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	// 13. Завершение: закрыть канал и монитор, если сессия ещё жива
	channel.Close()
	idleMonitor.Stop()
	logger.Info("Desk Agent остановлен")
}
