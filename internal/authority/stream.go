// stream.go — подписка на real-time поток уведомлений (SSE).
// Клиент читает кадры "event:/data:" и отдаёт их обработчику; переподключение
// и подавление устаревших событий — ответственность вызывающего (notify.Channel).
package authority

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// StreamHandler вызывается для каждого полного SSE-кадра.
// data — сырой JSON из поля data.
type StreamHandler func(event string, data []byte)

// StreamNotifications открывает поток GET /api/v1/notifications/stream и
// блокируется, вызывая handler для каждого события, до закрытия потока
// сервером или отмены контекста. Возвращает причину завершения; nil — если
// сервер корректно закрыл поток.
func (c *Client) StreamNotifications(ctx context.Context, accessToken string, handler StreamHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/notifications/stream", http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса stream: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.streamClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("открытие потока уведомлений: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// поток открыт
	case http.StatusUnauthorized:
		return ErrTokenExpired
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return c.unexpectedStatus("stream", resp.StatusCode, raw)
	}

	c.logger.Debug("Поток уведомлений открыт")
	return readSSE(resp.Body, handler)
}

// readSSE разбирает SSE-кадры из потока. Кадр завершается пустой строкой;
// многострочные data-поля конкатенируются через \n (RFC-совместимо).
func readSSE(r io.Reader, handler StreamHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	var event string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				handler(event, []byte(data.String()))
			}
			event = ""
			data.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// комментарий/keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("чтение SSE-потока: %w", err)
	}
	return nil
}

// ParseStreamEvent разбирает полезную нагрузку события потока.
// Возвращает (nil, false) для нераспознанных payload — такие события
// отбрасываются без падения канала.
func ParseStreamEvent(data []byte, logger *slog.Logger) (*StreamEvent, bool) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Debug("Нераспознанный payload потока", slog.String("error", err.Error()))
		return nil, false
	}
	if ev.Type != "new_notification" || ev.Notification == nil || ev.Notification.ID == "" {
		return nil, false
	}
	return &ev, true
}
