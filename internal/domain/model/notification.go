// notification.go — записи уведомлений. Источник истины — бэкенд;
// клиент держит упорядоченный (свежие первыми) кэш.
package model

import "time"

// NotificationType — тип уведомления.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification — одно уведомление.
type Notification struct {
	// ID — идентификатор уведомления
	ID string `json:"id"`
	// Type — тип (info, success, warning, error)
	Type NotificationType `json:"type"`
	// Title — заголовок
	Title string `json:"title"`
	// Message — текст
	Message string `json:"message"`
	// Link — ссылка для перехода (опционально)
	Link string `json:"link,omitempty"`
	// Timestamp — время создания
	Timestamp time.Time `json:"timestamp"`
	// IsRead — прочитано ли
	IsRead bool `json:"is_read"`
}

// UnreadCount пересчитывает количество непрочитанных в срезе.
// Счётчик непрочитанных всегда выводится из кэша, а не хранится отдельно.
func UnreadCount(items []Notification) int {
	n := 0
	for i := range items {
		if !items[i].IsRead {
			n++
		}
	}
	return n
}
