package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/authority"
	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// changeRecorder собирает snapshot'ы из OnChange.
type changeRecorder struct {
	mu      sync.Mutex
	last    []model.Notification
	unread  int
	changed chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{changed: make(chan struct{}, 16)}
}

func (r *changeRecorder) onChange(snapshot []model.Notification, unread int) {
	r.mu.Lock()
	r.last = snapshot
	r.unread = unread
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) state() ([]model.Notification, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.unread
}

// waitState ждёт, пока состояние не удовлетворит условию.
func (r *changeRecorder) waitState(t *testing.T, cond func([]model.Notification, int) bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if list, unread := r.state(); cond(list, unread) {
			return
		}
		select {
		case <-r.changed:
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal(msg)
}

// newTestChannel собирает канал поверх тестового сервера.
func newTestChannel(t *testing.T, mux *http.ServeMux, cfg Config) *Channel {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := authority.New(srv.URL, "", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания клиента authority: %v", err)
	}

	c := New(client, func() string { return "tok-1" }, cfg, testLogger())
	t.Cleanup(c.Close)
	return c
}

// emptyList регистрирует эндпоинт полного списка, отдающий пустой массив.
func emptyList(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
}

// sseFrame пишет один SSE-кадр с уведомлением и сбрасывает буфер.
func sseFrame(w http.ResponseWriter, id string) {
	_, _ = w.Write([]byte(
		"event: notification\n" +
			`data: {"type":"new_notification","notification":{"id":"` + id + `","type":"info","title":"Новый тикет","is_read":false}}` +
			"\n\n"))
	w.(http.Flusher).Flush()
}

// TestChannel_StreamDeliversAndDeduplicates проверяет доставку события из
// потока и подавление дубликата того же уведомления.
func TestChannel_StreamDeliversAndDeduplicates(t *testing.T) {
	mux := http.NewServeMux()
	emptyList(mux)
	mux.HandleFunc("GET /api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseFrame(w, "n-1")
		sseFrame(w, "n-1") // дубликат: повторная доставка после разрыва
		sseFrame(w, "n-2")
		<-r.Context().Done()
	})

	rec := newChangeRecorder()
	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
		OnChange:       rec.onChange,
	})
	c.Open(context.Background())

	rec.waitState(t, func(list []model.Notification, unread int) bool {
		return len(list) == 2 && unread == 2
	}, "События потока не доставлены")

	list, _ := rec.state()
	// Новое уведомление добавляется в начало списка
	if list[0].ID != "n-2" || list[1].ID != "n-1" {
		t.Errorf("Неверный порядок: %q, %q", list[0].ID, list[1].ID)
	}

	snapshot, unread := c.Snapshot()
	if len(snapshot) != 2 || unread != 2 {
		t.Errorf("Snapshot расходится: len=%d unread=%d", len(snapshot), unread)
	}
}

// TestChannel_UnknownPayloadDropped проверяет, что нераспознанные события
// отбрасываются без влияния на список.
func TestChannel_UnknownPayloadDropped(t *testing.T) {
	mux := http.NewServeMux()
	emptyList(mux)
	mux.HandleFunc("GET /api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: notification\ndata: {\"type\":\"ping\"}\n\n"))
		_, _ = w.Write([]byte("event: notification\ndata: не json\n\n"))
		w.(http.Flusher).Flush()
		sseFrame(w, "n-1")
		<-r.Context().Done()
	})

	rec := newChangeRecorder()
	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
		OnChange:       rec.onChange,
	})
	c.Open(context.Background())

	rec.waitState(t, func(list []model.Notification, _ int) bool {
		return len(list) == 1 && list[0].ID == "n-1"
	}, "Валидное событие после мусора не доставлено")
}

// TestChannel_ReconnectsAfterDrop проверяет кадр переподключений: пять
// разрывов потока дают ровно пять попыток, разнесённых не меньше чем на
// фиксированную паузу; живой поток попыток не порождает, Close гасит всё.
func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	const drops = 5
	reconnectDelay := 20 * time.Millisecond

	var mu sync.Mutex
	var attempts []time.Time

	mux := http.NewServeMux()
	emptyList(mux)
	mux.HandleFunc("GET /api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		if n <= drops {
			return // разрыв: сервер сразу закрывает поток
		}
		<-r.Context().Done() // шестое подключение живёт
	})

	c := newTestChannel(t, mux, Config{
		ReconnectDelay: reconnectDelay,
		PollInterval:   time.Hour,
	})
	c.Open(context.Background())

	// Первое подключение + по одной попытке на каждый из пяти разрывов
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(attempts)
		mu.Unlock()
		if n == drops+1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	if len(attempts) != drops+1 {
		mu.Unlock()
		t.Fatalf("Ожидали %d подключений, получили %d", drops+1, len(attempts))
	}
	// Каждая попытка отстоит от предыдущей не меньше чем на паузу
	for i := 1; i < len(attempts); i++ {
		if gap := attempts[i].Sub(attempts[i-1]); gap < reconnectDelay {
			t.Errorf("Попытка %d пришла через %v — раньше паузы %v", i, gap, reconnectDelay)
		}
	}
	mu.Unlock()

	// Живой поток новых попыток не порождает
	time.Sleep(3 * reconnectDelay)
	mu.Lock()
	if len(attempts) != drops+1 {
		t.Errorf("Попытки при живом потоке: %d", len(attempts))
	}
	mu.Unlock()

	c.Close()
	time.Sleep(3 * reconnectDelay)
	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != drops+1 {
		t.Errorf("Переподключения после Close: %d", len(attempts))
	}
}

// TestChannel_PollReconciles проверяет, что фоновый опрос перезаписывает
// список целиком — бэкенд выступает источником истины.
func TestChannel_PollReconciles(t *testing.T) {
	var mu sync.Mutex
	payload := `[]`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/notifications/{$}", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		body := payload
		mu.Unlock()
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("GET /api/v1/notifications/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := newChangeRecorder()
	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   15 * time.Millisecond,
		OnChange:       rec.onChange,
	})
	c.Open(context.Background())

	mu.Lock()
	payload = `[{"id":"n-5","type":"warning","title":"Эскалация","is_read":false},{"id":"n-4","type":"info","title":"Ответ","is_read":true}]`
	mu.Unlock()

	rec.waitState(t, func(list []model.Notification, unread int) bool {
		return len(list) == 2 && unread == 1
	}, "Опрос не выровнял список")

	list, _ := rec.state()
	if list[0].ID != "n-5" || !list[1].IsRead {
		t.Errorf("Список не перезаписан целиком: %+v", list)
	}
}

// TestChannel_MarkReadOptimistic проверяет немедленную локальную пометку
// при фоновом подтверждении на бэкенде.
func TestChannel_MarkReadOptimistic(t *testing.T) {
	marked := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/notifications/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"n-1","type":"info","title":"Тикет","is_read":false}]`))
	})
	mux.HandleFunc("GET /api/v1/notifications/stream", func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	mux.HandleFunc("PUT /api/v1/notifications/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		marked <- r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})

	rec := newChangeRecorder()
	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
		OnChange:       rec.onChange,
	})
	c.Open(context.Background())

	// Локальная пометка видна сразу, до ответа бэкенда
	c.MarkRead(context.Background(), "n-1")
	snapshot, unread := c.Snapshot()
	if len(snapshot) != 1 || !snapshot[0].IsRead || unread != 0 {
		t.Errorf("Локальная пометка не применена: %+v, unread=%d", snapshot, unread)
	}

	select {
	case id := <-marked:
		if id != "n-1" {
			t.Errorf("Помечен не тот id: %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Фоновый запрос пометки не пришёл")
	}
}

// TestChannel_ClearAll проверяет немедленную локальную очистку и фоновый
// запрос очистки на бэкенде.
func TestChannel_ClearAll(t *testing.T) {
	cleared := make(chan struct{}, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/notifications/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"n-1","type":"info","title":"Тикет","is_read":false}]`))
	})
	mux.HandleFunc("GET /api/v1/notifications/stream", func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	mux.HandleFunc("DELETE /api/v1/notifications/clear", func(w http.ResponseWriter, _ *http.Request) {
		cleared <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
	})
	c.Open(context.Background())

	c.ClearAll(context.Background())
	if snapshot, unread := c.Snapshot(); len(snapshot) != 0 || unread != 0 {
		t.Errorf("Список не очищен локально: %+v, unread=%d", snapshot, unread)
	}

	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("Фоновый запрос очистки не пришёл")
	}
}

// TestChannel_ClosedFrameDoesNotPoisonDedup проверяет, что кадр,
// пришедший в закрытый канал, не помечает уведомление виденным:
// после повторного открытия поток доставляет его как новое.
func TestChannel_ClosedFrameDoesNotPoisonDedup(t *testing.T) {
	mux := http.NewServeMux()
	emptyList(mux)
	mux.HandleFunc("GET /api/v1/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseFrame(w, "n-1")
		<-r.Context().Done()
	})

	rec := newChangeRecorder()
	c := newTestChannel(t, mux, Config{
		ReconnectDelay: time.Hour,
		PollInterval:   time.Hour,
		OnChange:       rec.onChange,
	})

	// Кадр в закрытый канал: ни списка, ни пометки виденным
	frame := []byte(`{"type":"new_notification","notification":{"id":"n-1","type":"info","title":"Новый тикет","is_read":false}}`)
	c.handleFrame("notification", frame)
	if snapshot, _ := c.Snapshot(); len(snapshot) != 0 {
		t.Fatalf("Закрытый канал принял кадр: %+v", snapshot)
	}

	// После открытия то же уведомление доставляется как новое
	c.Open(context.Background())
	rec.waitState(t, func(list []model.Notification, _ int) bool {
		return len(list) == 1 && list[0].ID == "n-1"
	}, "Уведомление подавлено пометкой из закрытого канала")
}
