package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"todo-board/internal/logger"
	"todo-board/internal/models"
	"todo-board/internal/storage"
	"todo-board/internal/store"
)

func newTestRouter(t *testing.T) (*store.TaskStore, http.Handler) {
	t.Helper()
	ts := store.New()
	return ts, NewRouter(ts, storage.Nop{})
}

func doRequest(h http.Handler, method, target, body, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAddTaskAPI(t *testing.T) {
	ts, h := newTestRouter(t)

	rec := doRequest(h, http.MethodPost, "/api/tasks", `{"description":"Купить молоко"}`, "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Ожидался 201, получено %d: %s", rec.Code, rec.Body.String())
	}

	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
	if task.ID != 0 || task.Description != "Купить молоко" || task.Done {
		t.Errorf("Неверная задача: %+v", task)
	}
	if len(ts.Snapshot()) != 1 {
		t.Errorf("Задача не попала в хранилище")
	}
}

func TestAddTaskAPIBadJSON(t *testing.T) {
	ts, h := newTestRouter(t)

	rec := doRequest(h, http.MethodPost, "/api/tasks", `{"description":`, "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Ожидался 400, получено %d", rec.Code)
	}
	if len(ts.Snapshot()) != 0 {
		t.Error("Некорректный запрос не должен добавлять задачу")
	}
}

func TestListTasksFilter(t *testing.T) {
	ts, h := newTestRouter(t)
	a := ts.Add("a")
	ts.Add("b")
	ts.Toggle(a.ID)

	tests := []struct {
		query string
		code  int
		ids   []int
	}{
		{"", http.StatusOK, []int{0, 1}},
		{"?filter=all", http.StatusOK, []int{0, 1}},
		{"?filter=pending", http.StatusOK, []int{1}},
		{"?filter=done", http.StatusOK, []int{0}},
		{"?filter=bogus", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		rec := doRequest(h, http.MethodGet, "/api/tasks"+tt.query, "", "")
		if rec.Code != tt.code {
			t.Errorf("%q: ожидался %d, получено %d", tt.query, tt.code, rec.Code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var tasks models.Snapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("%q: %v", tt.query, err)
		}
		if len(tasks) != len(tt.ids) {
			t.Errorf("%q: ожидалось %v, получено %+v", tt.query, tt.ids, tasks)
			continue
		}
		for i, id := range tt.ids {
			if tasks[i].ID != id {
				t.Errorf("%q: позиция %d: ожидался ID %d, получено %d", tt.query, i, id, tasks[i].ID)
			}
		}
	}
}

func TestListEmptyIsArray(t *testing.T) {
	_, h := newTestRouter(t)
	rec := doRequest(h, http.MethodGet, "/api/tasks", "", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("Ожидался пустой массив, получено %s", got)
	}
}

func TestToggleAndRemoveAPI(t *testing.T) {
	ts, h := newTestRouter(t)
	task := ts.Add("a")

	rec := doRequest(h, http.MethodPost, "/api/tasks/0/toggle", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: ожидался 200, получено %d", rec.Code)
	}
	if !ts.Snapshot()[0].Done {
		t.Error("Задача не переключилась")
	}

	if rec := doRequest(h, http.MethodPost, "/api/tasks/42/toggle", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("toggle неизвестной: ожидался 404, получено %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/api/tasks/abc/toggle", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("toggle с нечисловым id: ожидался 400, получено %d", rec.Code)
	}

	if rec := doRequest(h, http.MethodDelete, "/api/tasks/0", "", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: ожидался 204, получено %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodDelete, "/api/tasks/0", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("повторный delete: ожидался 404, получено %d", rec.Code)
	}
	if len(ts.Snapshot()) != 0 {
		t.Errorf("Задача %d не удалена", task.ID)
	}
}

func TestFormFlow(t *testing.T) {
	ts, h := newTestRouter(t)

	form := url.Values{"description": {"Buy milk"}}.Encode()
	rec := doRequest(h, http.MethodPost, "/tasks", form, "application/x-www-form-urlencoded")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("Ожидался редирект 303 на /, получено %d %q", rec.Code, rec.Header().Get("Location"))
	}

	doRequest(h, http.MethodPost, "/tasks/0/toggle", "", "")
	doRequest(h, http.MethodPost, "/tasks", url.Values{"description": {"Walk dog"}}.Encode(), "application/x-www-form-urlencoded")

	// неизвестный id - тихий no-op
	if rec := doRequest(h, http.MethodPost, "/tasks/99/remove", "", ""); rec.Code != http.StatusSeeOther {
		t.Errorf("Ожидался 303 для неизвестного id, получено %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/tasks/x/remove", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Ожидался 400 для нечислового id, получено %d", rec.Code)
	}

	want := models.Snapshot{
		{ID: 0, Description: "Buy milk", Done: true},
		{ID: 1, Description: "Walk dog"},
	}
	got := ts.Snapshot()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Ожидалось %+v, получено %+v", want, got)
	}

	doRequest(h, http.MethodPost, "/tasks/0/remove", "", "")
	if got := ts.Snapshot(); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("Ожидалась только задача 1: %+v", got)
	}
}

func TestIndexPage(t *testing.T) {
	ts, h := newTestRouter(t)

	rec := doRequest(h, http.MethodGet, "/", "", "")
	body := rec.Body.String()
	for _, msg := range []string{emptyAllMessage, "You have no pending tasks :)", "You have done nothing yet :("} {
		if !strings.Contains(body, msg) {
			t.Errorf("На пустой странице нет заглушки %q", msg)
		}
	}

	task := ts.Add("<b>Buy milk</b>")
	ts.Toggle(task.ID)

	rec = doRequest(h, http.MethodGet, "/", "", "")
	body = rec.Body.String()
	if strings.Contains(body, "<b>Buy milk</b>") {
		t.Error("Описание задачи не экранировано")
	}
	if !strings.Contains(body, "&lt;b&gt;Buy milk&lt;/b&gt;") {
		t.Error("Описание задачи не отрисовано")
	}
	if !strings.Contains(body, `class="done"`) || !strings.Contains(body, ">Undone<") {
		t.Error("Выполненная задача должна быть зачёркнута и иметь кнопку Undone")
	}
	if !strings.Contains(body, emptyPendingMessage) {
		t.Error("Пустой pending-список должен показывать заглушку")
	}
	// кнопки есть только в колонке "All tasks"
	if n := strings.Count(body, `action="/tasks/0/remove"`); n != 1 {
		t.Errorf("Ожидалась одна кнопка Remove, получено %d", n)
	}
	// каждый список подписан на свой отфильтрованный поток
	if !strings.Contains(body, `new EventSource("/events?filter=" + encodeURIComponent(ul.dataset.filter))`) {
		t.Error("Список должен подписываться на /events со своим фильтром")
	}
	if strings.Contains(body, `new EventSource("/events")`) || strings.Contains(body, "tasks.filter(") {
		t.Error("Страница не должна фильтровать задачи сама")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestRouter(t)

	if rec := doRequest(h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: %d", rec.Code)
	}
	doRequest(h, http.MethodPost, "/api/tasks", `{"description":"m"}`, "application/json")
	rec := doRequest(h, http.MethodGet, "/metrics", "", "")
	if !strings.Contains(rec.Body.String(), "todoapp_tasks_added_total") {
		t.Error("В /metrics нет счётчика задач")
	}
	if !strings.Contains(rec.Body.String(), `route="/api/tasks"`) {
		t.Error("В /metrics нет метрик HTTP по маршрутам")
	}
}

type fakeJournal struct {
	storage.Nop
	entries []storage.Entry
	limit   int
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]storage.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

func TestHistory(t *testing.T) {
	j := &fakeJournal{entries: []storage.Entry{{ID: 1, Revision: 3, Total: 1}}}
	h := NewRouter(store.New(), j)

	rec := doRequest(h, http.MethodGet, "/api/history?limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Ожидался 200, получено %d", rec.Code)
	}
	if j.limit != 5 {
		t.Errorf("Ожидался limit=5, получено %d", j.limit)
	}
	var entries []storage.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil || len(entries) != 1 || entries[0].Revision != 3 {
		t.Errorf("Неверный ответ истории: %s (%v)", rec.Body.String(), err)
	}

	if rec := doRequest(h, http.MethodGet, "/api/history?limit=-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Ожидался 400 для отрицательного limit, получено %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	ts := store.New()
	ts.Add("first")
	srv := httptest.NewServer(NewRouter(ts, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?filter=pending", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Ошибка подключения к /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Неверный Content-Type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readSnapshotEvent(t, reader)
	if len(first) != 1 || first[0].Description != "first" {
		t.Fatalf("Первый снапшот: %+v", first)
	}

	ts.Toggle(0)
	second := readSnapshotEvent(t, reader)
	if len(second) != 0 {
		t.Errorf("После переключения pending должен быть пуст: %+v", second)
	}
}

func readSnapshotEvent(t *testing.T, r *bufio.Reader) models.Snapshot {
	t.Helper()
	var event string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Ошибка чтения потока: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "snapshot":
			var tasks models.Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &tasks); err != nil {
				t.Fatalf("Ошибка разбора снапшота: %v", err)
			}
			return tasks
		}
	}
}

func TestEventsBadFilter(t *testing.T) {
	_, h := newTestRouter(t)
	if rec := doRequest(h, http.MethodGet, "/events?filter=nope", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Ожидался 400, получено %d", rec.Code)
	}
}

func TestEventsSlowClientEndsOnLatest(t *testing.T) {
	ts := store.New()
	srv := httptest.NewServer(NewRouter(ts, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Ошибка подключения к /events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if first := readSnapshotEvent(t, reader); len(first) != 0 {
		t.Fatalf("Первый снапшот должен быть пуст: %+v", first)
	}

	// клиент не читает, пока идут изменения
	ts.Add("a")
	ts.Add("b")
	ts.Add("c")
	ts.Toggle(1)
	want := ts.Snapshot()

	for frames := 1; ; frames++ {
		got := readSnapshotEvent(t, reader)
		if reflect.DeepEqual(got, want) {
			break
		}
		if frames >= 4 {
			t.Fatalf("Клиент не дошёл до последнего снапшота, последний: %+v", got)
		}
	}
}

func TestStreamObserverKeepsLatest(t *testing.T) {
	mailbox := store.NewMailbox()
	observe := streamObserver(mailbox)

	before := testutil.ToFloat64(streamSkipped)
	observe(models.Snapshot{{ID: 0, Description: "a"}})
	observe(models.Snapshot{{ID: 0, Description: "a"}, {ID: 1, Description: "b"}})
	latest := models.Snapshot{{ID: 1, Description: "b"}}
	observe(latest)

	if skipped := testutil.ToFloat64(streamSkipped) - before; skipped != 2 {
		t.Errorf("Ожидалось 2 пропущенных снапшота, получено %v", skipped)
	}
	if got := <-mailbox.C(); !reflect.DeepEqual(got, latest) {
		t.Errorf("Ожидался последний снапшот %+v, получено %+v", latest, got)
	}
}

func openStream(t *testing.T, ctx context.Context, addr string) *bufio.Reader {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Ошибка подключения к /events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	reader := bufio.NewReader(resp.Body)
	readSnapshotEvent(t, reader)
	return reader
}

func TestShutdownClosesEventStreams(t *testing.T) {
	ts := store.New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Ошибка listen: %v", err)
	}
	srv := NewHTTPServer(context.Background(), "", NewRouter(ts, nil))
	go srv.Serve(ln)

	clientCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	openStream(t, clientCtx, ln.Addr().String())

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown с открытым SSE-клиентом: %v", err)
	}
	if n := ts.Subscribers(); n != 0 {
		t.Errorf("После остановки остались подписчики: %d", n)
	}
}

func TestBaseContextCancelClosesEventStreams(t *testing.T) {
	ts := store.New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Ошибка listen: %v", err)
	}
	ctx, cancelServer := context.WithCancel(context.Background())
	srv := NewHTTPServer(ctx, "", NewRouter(ts, nil))
	go srv.Serve(ln)
	defer srv.Close()

	clientCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := openStream(t, clientCtx, ln.Addr().String())

	// отмена базового контекста (SIGTERM) завершает поток
	cancelServer()
	for {
		if _, err := reader.ReadString('\n'); err != nil {
			if clientCtx.Err() != nil {
				t.Fatal("Поток не закрылся после отмены контекста сервера")
			}
			break
		}
	}
}

func TestWriteJSONLogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-7"))
	rec := httptest.NewRecorder()

	// канал не кодируется в JSON
	writeJSON(rec, req, http.StatusOK, make(chan int))

	out := buf.String()
	if !strings.Contains(out, "Ошибка кодирования ответа") {
		t.Fatalf("Ошибка кодирования не залогирована: %s", out)
	}
	if !strings.Contains(out, "request_id=req-7") {
		t.Errorf("В логе нет request_id запроса: %s", out)
	}
}
