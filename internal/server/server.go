package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"todo-board/internal/logger"
	"todo-board/internal/models"
	"todo-board/internal/storage"
	"todo-board/internal/store"
)

// NewRouter собирает HTML-страницу, JSON API, SSE-поток и служебные ручки
// поверх одного хранилища задач.
func NewRouter(ts *store.TaskStore, journal storage.Journal) *chi.Mux {
	if journal == nil {
		journal = storage.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// HTML
	r.Get("/", indexHandler(ts))
	r.Post("/tasks", addTaskFormHandler(ts))
	r.Post("/tasks/{id}/toggle", toggleTaskFormHandler(ts))
	r.Post("/tasks/{id}/remove", removeTaskFormHandler(ts))

	r.Get("/events", eventsHandler(ts))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", listTasksHandler(ts))
		r.Post("/tasks", addTaskHandler(ts))
		r.Post("/tasks/{id}/toggle", toggleTaskHandler(ts))
		r.Delete("/tasks/{id}", removeTaskHandler(ts))
		r.Get("/history", historyHandler(journal))
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// NewHTTPServer оборачивает handler в http.Server. Контексты запросов
// отменяются вместе с ctx или при Shutdown, иначе SSE-клиенты держат
// соединения и Shutdown ждёт до таймаута.
func NewHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

func listTasksHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := store.ParseFilter(r.URL.Query().Get("filter"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, r, http.StatusOK, filter.Apply(ts.Snapshot()))
	}
}

func addTaskHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateTaskRequest

		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "некорректный JSON")
			return
		}

		task := ts.Add(req.Description)
		logger.Debug(r.Context(), "Задача добавлена через API", "id", task.ID)

		writeJSON(w, r, http.StatusCreated, task)
	}
}

func toggleTaskHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}

		task, found := ts.Toggle(id)
		if !found {
			writeError(w, r, http.StatusNotFound, "задача не найдена")
			return
		}
		writeJSON(w, r, http.StatusOK, task)
	}
}

func removeTaskHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(w, r)
		if !ok {
			return
		}

		if !ts.Remove(id) {
			writeError(w, r, http.StatusNotFound, "задача не найдена")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func historyHandler(journal storage.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, r, http.StatusBadRequest, "limit должен быть положительным числом")
				return
			}
			limit = n
		}

		entries, err := journal.Recent(r.Context(), limit)
		if err != nil {
			logger.Error(r.Context(), err, "Ошибка чтения журнала")
			writeError(w, r, http.StatusInternalServerError, "журнал недоступен")
			return
		}
		writeJSON(w, r, http.StatusOK, entries)
	}
}

// taskID приводит {id} из пути к int, при ошибке сам отвечает 400
func taskID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ID задачи должен быть числом")
		return 0, false
	}
	return id, true
}

// writeJSON пишет ответ; ошибки кодирования логируются с request_id запроса
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(r.Context(), err, "Ошибка кодирования ответа")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
