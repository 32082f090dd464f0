package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"todo-board/internal/logger"
	"todo-board/internal/models"
	"todo-board/internal/store"
)

var (
	streamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "todoapp_sse_clients",
			Help: "Number of connected snapshot stream clients",
		},
	)

	streamSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapp_sse_snapshots_skipped_total",
			Help: "Snapshots replaced by a newer one before a slow client read them",
		},
	)
)

var heartbeatInterval = 15 * time.Second

// eventsHandler отдаёт снапшоты как text/event-stream. Наблюдатель только
// кладёт снапшот в ящик на один элемент, медленный клиент получает
// самый свежий.
func eventsHandler(ts *store.TaskStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := store.ParseFilter(r.URL.Query().Get("filter"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}

		mailbox := store.NewMailbox()
		sub := store.SubscribeFiltered(ts, filter, streamObserver(mailbox))
		defer sub.Unsubscribe()

		streamClients.Inc()
		defer streamClients.Dec()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		logger.Debug(ctx, "SSE клиент подключен", "filter", filter.String())

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug(ctx, "SSE клиент отключен")
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case tasks := <-mailbox.C():
				if err := writeSnapshotEvent(w, tasks); err != nil {
					logger.Error(ctx, err, "Ошибка отправки снапшота")
					return
				}
				flusher.Flush()
			}
		}
	}
}

// streamObserver кладёт снапшоты в ящик клиента и считает вытесненные
func streamObserver(mailbox *store.Mailbox) store.Observer {
	return func(tasks models.Snapshot) {
		if mailbox.Put(tasks) {
			streamSkipped.Inc()
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, tasks models.Snapshot) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
