package storage

import (
	"context"
	"time"

	"todo-board/internal/logger"
	"todo-board/internal/models"
)

// Journal - журнал снапшотов. Пишется как наблюдатель хранилища задач,
// при старте никогда не проигрывается: состояние между перезапусками
// не восстанавливается.
type Journal interface {
	// Observe совместим с store.Observer и не должен блокироваться
	Observe(tasks models.Snapshot)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

type Entry struct {
	ID       int64           `json:"id"`
	RunID    string          `json:"run_id"`
	Revision int64           `json:"revision"`
	TakenAt  time.Time       `json:"taken_at"`
	Total    int             `json:"total"`
	Pending  int             `json:"pending"`
	Done     int             `json:"done"`
	Tasks    models.Snapshot `json:"tasks"`
}

func newEntry(runID string, revision int64, tasks models.Snapshot) Entry {
	e := Entry{
		RunID:    runID,
		Revision: revision,
		TakenAt:  time.Now().UTC(),
		Total:    len(tasks),
		Tasks:    tasks,
	}
	for _, task := range tasks {
		if task.Done {
			e.Done++
		} else {
			e.Pending++
		}
	}
	return e
}

// Nop - журнал, который ничего не пишет
type Nop struct{}

func (Nop) Observe(models.Snapshot) {}

func (Nop) Recent(context.Context, int) ([]Entry, error) { return []Entry{}, nil }

func (Nop) Close() error { return nil }

// OpenJournal выбирает журнал по DSN: пустая строка выключает журнал,
// иначе открывается SQLite.
func OpenJournal(dsn string, buffer int) (Journal, error) {
	if dsn == "" {
		logger.Info(context.Background(), "Журнал снапшотов выключен")
		return Nop{}, nil
	}
	return NewSQLiteJournal(dsn, buffer)
}
