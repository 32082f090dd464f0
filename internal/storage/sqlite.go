package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "modernc.org/sqlite"

	"todo-board/internal/logger"
	"todo-board/internal/models"
)

var (
	journalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_journal_writes_total",
			Help: "Snapshot journal inserts",
		},
		[]string{"status"},
	)

	journalDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapp_journal_dropped_total",
			Help: "Snapshots dropped because the journal buffer was full",
		},
	)
)

var ErrJournalClosed = errors.New("журнал закрыт")

const DefaultBuffer = 64

type SQLiteJournal struct {
	db    *sql.DB
	runID string

	mu       sync.Mutex
	closed   bool
	revision int64
	queue    chan Entry

	done chan struct{}
}

// NewSQLiteJournal открывает БД, создаёт таблицы и запускает фоновую запись.
// dsn ":memory:" держит журнал только в памяти процесса.
func NewSQLiteJournal(dsn string, buffer int) (*SQLiteJournal, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	j := &SQLiteJournal{
		db:    db,
		runID: uuid.NewString(),
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go j.loop()

	logger.Info(context.Background(), "Журнал снапшотов инициализирован", "dsn", dsn, "run_id", j.runID)
	return j, nil
}

// Open открывает SQLite и применяет схему журнала
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия БД: %w", err)
	}
	// у каждого соединения к ":memory:" своя база
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := CreateTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func CreateTables(db *sql.DB) error {
	createSnapshotsTable := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		revision INTEGER NOT NULL,
		taken_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		pending INTEGER NOT NULL,
		done INTEGER NOT NULL,
		payload TEXT NOT NULL
	)`

	createRunIndex := `CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots (run_id, revision)`

	if _, err := db.Exec(createSnapshotsTable); err != nil {
		return fmt.Errorf("ошибка создания таблицы snapshots: %w", err)
	}
	if _, err := db.Exec(createRunIndex); err != nil {
		return fmt.Errorf("ошибка создания индекса snapshots: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) RunID() string {
	return j.runID
}

// Observe вызывается под блокировкой хранилища, поэтому только ставит
// запись в очередь. При переполнении снапшот отбрасывается.
func (j *SQLiteJournal) Observe(tasks models.Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	j.revision++
	select {
	case j.queue <- newEntry(j.runID, j.revision, tasks):
	default:
		journalDropped.Inc()
	}
}

func (j *SQLiteJournal) loop() {
	defer close(j.done)
	ctx := context.Background()
	for e := range j.queue {
		if err := j.Record(ctx, e); err != nil {
			journalWrites.WithLabelValues("error").Inc()
			logger.Error(ctx, err, "Ошибка записи снапшота", "revision", e.Revision)
			continue
		}
		journalWrites.WithLabelValues("success").Inc()
	}
}

// Record синхронно пишет одну запись
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Tasks)
	if err != nil {
		return fmt.Errorf("сериализация снапшота: %w", err)
	}

	query := `
	INSERT INTO snapshots (run_id, revision, taken_at, total, pending, done, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = j.db.ExecContext(ctx, query, e.RunID, e.Revision, e.TakenAt, e.Total, e.Pending, e.Done, string(payload))
	return err
}

// Recent возвращает последние записи, новые первыми
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT id, run_id, revision, taken_at, total, pending, done, payload
	FROM snapshots ORDER BY id DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var payload string

		err := rows.Scan(
			&e.ID, &e.RunID, &e.Revision, &e.TakenAt,
			&e.Total, &e.Pending, &e.Done, &payload,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(payload), &e.Tasks); err != nil {
			return nil, fmt.Errorf("снапшот %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close дописывает очередь и закрывает соединение
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJournalClosed
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}
