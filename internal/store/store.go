package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"todo-board/internal/models"
)

var (
	addTaskCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_added_total",
			Help: "Total number of Add operations",
		},
	)

	toggleTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_toggled_total",
			Help: "Total number of Toggle operations",
		},
		[]string{"result"},
	)

	removeTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapp_tasks_removed_total",
			Help: "Total number of Remove operations",
		},
		[]string{"result"},
	)

	taskDescLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todoapp_task_desc_length_bytes",
			Help:    "Length distribution of task descriptions",
			Buckets: []float64{10, 50, 100, 500, 1000},
		},
	)

	subscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "todoapp_store_subscribers",
			Help: "Number of currently registered snapshot observers",
		},
	)

	publishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todoapp_snapshot_publish_duration_seconds",
			Help:    "Time spent delivering one snapshot to all observers",
			Buckets: prometheus.DefBuckets,
		},
	)
)

const (
	resultHit  = "hit"
	resultMiss = "miss"
)

// Observer получает снапшот синхронно, под блокировкой хранилища.
// Из наблюдателя нельзя вызывать Add/Toggle/Remove/Subscribe, а вот
// Unsubscribe - можно.
type Observer func(models.Snapshot)

type subscriber struct {
	id     uint64
	fn     Observer
	active atomic.Bool
}

// TaskStore - единственный источник правды для списка задач.
// Каждая мутация вместе с рассылкой снапшота выполняется целиком под mu,
// поэтому все наблюдатели видят один и тот же порядок снапшотов.
type TaskStore struct {
	mu     sync.Mutex
	tasks  models.Snapshot
	nextID int

	subsMu    sync.Mutex
	subs      []*subscriber
	nextSubID uint64
}

func New() *TaskStore {
	return &TaskStore{tasks: models.Snapshot{}}
}

// Add добавляет задачу в конец списка. Пустое описание допускается:
// проверка - дело вызывающей стороны.
func (s *TaskStore) Add(description string) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := models.Task{
		ID:          s.nextID,
		Description: description,
		Done:        false,
	}
	s.nextID++
	s.tasks = append(s.tasks, task)

	addTaskCount.Inc()
	taskDescLength.Observe(float64(len(description)))

	s.publish()
	return task
}

// Toggle переключает Done у задачи с данным id. Если задачи нет,
// рассылается неизменённый снапшот и возвращается false.
func (s *TaskStore) Toggle(id int) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		toggled models.Task
		found   bool
	)
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			toggled = models.Task{
				ID:          s.tasks[i].ID,
				Description: s.tasks[i].Description,
				Done:        !s.tasks[i].Done,
			}
			s.tasks[i] = toggled
			found = true
			break
		}
	}

	if found {
		toggleTaskCount.WithLabelValues(resultHit).Inc()
	} else {
		toggleTaskCount.WithLabelValues(resultMiss).Inc()
	}

	s.publish()
	return toggled, found
}

// Remove удаляет задачу с данным id; id больше никогда не выдаётся.
func (s *TaskStore) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			idx = i
			break
		}
	}

	if idx >= 0 {
		next := make(models.Snapshot, 0, len(s.tasks)-1)
		next = append(next, s.tasks[:idx]...)
		next = append(next, s.tasks[idx+1:]...)
		s.tasks = next
		removeTaskCount.WithLabelValues(resultHit).Inc()
	} else {
		removeTaskCount.WithLabelValues(resultMiss).Inc()
	}

	s.publish()
	return idx >= 0
}

// Snapshot возвращает копию текущего списка
func (s *TaskStore) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.tasks)
}

// Subscribe регистрирует наблюдателя и сразу отдаёт ему текущий снапшот.
func (s *TaskStore) Subscribe(fn Observer) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{fn: fn}
	sub.active.Store(true)

	s.subsMu.Lock()
	s.nextSubID++
	sub.id = s.nextSubID
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
	subscribersGauge.Inc()

	fn(clone(s.tasks))

	return &Subscription{store: s, sub: sub}
}

// Subscribers - количество зарегистрированных наблюдателей
func (s *TaskStore) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// publish вызывается под s.mu
func (s *TaskStore) publish() {
	startTime := time.Now()
	defer func() {
		publishDuration.Observe(time.Since(startTime).Seconds())
	}()

	s.subsMu.Lock()
	subs := make([]*subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		// наблюдатель мог отписаться во время этой же рассылки
		if !sub.active.Load() {
			continue
		}
		sub.fn(clone(s.tasks))
	}
}

func (s *TaskStore) unsubscribe(sub *subscriber) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, cur := range s.subs {
		if cur.id == sub.id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			break
		}
	}
	subscribersGauge.Dec()
}

// Subscription - дескриптор для отписки
type Subscription struct {
	store *TaskStore
	sub   *subscriber
}

// Unsubscribe идемпотентен
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.store.unsubscribe(s.sub)
}

func clone(tasks models.Snapshot) models.Snapshot {
	out := make(models.Snapshot, len(tasks))
	copy(out, tasks)
	return out
}
