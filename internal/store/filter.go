package store

import (
	"fmt"
	"strings"

	"todo-board/internal/models"
)

type Filter int

const (
	FilterAll Filter = iota
	FilterPending
	FilterDone
)

func (f Filter) String() string {
	switch f {
	case FilterPending:
		return "pending"
	case FilterDone:
		return "done"
	default:
		return "all"
	}
}

// ParseFilter: "" и "all" -> FilterAll
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "pending":
		return FilterPending, nil
	case "done":
		return FilterDone, nil
	}
	return FilterAll, fmt.Errorf("неизвестный фильтр %q (ожидается all|pending|done)", s)
}

// Apply всегда возвращает новый слайс, исходный снапшот не трогается
func (f Filter) Apply(tasks models.Snapshot) models.Snapshot {
	switch f {
	case FilterPending:
		return Pending(tasks)
	case FilterDone:
		return Done(tasks)
	default:
		return clone(tasks)
	}
}

func Pending(tasks models.Snapshot) models.Snapshot {
	return where(tasks, false)
}

func Done(tasks models.Snapshot) models.Snapshot {
	return where(tasks, true)
}

func where(tasks models.Snapshot, done bool) models.Snapshot {
	out := make(models.Snapshot, 0, len(tasks))
	for _, task := range tasks {
		if task.Done == done {
			out = append(out, task)
		}
	}
	return out
}

// SubscribeFiltered - производный канал: фильтр пересчитывается с нуля
// на каждом снапшоте хранилища.
func SubscribeFiltered(s *TaskStore, f Filter, fn Observer) *Subscription {
	return s.Subscribe(func(tasks models.Snapshot) {
		fn(f.Apply(tasks))
	})
}
