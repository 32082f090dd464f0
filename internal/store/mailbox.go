package store

import "todo-board/internal/models"

// Mailbox хранит не больше одного непрочитанного снапшота: новый вытесняет
// старый. Наблюдатель кладёт в него без блокировки, а медленный читатель
// всегда получает самый свежий список.
type Mailbox struct {
	c chan models.Snapshot
}

func NewMailbox() *Mailbox {
	return &Mailbox{c: make(chan models.Snapshot, 1)}
}

// Put кладёт снапшот и сообщает, был ли вытеснен непрочитанный.
// Писатель один: наблюдатели вызываются по очереди под блокировкой
// хранилища.
func (m *Mailbox) Put(tasks models.Snapshot) (replaced bool) {
	select {
	case <-m.c:
		replaced = true
	default:
	}
	select {
	case m.c <- tasks:
	default:
	}
	return replaced
}

func (m *Mailbox) C() <-chan models.Snapshot {
	return m.c
}
