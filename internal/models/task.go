package models

// Task неизменяема после создания, кроме Done: переключение строит новую
// запись с тем же ID.
type Task struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Snapshot - весь список задач в порядке добавления на момент публикации
type Snapshot []Task

// Структура только для HTTP-запроса
type CreateTaskRequest struct {
	Description string `json:"description"`
}
