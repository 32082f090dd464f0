package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"todo-board/internal/logger"
	"todo-board/internal/storage"
)

// Создаёт схему журнала снапшотов в файле SQLite, чтобы JOURNAL_DSN
// можно было направить на заранее подготовленную БД.
func main() {
	ctx := context.Background()
	path := flag.String("db", "./data/journal.db", "Путь к файлу SQLite")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*path), 0755); err != nil {
		logger.Error(ctx, err, "Ошибка создания директории")
		os.Exit(1)
	}

	db, err := storage.Open(*path)
	if err != nil {
		logger.Error(ctx, err, "Ошибка миграции")
		os.Exit(1)
	}
	defer db.Close()

	logger.Info(ctx, "Миграция завершена успешно", "db", *path)
}
