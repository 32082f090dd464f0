package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"todo-board/internal/bot"
	"todo-board/internal/config"
	"todo-board/internal/logger"
	"todo-board/internal/store"
)

// Бот без веб-интерфейса: у процесса своё хранилище в памяти.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Read()
	if err != nil {
		logger.Error(ctx, err, "Ошибка чтения конфигурации")
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info(ctx, "Запуск Telegram-бота...")

	if !cfg.Telegram.Enabled() {
		logger.Error(ctx, nil, "TELEGRAM_TOKEN не задан")
		os.Exit(1)
	}

	api, err := bot.Connect(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		logger.Error(ctx, err, "Ошибка создания бота")
		os.Exit(1)
	}

	tgBot := bot.New(api, store.New())
	defer tgBot.Close()

	logger.Info(ctx, "Бот успешно инициализирован")
	if err := tgBot.Listen(ctx, api); err != nil {
		logger.Error(ctx, err, "Бот остановлен")
	}
}
