package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"todo-board/internal/bot"
	"todo-board/internal/config"
	"todo-board/internal/logger"
	"todo-board/internal/server"
	"todo-board/internal/storage"
	"todo-board/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error(context.Background(), err, "Приложение остановлено с ошибкой")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Read()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.SetJSON(cfg.Env == config.EnvProd)
	logger.Info(ctx, "Запуск todo-app", "env", cfg.Env, "addr", cfg.HTTP.Addr)

	taskStore := store.New()

	journal, err := storage.OpenJournal(cfg.Journal.DSN, cfg.Journal.Buffer)
	if err != nil {
		return err
	}
	defer journal.Close()
	journalSub := taskStore.Subscribe(journal.Observe)
	defer journalSub.Unsubscribe()

	var wg sync.WaitGroup
	if cfg.Telegram.Enabled() {
		api, err := bot.Connect(cfg.Telegram.Token, cfg.Telegram.Debug)
		if err != nil {
			return err
		}
		tgBot := bot.New(api, taskStore)
		defer tgBot.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tgBot.Listen(ctx, api); err != nil {
				logger.Error(ctx, err, "Бот остановлен")
			}
		}()
	}

	// ctx сигнала становится базовым для запросов: SSE-потоки закрываются
	// до Shutdown
	srv := server.NewHTTPServer(ctx, cfg.HTTP.Addr, server.NewRouter(taskStore, journal))

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP сервер слушает", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Остановка HTTP сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	wg.Wait()
	logger.Info(context.Background(), "HTTP сервер остановлен")
	return nil
}
