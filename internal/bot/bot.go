package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"todo-board/internal/logger"
	"todo-board/internal/models"
	"todo-board/internal/store"
)

// Sender - часть *tgbotapi.BotAPI, нужная боту
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api   Sender
	store *store.TaskStore

	mu       sync.Mutex
	watchers map[int64]*watcher
}

// watcher доставляет снапшоты в чат вне блокировки хранилища
type watcher struct {
	sub     *store.Subscription
	mailbox *store.Mailbox
	stop    chan struct{}
	done    chan struct{}
}

func New(api Sender, ts *store.TaskStore) *Bot {
	return &Bot{
		api:      api,
		store:    ts,
		watchers: make(map[int64]*watcher),
	}
}

// Connect авторизуется в Telegram по токену
func Connect(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания бота: %w", err)
	}
	api.Debug = debug
	logger.Info(context.Background(), "Авторизован в Telegram", "username", api.Self.UserName)
	return api, nil
}

// Start читает обновления, пока не закроется канал или не отменится ctx
func (b *Bot) Start(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	logger.Info(ctx, "Бот запущен и слушает сообщения...")
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

// Listen подключает бота к long polling
func (b *Bot) Listen(ctx context.Context, api *tgbotapi.BotAPI) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("ошибка получения updates: %w", err)
	}
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	b.Start(ctx, updates)
	return nil
}

func (b *Bot) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}

	user := ""
	if msg.From != nil {
		user = msg.From.UserName
	}
	logger.Info(ctx, "Получено сообщение", "user", user, "text", msg.Text)

	command, args, ok := parseCommand(msg.Text)
	if !ok {
		// обычный текст сразу становится задачей
		if strings.TrimSpace(msg.Text) != "" {
			b.addTask(msg.Chat.ID, strings.TrimSpace(msg.Text))
		}
		return
	}

	chatID := msg.Chat.ID
	switch command {
	case "start":
		b.sendMessage(chatID, welcomeText)
	case "help":
		b.sendMessage(chatID, helpText)
	case "add":
		if args == "" {
			b.sendMessage(chatID, "Укажите задачу после команды: /add Купить молоко")
			return
		}
		b.addTask(chatID, args)
	case "list":
		b.listTasks(chatID, args)
	case "done":
		b.toggleTask(chatID, args)
	case "remove", "delete":
		b.removeTask(chatID, args)
	case "watch":
		b.watch(chatID)
	case "unwatch":
		b.unwatch(chatID)
	default:
		b.sendMessage(chatID, "Неизвестная команда. Используйте /help для списка команд.")
	}
}

// parseCommand разбирает "/cmd@bot аргументы"
func parseCommand(text string) (command, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.Index(head, "@"); i != -1 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func (b *Bot) addTask(chatID int64, description string) {
	task := b.store.Add(description)
	b.sendMessage(chatID, fmt.Sprintf("✅ Задача добавлена!\n\nID: #%d\nЗадача: %s", task.ID, task.Description))
}

func (b *Bot) listTasks(chatID int64, args string) {
	filter, err := store.ParseFilter(args)
	if err != nil {
		b.sendMessage(chatID, "Фильтр должен быть all, pending или done")
		return
	}
	b.sendMessage(chatID, formatTasks(filter.Apply(b.store.Snapshot()), emptyMessage(filter)))
}

func (b *Bot) toggleTask(chatID int64, args string) {
	id, ok := b.parseID(chatID, args, "/done 1")
	if !ok {
		return
	}
	task, found := b.store.Toggle(id)
	if !found {
		b.sendMessage(chatID, fmt.Sprintf("Задача #%d не найдена", id))
		return
	}
	if task.Done {
		b.sendMessage(chatID, fmt.Sprintf("✅ Задача #%d отмечена выполненной!", id))
	} else {
		b.sendMessage(chatID, fmt.Sprintf("↩️ Задача #%d снова в работе", id))
	}
}

func (b *Bot) removeTask(chatID int64, args string) {
	id, ok := b.parseID(chatID, args, "/remove 1")
	if !ok {
		return
	}
	if !b.store.Remove(id) {
		b.sendMessage(chatID, fmt.Sprintf("Задача #%d не найдена", id))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("🗑️ Задача #%d удалена!", id))
}

func (b *Bot) parseID(chatID int64, args, example string) (int, bool) {
	if args == "" {
		b.sendMessage(chatID, "Укажите номер задачи: "+example)
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args, "#"))
	if err != nil {
		b.sendMessage(chatID, "Номер задачи должен быть числом")
		return 0, false
	}
	return id, true
}

func (b *Bot) watch(chatID int64) {
	b.mu.Lock()
	if _, exists := b.watchers[chatID]; exists {
		b.mu.Unlock()
		b.sendMessage(chatID, "Этот чат уже подписан на изменения")
		return
	}

	w := &watcher{
		mailbox: store.NewMailbox(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// наблюдатель не берёт b.mu, так что подписка под b.mu безопасна;
	// Subscribe сразу кладёт текущий список в ящик
	w.sub = b.store.Subscribe(func(tasks models.Snapshot) { w.mailbox.Put(tasks) })
	b.watchers[chatID] = w
	b.mu.Unlock()

	go b.deliver(chatID, w)
	logger.Info(context.Background(), "Чат подписан на изменения", "chat", chatID)
}

func (b *Bot) deliver(chatID int64, w *watcher) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case tasks := <-w.mailbox.C():
			b.sendMessage(chatID, "🔔 Список обновлён\n\n"+formatTasks(tasks, emptyMessage(store.FilterAll)))
		}
	}
}

func (b *Bot) unwatch(chatID int64) {
	b.mu.Lock()
	w, exists := b.watchers[chatID]
	delete(b.watchers, chatID)
	b.mu.Unlock()

	if !exists {
		b.sendMessage(chatID, "Этот чат не подписан")
		return
	}
	w.close()
	b.sendMessage(chatID, "🔕 Подписка отменена")
}

func (w *watcher) close() {
	w.sub.Unsubscribe()
	close(w.stop)
	<-w.done
}

// Watching - количество подписанных чатов
func (b *Bot) Watching() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// Close снимает все подписки
func (b *Bot) Close() {
	b.mu.Lock()
	watchers := b.watchers
	b.watchers = make(map[int64]*watcher)
	b.mu.Unlock()

	for _, w := range watchers {
		w.close()
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)

	if _, err := b.api.Send(msg); err != nil {
		logger.Error(context.Background(), err, "Ошибка отправки сообщения", "chat", chatID)
	}
}

func emptyMessage(f store.Filter) string {
	switch f {
	case store.FilterPending:
		return "🎉 Невыполненных задач нет"
	case store.FilterDone:
		return "Пока ничего не сделано"
	default:
		return "📭 Список задач пуст"
	}
}

func formatTasks(tasks models.Snapshot, empty string) string {
	if len(tasks) == 0 {
		return empty
	}

	var response strings.Builder
	response.WriteString("📋 Задачи:\n\n")
	for _, task := range tasks {
		status := "🟢"
		if task.Done {
			status = "✅"
		}
		fmt.Fprintf(&response, "%s #%d: %s\n", status, task.ID, task.Description)
	}
	return response.String()
}

const welcomeText = `🎯 Добро пожаловать в TodoBot!

Доступные команды:
/add [задача] - Добавить задачу
/list [all|pending|done] - Показать задачи
/done [номер] - Переключить статус задачи
/remove [номер] - Удалить задачу
/watch - Присылать список при каждом изменении
/unwatch - Отписаться
/help - Помощь`

const helpText = `🤖 Помощь по командам

/start - Начать работу с ботом
/add [задача] - Добавить новую задачу (или просто отправьте текст)
/list [all|pending|done] - Показать задачи
/done [номер] - Отметить задачу выполненной или вернуть в работу
/remove [номер] - Удалить задачу
/watch, /unwatch - Подписка на изменения списка

Примеры:
/add Купить молоко
/done 0
/list pending`
