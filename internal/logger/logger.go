package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Level = logrus.Level

const (
	LevelDebug = logrus.DebugLevel
	LevelInfo  = logrus.InfoLevel
	LevelWarn  = logrus.WarnLevel
	LevelError = logrus.ErrorLevel
)

var base = newBase(os.Stderr)

func newBase(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(LevelInfo)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func SetLevel(level Level) {
	base.SetLevel(level)
}

// ParseLevel понимает debug|info|warn|error, всё остальное -> info
func ParseLevel(s string) Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return LevelInfo
	}
	return lvl
}

func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetJSON переключает формат вывода (для prod)
func SetJSON(enabled bool) {
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
}

func Debug(ctx context.Context, msg string, kv ...any) {
	entry(ctx, kv).Debug(msg)
}

func Info(ctx context.Context, msg string, kv ...any) {
	entry(ctx, kv).Info(msg)
}

func Warn(ctx context.Context, msg string, kv ...any) {
	entry(ctx, kv).Warn(msg)
}

// Error пишет сообщение в формате "msg: err"; err может быть nil
func Error(ctx context.Context, err error, msg string, kv ...any) {
	e := entry(ctx, kv)
	if err != nil {
		e.WithError(err).Errorf("%s: %v", msg, err)
		return
	}
	e.Error(msg)
}

func entry(ctx context.Context, kv []any) *logrus.Entry {
	fields := logrus.Fields{}
	if ctx != nil {
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			fields["request_id"] = reqID
		}
	}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields[key] = "(missing)"
			break
		}
		fields[key] = kv[i+1]
	}
	return base.WithFields(fields)
}
