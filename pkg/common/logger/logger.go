package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
)

var (
	once sync.Once
	log  *slog.Logger
)

type Options struct {
	Level      slog.Leveler
	Writer     io.Writer // default: os.Stdout
	TimeFormat string
}

// Init configures the process-wide logger. Subsequent calls are no-ops.
func Init(opts *Options) {
	once.Do(func() {
		writer := opts.Writer
		if writer == nil {
			writer = os.Stdout
		}

		handler := tint.NewHandler(writer, &tint.Options{
			Level:      opts.Level,
			TimeFormat: opts.TimeFormat,
		})

		log = slog.New(handler)
		slog.SetDefault(log)
	})
}

func L() *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Fatal logs an error then exits.
func Fatal(msg string, args ...any) {
	L().Error(msg, args...)
	os.Exit(1)
}
