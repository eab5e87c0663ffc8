// Package logger - структурированное логирование сервиса поверх zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger - методы логирования, которые использует сервис.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With возвращает логгер с дополнительными полями.
	With(fields map[string]any) Logger
}

// ZerologLogger реализует Logger через rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// New создает логгер компонента. APP_ENV=dev включает человекочитаемый вывод,
// уровень задаётся строкой level (debug, info, warn, error).
func New(component, env, level string) Logger {
	var out io.Writer = os.Stdout
	if strings.ToLower(env) == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(out, component, level)
}

// NewWithWriter создает логгер, пишущий в w.
func NewWithWriter(w io.Writer, component, level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l *ZerologLogger) With(fields map[string]any) Logger {
	return &ZerologLogger{log: l.log.With().Fields(fields).Logger()}
}

// NopLogger ничего не пишет.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}

func (n NopLogger) With(map[string]any) Logger { return n }
