// Package logger предоставляет структурированный логгер для всех пакетов
// sip_provider. Интерфейс StructuredLogger не зависит от реализации,
// основная реализация построена на logrus.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel разбирает имя уровня без учета регистра.
func ParseLevel(s string) (LogLevel, error) {
	for level, name := range logLevelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return level, nil
		}
	}
	if strings.EqualFold(s, "warning") {
		return LogLevelWarn, nil
	}
	return LogLevelInfo, fmt.Errorf("неизвестный уровень логирования: %q", s)
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LogLevelTrace:
		return logrus.TraceLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// StructuredLogger интерфейс для структурированного логирования
type StructuredLogger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// LogError логирует ошибку; поля ошибки, реализующей FieldsCarrier,
	// добавляются к записи.
	LogError(ctx context.Context, err error, msg string, fields ...Field)

	WithComponent(component string) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level LogLevel)
	IsEnabled(level LogLevel) bool
}

// FieldsCarrier реализуется ошибками, которые несут свои поля для лога.
type FieldsCarrier interface {
	LogFields() []Field
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }
func Uint64(key string, value uint64) Field          { return Field{key, value} }
func Strings(key string, value []string) Field       { return Field{key, value} }
func Float64(key string, value float64) Field        { return Field{key, value} }
func Stringer(key string, value fmt.Stringer) Field  { return Field{key, value.String()} }

type ctxKey int

const (
	callIDKey ctxKey = iota
	sessionIDKey
)

// ContextWithCallID добавляет call-id, который попадет в каждую запись.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// ContextWithSessionID добавляет идентификатор сессии движка.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// Config параметры логгера
type Config struct {
	Level  LogLevel
	JSON   bool
	Output io.Writer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Level:  LogLevelInfo,
		JSON:   false,
		Output: os.Stderr,
	}
}

// LogrusLogger реализация StructuredLogger поверх logrus
type LogrusLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// New создает логгер по конфигурации
func New(cfg Config) *LogrusLogger {
	l := logrus.New()
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	}
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetLevel(cfg.Level.logrus())
	return &LogrusLogger{base: l, entry: logrus.NewEntry(l)}
}

// FromLogrus оборачивает существующий logrus.Logger
func FromLogrus(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{base: l, entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrus())
}

func (l *LogrusLogger) IsEnabled(level LogLevel) bool {
	return l.base.IsLevelEnabled(level.logrus())
}

func (l *LogrusLogger) WithComponent(component string) StructuredLogger {
	return &LogrusLogger{base: l.base, entry: l.entry.WithField("component", component)}
}

func (l *LogrusLogger) WithFields(fields ...Field) StructuredLogger {
	return &LogrusLogger{base: l.base, entry: l.entry.WithFields(toLogrus(fields))}
}

func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.DebugLevel, msg, fields)
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.InfoLevel, msg, fields)
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.WarnLevel, msg, fields)
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, logrus.ErrorLevel, msg, fields)
}

func (l *LogrusLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {
	if err != nil {
		fields = append(fields, Err(err))
		var fc FieldsCarrier
		if errors.As(err, &fc) {
			fields = append(fields, fc.LogFields()...)
		}
	}
	l.log(ctx, logrus.ErrorLevel, msg, fields)
}

func (l *LogrusLogger) log(ctx context.Context, level logrus.Level, msg string, fields []Field) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	e := l.entry
	if ctx != nil {
		e = e.WithContext(ctx)
		if id, ok := ctx.Value(callIDKey).(string); ok && id != "" {
			e = e.WithField("call_id", id)
		}
		if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
			e = e.WithField("session_id", id)
		}
	}
	if len(fields) > 0 {
		e = e.WithFields(toLogrus(fields))
	}
	e.Log(level, msg)
}

func toLogrus(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// nopLogger отбрасывает все записи
type nopLogger struct{}

// Nop возвращает логгер, который ничего не пишет.
func Nop() StructuredLogger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...Field)           {}
func (nopLogger) Info(context.Context, string, ...Field)            {}
func (nopLogger) Warn(context.Context, string, ...Field)            {}
func (nopLogger) Error(context.Context, string, ...Field)           {}
func (nopLogger) LogError(context.Context, error, string, ...Field) {}
func (n nopLogger) WithComponent(string) StructuredLogger           { return n }
func (n nopLogger) WithFields(...Field) StructuredLogger            { return n }
func (nopLogger) SetLevel(LogLevel)                                 {}
func (nopLogger) IsEnabled(LogLevel) bool                           { return false }
