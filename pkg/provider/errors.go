package provider

import (
	"errors"
	"fmt"

	"github.com/arzzra/sip_provider/pkg/logger"
)

// ErrorKind класс ошибки провайдера. Вызывающий код ветвится по Kind,
// а не по тексту сообщения.
type ErrorKind string

const (
	KindNotInitialized  ErrorKind = "NOT_INITIALIZED"
	KindInvalidState    ErrorKind = "INVALID_STATE"
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	KindNoActiveSession ErrorKind = "NO_ACTIVE_SESSION"
	KindConfiguration   ErrorKind = "CONFIGURATION"
	KindConnection      ErrorKind = "CONNECTION"
	KindRegistration    ErrorKind = "REGISTRATION"
	KindDeviceBinding   ErrorKind = "DEVICE_BINDING"
)

func (k ErrorKind) String() string { return string(k) }

// Error структурированная ошибка команды или привязки устройства
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// Expected и Actual заполняются для InvalidState
	Expected string
	Actual   string
	Fields   map[string]interface{}
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Expected != "" || e.Actual != "" {
		msg = fmt.Sprintf("%s (ожидалось %s, текущее %s)", msg, e.Expected, e.Actual)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is сравнивает по Kind, поэтому errors.Is(err, ErrInvalidState)
// срабатывает для любой ошибки этого класса.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// WithField добавляет поле контекста
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// LogFields поля для структурированного лога
func (e *Error) LogFields() []logger.Field {
	fields := []logger.Field{
		logger.String("error_kind", string(e.Kind)),
		logger.String("operation", e.Op),
	}
	if e.Expected != "" {
		fields = append(fields, logger.String("expected", e.Expected), logger.String("actual", e.Actual))
	}
	for k, v := range e.Fields {
		fields = append(fields, logger.Any(k, v))
	}
	return fields
}

// Сентинелы для errors.Is
var (
	ErrNotInitialized  = &Error{Kind: KindNotInitialized}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNoActiveSession = &Error{Kind: KindNoActiveSession}
	ErrDeviceBinding   = &Error{Kind: KindDeviceBinding}
)

// ErrClosed команда после Close
var ErrClosed = errors.New("провайдер закрыт")

// KindOf возвращает класс ошибки или пустую строку
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func errNotInitialized(op string) *Error {
	return &Error{
		Kind:    KindNotInitialized,
		Op:      op,
		Message: "SIP агент не инициализирован",
	}
}

func errInvalidState(op, message, expected, actual string) *Error {
	return &Error{
		Kind:     KindInvalidState,
		Op:       op,
		Message:  message,
		Expected: expected,
		Actual:   actual,
	}
}

func errInvalidArgument(op, message string) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Op:      op,
		Message: message,
	}
}

func errNoActiveSession(op string) *Error {
	return &Error{
		Kind:    KindNoActiveSession,
		Op:      op,
		Message: "нет активной сессии",
	}
}

func errDeviceBinding(op, deviceID string, cause error) *Error {
	return (&Error{
		Kind:    KindDeviceBinding,
		Op:      op,
		Message: "не удалось привязать устройство " + deviceID,
		Cause:   cause,
	}).WithField("device_id", deviceID)
}
