package engine

import "github.com/arzzra/sip_provider/pkg/media"

// Originator инициатор новой сессии
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
	OriginatorSystem Originator = "system"
)

// Event событие движка. Набор типов закрыт: реализации есть только в
// этом пакете, обработчики перебирают их через type switch.
type Event interface {
	EventName() string
	event()
}

// SessionEvent событие, относящееся к конкретной сессии
type SessionEvent interface {
	Event
	EventSession() Session
}

// Connecting транспорт начал подключение
type Connecting struct{}

// Connected транспорт подключен
type Connected struct{}

// Disconnected транспорт отключен
type Disconnected struct {
	Cause string
}

// Registered регистрация принята
type Registered struct {
	Expires int
}

// Unregistered регистрация снята
type Unregistered struct {
	Cause string
}

// RegistrationFailed регистрация отклонена
type RegistrationFailed struct {
	Cause        string
	ReasonPhrase string
	StatusCode   int
}

// Request адресная часть запроса, породившего сессию
type Request struct {
	From   string
	To     string
	CallID string
}

// NewSession появилась новая сессия
type NewSession struct {
	Originator Originator
	Session    Session
	Request    Request
}

// SessionFailed сессия не установилась
type SessionFailed struct {
	Session    Session
	Originator Originator
	Cause      string
}

// SessionEnded установленная сессия завершена
type SessionEnded struct {
	Session    Session
	Originator Originator
	Cause      string
}

// SessionAccepted вызов принят
type SessionAccepted struct {
	Session Session
}

// SessionUnhold удаленная или локальная сторона сняла удержание
type SessionUnhold struct {
	Session    Session
	Originator Originator
}

// TrackAdded на медиа соединении появился удаленный трек
type TrackAdded struct {
	Session Session
	Track   media.Track
}

// Unknown событие, которое провайдер не обрабатывает
type Unknown struct {
	Name string
}

func (Connecting) EventName() string         { return "connecting" }
func (Connected) EventName() string          { return "connected" }
func (Disconnected) EventName() string       { return "disconnected" }
func (Registered) EventName() string         { return "registered" }
func (Unregistered) EventName() string       { return "unregistered" }
func (RegistrationFailed) EventName() string { return "registrationFailed" }
func (NewSession) EventName() string         { return "newSession" }
func (SessionFailed) EventName() string      { return "failed" }
func (SessionEnded) EventName() string       { return "ended" }
func (SessionAccepted) EventName() string    { return "accepted" }
func (SessionUnhold) EventName() string      { return "unhold" }
func (TrackAdded) EventName() string         { return "peerconnectionTrackAdded" }
func (e Unknown) EventName() string          { return e.Name }

func (Connecting) event()         {}
func (Connected) event()          {}
func (Disconnected) event()       {}
func (Registered) event()         {}
func (Unregistered) event()       {}
func (RegistrationFailed) event() {}
func (NewSession) event()         {}
func (SessionFailed) event()      {}
func (SessionEnded) event()       {}
func (SessionAccepted) event()    {}
func (SessionUnhold) event()      {}
func (TrackAdded) event()         {}
func (Unknown) event()            {}

func (e SessionFailed) EventSession() Session   { return e.Session }
func (e SessionEnded) EventSession() Session    { return e.Session }
func (e SessionAccepted) EventSession() Session { return e.Session }
func (e SessionUnhold) EventSession() Session   { return e.Session }
func (e TrackAdded) EventSession() Session      { return e.Session }
