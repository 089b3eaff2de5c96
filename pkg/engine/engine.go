// Package engine описывает контракт движка сессий (SIP сигнализация и
// медиа), которым управляет провайдер. Движок сообщает о происходящем
// событиями закрытого набора типов Event и принимает команды через
// интерфейсы UA и Session.
//
// Реализации:
//   - sip_engine: SIP поверх UDP/TCP/WS с RTP медиа
//   - mockengine: движок в памяти для тестов
package engine

import (
	"context"
	"time"

	"github.com/arzzra/sip_provider/pkg/media"
)

// DTMFTransport способ передачи DTMF
type DTMFTransport string

const (
	DTMFTransportRFC4733 DTMFTransport = "RFC4733"
	DTMFTransportINFO    DTMFTransport = "INFO"
	DTMFTransportRFC2833 DTMFTransport = "RFC2833"
)

// UAConfig параметры создания UA
type UAConfig struct {
	// URI адрес пользователя, например sip:alice@sip.example.com
	URI string
	// Password пароль для digest аутентификации
	Password string
	// SocketURL адрес транспорта: ws(s)://host:port/path
	SocketURL string
	// Register включает автоматическую регистрацию при старте
	Register bool
}

// Handler принимает события движка. Движок вызывает его последовательно,
// не более одного вызова одновременно.
type Handler func(Event)

// Factory создает UA
type Factory interface {
	NewUA(cfg UAConfig, handler Handler) (UA, error)
}

// FactoryFunc адаптер функции к Factory
type FactoryFunc func(cfg UAConfig, handler Handler) (UA, error)

func (f FactoryFunc) NewUA(cfg UAConfig, handler Handler) (UA, error) {
	return f(cfg, handler)
}

// UA агент пользователя: транспорт, регистрация, вызовы.
type UA interface {
	Start(ctx context.Context) error
	Stop() error

	Register(ctx context.Context) error
	Unregister(ctx context.Context, opts UnregisterOptions) error
	SetRegisterExtraHeaders(headers []string)

	// Call начинает исходящий вызов. NewSession с OriginatorLocal
	// доставляется до возврата из Call или сразу после.
	Call(ctx context.Context, target string, opts CallOptions) (Session, error)
	TerminateSessions(ctx context.Context, opts TerminateOptions) error

	IsConnected() bool
}

// Session медиа сессия одного вызова. IsOnHold, IsMuted и Connection
// не блокируются и не вызывают обработчик событий.
type Session interface {
	ID() string

	Answer(ctx context.Context, opts AnswerOptions) error
	Terminate(ctx context.Context, opts TerminateOptions) error

	// Hold и Unhold возвращают nil только после подтверждения удаленной
	// стороной.
	Hold(ctx context.Context, opts HoldOptions) error
	Unhold(ctx context.Context, opts HoldOptions) error
	IsOnHold() HoldStatus

	Mute(flags MediaFlags) error
	Unmute(flags MediaFlags) error
	IsMuted() MediaFlags

	SendDTMF(ctx context.Context, tones string, opts DTMFOptions) error
	Renegotiate(ctx context.Context, opts RenegotiateOptions) error

	// Connection может вернуть nil, пока медиа не согласовано.
	Connection() PeerConnection
}

// PeerConnection медиа соединение сессии
type PeerConnection interface {
	Senders() []Sender
}

// Sender отправитель одного локального трека
type Sender interface {
	Track() media.Track
	ReplaceTrack(ctx context.Context, track media.Track) error
	// DTMF возвращает nil, если отправитель не умеет DTMF.
	DTMF() DTMFSender
}

// DTMFSender отправка DTMF внутри медиа потока (RFC 4733)
type DTMFSender interface {
	InsertDTMF(tones string, duration, interToneGap time.Duration) error
}

// HoldStatus состояние удержания с каждой стороны
type HoldStatus struct {
	Local  bool
	Remote bool
}

// MediaFlags выбор медиа для mute/unmute
type MediaFlags struct {
	Audio bool
	Video bool
}

// MediaConstraints какие медиа запрашивать
type MediaConstraints struct {
	Audio bool
	Video bool
}

// ICEServer описание STUN/TURN сервера
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// PeerConnectionConfig параметры медиа соединения
type PeerConnectionConfig struct {
	ICEServers []ICEServer
}

// OfferConstraints параметры формирования offer
type OfferConstraints struct {
	ICERestart bool
}

// CallOptions параметры исходящего вызова
type CallOptions struct {
	ExtraHeaders         []string
	MediaConstraints     MediaConstraints
	OfferConstraints     OfferConstraints
	PCConfig             PeerConnectionConfig
	SessionTimersExpires int
	Anonymous            bool
}

// AnswerOptions параметры ответа на входящий вызов
type AnswerOptions struct {
	ExtraHeaders         []string
	MediaConstraints     MediaConstraints
	PCConfig             PeerConnectionConfig
	SessionTimersExpires int
}

// TerminateOptions параметры завершения
type TerminateOptions struct {
	StatusCode   int
	ReasonPhrase string
	ExtraHeaders []string
}

// UnregisterOptions параметры отмены регистрации
type UnregisterOptions struct {
	// All снимает все привязки пользователя (Contact: *)
	All bool
}

// HoldOptions параметры hold/unhold
type HoldOptions struct {
	UseUpdate    bool
	ExtraHeaders []string
}

// DTMFOptions параметры внеполосной отправки DTMF
type DTMFOptions struct {
	Duration      time.Duration
	InterToneGap  time.Duration
	TransportType DTMFTransport
	ExtraHeaders  []string
}

// RenegotiateOptions параметры повторного согласования
type RenegotiateOptions struct {
	UseUpdate        bool
	ExtraHeaders     []string
	OfferConstraints OfferConstraints
}
