// Package mockengine движок сессий в памяти. Записывает все команды
// провайдера и позволяет тесту доставлять события вручную через Emit.
package mockengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/media"
)

// Проверяем реализацию интерфейсов
var (
	_ engine.Factory        = (*Factory)(nil)
	_ engine.UA             = (*UA)(nil)
	_ engine.Session        = (*Session)(nil)
	_ engine.PeerConnection = (*PeerConnection)(nil)
	_ engine.Sender         = (*Sender)(nil)
	_ engine.DTMFSender     = (*DTMFSender)(nil)
)

// ErrStopped команда остановленному UA
var ErrStopped = errors.New("mock UA остановлен")

// Factory создает UA и запоминает их
type Factory struct {
	mu  sync.Mutex
	uas []*UA

	// Err если задан, NewUA возвращает эту ошибку
	Err error
	// Configure вызывается для каждого нового UA до возврата
	Configure func(*UA)
}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) NewUA(cfg engine.UAConfig, handler engine.Handler) (engine.UA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	ua := &UA{cfg: cfg, handler: handler, EmitOnCall: true}
	if f.Configure != nil {
		f.Configure(ua)
	}
	f.uas = append(f.uas, ua)
	return ua, nil
}

// UAs все созданные UA по порядку
func (f *Factory) UAs() []*UA {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*UA(nil), f.uas...)
}

// Last последний созданный UA
func (f *Factory) Last() *UA {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uas) == 0 {
		return nil
	}
	return f.uas[len(f.uas)-1]
}

// CallRecord запись команды Call
type CallRecord struct {
	Target  string
	Options engine.CallOptions
}

// UA фиктивный агент
type UA struct {
	cfg     engine.UAConfig
	handler engine.Handler

	mu              sync.Mutex
	started         bool
	stopped         bool
	connected       bool
	registers       int
	unregisters     []engine.UnregisterOptions
	calls           []CallRecord
	terminateAll    []engine.TerminateOptions
	registerHeaders []string
	last            *Session

	// EmitOnCall доставляет NewSession{local} внутри Call
	EmitOnCall bool
	// CallErr ошибка, которую вернет Call
	CallErr error
	// StartErr ошибка, которую вернет Start
	StartErr error
}

func (u *UA) Config() engine.UAConfig { return u.cfg }

// Emit синхронно доставляет событие обработчику провайдера.
// Connected/Disconnected меняют IsConnected.
func (u *UA) Emit(ev engine.Event) {
	switch ev.(type) {
	case engine.Connected:
		u.SetConnected(true)
	case engine.Disconnected:
		u.SetConnected(false)
	}
	u.handler(ev)
}

// EmitRegistration доставляет connecting, connected, registered
func (u *UA) EmitRegistration() {
	u.Emit(engine.Connecting{})
	u.Emit(engine.Connected{})
	u.Emit(engine.Registered{Expires: 600})
}

// Incoming создает входящую сессию и доставляет NewSession{remote}
func (u *UA) Incoming(from string) *Session {
	s := NewSession()
	u.setLast(s)
	u.Emit(engine.NewSession{
		Originator: engine.OriginatorRemote,
		Session:    s,
		Request:    engine.Request{From: from, To: u.cfg.URI, CallID: s.ID()},
	})
	return s
}

func (u *UA) setLast(s *Session) {
	u.mu.Lock()
	u.last = s
	u.mu.Unlock()
}

// LastSession последняя сессия, созданная Call или Incoming
func (u *UA) LastSession() *Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func (u *UA) SetConnected(v bool) {
	u.mu.Lock()
	u.connected = v
	u.mu.Unlock()
}

func (u *UA) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.StartErr != nil {
		return u.StartErr
	}
	u.started = true
	return nil
}

func (u *UA) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopped = true
	u.connected = false
	return nil
}

func (u *UA) Started() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.started
}

func (u *UA) Stopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

func (u *UA) Register(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return ErrStopped
	}
	u.registers++
	return nil
}

func (u *UA) Registers() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registers
}

func (u *UA) Unregister(ctx context.Context, opts engine.UnregisterOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return ErrStopped
	}
	u.unregisters = append(u.unregisters, opts)
	return nil
}

func (u *UA) Unregisters() []engine.UnregisterOptions {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]engine.UnregisterOptions(nil), u.unregisters...)
}

func (u *UA) SetRegisterExtraHeaders(headers []string) {
	u.mu.Lock()
	u.registerHeaders = append([]string(nil), headers...)
	u.mu.Unlock()
}

func (u *UA) RegisterExtraHeaders() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registerHeaders
}

func (u *UA) Call(ctx context.Context, target string, opts engine.CallOptions) (engine.Session, error) {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil, ErrStopped
	}
	u.calls = append(u.calls, CallRecord{Target: target, Options: opts})
	if u.CallErr != nil {
		err := u.CallErr
		u.mu.Unlock()
		return nil, err
	}
	emit := u.EmitOnCall
	u.mu.Unlock()

	s := NewSession()
	u.setLast(s)
	if emit {
		u.handler(engine.NewSession{
			Originator: engine.OriginatorLocal,
			Session:    s,
			Request:    engine.Request{From: u.cfg.URI, To: target, CallID: s.ID()},
		})
	}
	return s, nil
}

func (u *UA) Calls() []CallRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]CallRecord(nil), u.calls...)
}

func (u *UA) TerminateSessions(ctx context.Context, opts engine.TerminateOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.terminateAll = append(u.terminateAll, opts)
	return nil
}

func (u *UA) TerminateAllCalls() []engine.TerminateOptions {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]engine.TerminateOptions(nil), u.terminateAll...)
}

func (u *UA) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

// DTMFCall запись внеполосной отправки DTMF
type DTMFCall struct {
	Tones   string
	Options engine.DTMFOptions
}

// Session фиктивная сессия. По умолчанию у соединения два отправителя:
// первый без DTMF, второй с DTMF.
type Session struct {
	id string

	mu          sync.Mutex
	hold        engine.HoldStatus
	muted       engine.MediaFlags
	answers     []engine.AnswerOptions
	terminates  []engine.TerminateOptions
	holds       []engine.HoldOptions
	unholds     []engine.HoldOptions
	dtmf        []DTMFCall
	renegotiate []engine.RenegotiateOptions
	conn        *PeerConnection

	HoldErr   error
	UnholdErr error
	MuteErr   error
}

func NewSession() *Session {
	return &Session{
		id: uuid.NewString(),
		conn: NewPeerConnection(
			NewSender(nil, false),
			NewSender(nil, true),
		),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Answer(ctx context.Context, opts engine.AnswerOptions) error {
	s.mu.Lock()
	s.answers = append(s.answers, opts)
	s.mu.Unlock()
	return nil
}

func (s *Session) Answers() []engine.AnswerOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.AnswerOptions(nil), s.answers...)
}

func (s *Session) Terminate(ctx context.Context, opts engine.TerminateOptions) error {
	s.mu.Lock()
	s.terminates = append(s.terminates, opts)
	s.mu.Unlock()
	return nil
}

func (s *Session) Terminates() []engine.TerminateOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.TerminateOptions(nil), s.terminates...)
}

func (s *Session) Hold(ctx context.Context, opts engine.HoldOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds = append(s.holds, opts)
	if s.HoldErr != nil {
		return s.HoldErr
	}
	s.hold.Local = true
	return nil
}

func (s *Session) Unhold(ctx context.Context, opts engine.HoldOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unholds = append(s.unholds, opts)
	if s.UnholdErr != nil {
		return s.UnholdErr
	}
	s.hold.Local = false
	return nil
}

func (s *Session) Holds() []engine.HoldOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.HoldOptions(nil), s.holds...)
}

func (s *Session) Unholds() []engine.HoldOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.HoldOptions(nil), s.unholds...)
}

// SetHoldStatus меняет состояние удержания без команды
func (s *Session) SetHoldStatus(h engine.HoldStatus) {
	s.mu.Lock()
	s.hold = h
	s.mu.Unlock()
}

func (s *Session) IsOnHold() engine.HoldStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

func (s *Session) Mute(flags engine.MediaFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MuteErr != nil {
		return s.MuteErr
	}
	s.muted.Audio = s.muted.Audio || flags.Audio
	s.muted.Video = s.muted.Video || flags.Video
	return nil
}

func (s *Session) Unmute(flags engine.MediaFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MuteErr != nil {
		return s.MuteErr
	}
	if flags.Audio {
		s.muted.Audio = false
	}
	if flags.Video {
		s.muted.Video = false
	}
	return nil
}

// SetMuted меняет состояние mute без команды
func (s *Session) SetMuted(m engine.MediaFlags) {
	s.mu.Lock()
	s.muted = m
	s.mu.Unlock()
}

func (s *Session) IsMuted() engine.MediaFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) SendDTMF(ctx context.Context, tones string, opts engine.DTMFOptions) error {
	s.mu.Lock()
	s.dtmf = append(s.dtmf, DTMFCall{Tones: tones, Options: opts})
	s.mu.Unlock()
	return nil
}

func (s *Session) DTMFCalls() []DTMFCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DTMFCall(nil), s.dtmf...)
}

func (s *Session) Renegotiate(ctx context.Context, opts engine.RenegotiateOptions) error {
	s.mu.Lock()
	s.renegotiate = append(s.renegotiate, opts)
	s.mu.Unlock()
	return nil
}

func (s *Session) Renegotiations() []engine.RenegotiateOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.RenegotiateOptions(nil), s.renegotiate...)
}

// SetConnection заменяет медиа соединение, nil означает отсутствие медиа
func (s *Session) SetConnection(pc *PeerConnection) {
	s.mu.Lock()
	s.conn = pc
	s.mu.Unlock()
}

func (s *Session) Connection() engine.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn
}

// PC медиа соединение с конкретным типом
func (s *Session) PC() *PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// PeerConnection фиктивное медиа соединение
type PeerConnection struct {
	senders []*Sender
}

func NewPeerConnection(senders ...*Sender) *PeerConnection {
	return &PeerConnection{senders: senders}
}

func (pc *PeerConnection) Senders() []engine.Sender {
	out := make([]engine.Sender, 0, len(pc.senders))
	for _, s := range pc.senders {
		out = append(out, s)
	}
	return out
}

// MockSenders отправители с конкретным типом
func (pc *PeerConnection) MockSenders() []*Sender { return pc.senders }

// Sender фиктивный отправитель. Если трек не задан, создается трек тишины.
type Sender struct {
	mu       sync.Mutex
	track    media.Track
	dtmf     *DTMFSender
	replaced []media.Track

	ReplaceErr error
}

func NewSender(track media.Track, withDTMF bool) *Sender {
	if track == nil {
		track = media.NewLocalTrack(media.TrackKindAudio, media.DefaultDeviceID, media.SilenceFrame, 0)
	}
	s := &Sender{track: track}
	if withDTMF {
		s.dtmf = &DTMFSender{}
	}
	return s
}

func (s *Sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(ctx context.Context, track media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}
	s.replaced = append(s.replaced, track)
	s.track = track
	return nil
}

// Replaced треки, переданные в ReplaceTrack
func (s *Sender) Replaced() []media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Track(nil), s.replaced...)
}

func (s *Sender) DTMF() engine.DTMFSender {
	if s.dtmf == nil {
		return nil
	}
	return s.dtmf
}

// MockDTMF DTMF отправитель с конкретным типом
func (s *Sender) MockDTMF() *DTMFSender { return s.dtmf }

// InsertCall запись вызова InsertDTMF
type InsertCall struct {
	Tones    string
	Duration time.Duration
	Gap      time.Duration
}

// DTMFSender фиктивный DTMF отправитель
type DTMFSender struct {
	mu    sync.Mutex
	calls []InsertCall
}

func (d *DTMFSender) InsertDTMF(tones string, duration, gap time.Duration) error {
	if err := media.ValidateTones(tones); err != nil {
		return fmt.Errorf("insertDTMF: %w", err)
	}
	d.mu.Lock()
	d.calls = append(d.calls, InsertCall{Tones: tones, Duration: duration, Gap: gap})
	d.mu.Unlock()
	return nil
}

func (d *DTMFSender) Calls() []InsertCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]InsertCall(nil), d.calls...)
}
