// Package provider управляет одной SIP линией: регистрацией и не более
// чем одним вызовом одновременно.
//
// Provider принимает события движка сессий (engine.Event), ведет две
// связанные машины состояний (регистрация и вызов), привязывает аудио
// устройства к активной сессии и проверяет предусловия команд, прежде
// чем передать их движку.
//
// Пример использования:
//
//	factory, err := sip_engine.NewFactory(engineCfg, log)
//	if err != nil {
//		return err
//	}
//	p, err := provider.New(provider.Options{
//		Factory: factory,
//		Logger:  log,
//	})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	cfg := provider.DefaultConfig()
//	cfg.Host, cfg.Port, cfg.User = "sip.example.com", 5061, "alice"
//	p.Configure(ctx, cfg)
//
//	if err := p.StartCall(ctx, "bob", false); errors.Is(err, provider.ErrInvalidState) {
//		// линия еще не подключена или занята
//	}
//
// Каждый экземпляр движка получает номер поколения. События от
// экземпляра, замененного при переконфигурации, игнорируются.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
)

// Options зависимости провайдера. Обязательна только Factory.
type Options struct {
	Factory   engine.Factory
	Directory media.DeviceDirectory
	Sink      media.AudioSink
	Capturer  media.Capturer
	Tones     media.TonePlayer
	Logger    logger.StructuredLogger
	Metrics   *Metrics
	// OnStateChange получает снимок после каждого изменения состояния.
	// Вызывается вне блокировок провайдера.
	OnStateChange func(Snapshot)
}

// Snapshot наблюдаемое состояние линии
type Snapshot struct {
	Generation uint64

	Registration RegistrationStatus
	ErrorKind    ErrorKind
	ErrorMessage string

	Call            CallStatus
	Direction       CallDirection
	Counterpart     string
	OnHold          bool
	MicrophoneMuted bool
	DTMFBound       bool
	SessionID       string

	AudioOutputDeviceID string
}

// action побочный эффект, выполняемый после снятия блокировки
type action func()

// Provider реализует Gateway
type Provider struct {
	factory       engine.Factory
	binder        *deviceBinder
	log           logger.StructuredLogger
	metrics       *Metrics
	onStateChange func(Snapshot)

	// reinitMu упорядочивает Configure, Reinitialize и Close
	reinitMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	configured bool
	closed     bool
	gen        uint64
	ua         engine.UA
	reg        *registrationMachine
	call       *callMachine
}

var _ Gateway = (*Provider)(nil)

// New создает провайдер. Агент создается при первом Configure.
func New(opts Options) (*Provider, error) {
	if opts.Factory == nil {
		return nil, errors.New("provider: не задана фабрика движка")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Directory == nil {
		opts.Directory = media.NewStaticDirectory()
	}
	if opts.Sink == nil {
		opts.Sink = media.NewMemorySink(nil)
	}
	if opts.Capturer == nil {
		opts.Capturer = &media.SilenceCapturer{Directory: opts.Directory}
	}
	if opts.Tones == nil {
		opts.Tones = nopTones{}
	}

	log := opts.Logger.WithComponent("provider")
	p := &Provider{
		factory:       opts.Factory,
		log:           log,
		metrics:       opts.Metrics,
		onStateChange: opts.OnStateChange,
		cfg:           DefaultConfig(),
		binder: &deviceBinder{
			directory: opts.Directory,
			sink:      opts.Sink,
			capturer:  opts.Capturer,
			tones:     opts.Tones,
			log:       opts.Logger.WithComponent("devices"),
			metrics:   opts.Metrics,
		},
	}
	p.reg = newRegistrationMachine(p.recordTransition)
	p.call = newCallMachine(p.recordTransition)
	return p, nil
}

func (p *Provider) recordTransition(t Transition) {
	p.metrics.recordTransition(t)
	p.log.Debug(context.Background(), "переход состояния",
		logger.String("machine", t.Machine),
		logger.String("from", t.From),
		logger.String("to", t.To),
		logger.String("event", t.Event))
}

// Configure применяет конфигурацию. Агент пересоздается при первом вызове
// и при изменении параметров подключения или устройств. Ошибки
// конфигурации отражаются в состоянии регистрации, а не возвращаются.
func (p *Provider) Configure(ctx context.Context, cfg Config) error {
	p.reinitMu.Lock()
	defer p.reinitMu.Unlock()

	cfg.applyDefaults()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	needsReinit := !p.configured || p.cfg.NeedsReinit(cfg)
	p.cfg = cfg.clone()
	p.configured = true
	p.mu.Unlock()

	if !needsReinit {
		p.log.Debug(ctx, "конфигурация обновлена без пересоздания агента")
		return nil
	}
	return p.reinitializeLocked(ctx)
}

// Reinitialize останавливает текущий агент и создает новый с текущей
// конфигурацией
func (p *Provider) Reinitialize(ctx context.Context) error {
	p.reinitMu.Lock()
	defer p.reinitMu.Unlock()
	return p.reinitializeLocked(ctx)
}

// reinitializeLocked требует удержания reinitMu
func (p *Provider) reinitializeLocked(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	oldUA, oldSession := p.teardownLocked("reinitialize")
	gen := p.gen
	cfg := p.cfg.clone()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
	p.metrics.reinitialized()

	p.release(oldUA, oldSession)

	log := p.log.WithFields(logger.Uint64("generation", gen))

	if err := cfg.Validate(); err != nil {
		log.Warn(ctx, "некорректная конфигурация", logger.Err(err))
		p.failRegistration(gen, KindConfiguration, err.Error())
		return nil
	}
	if !cfg.Complete() {
		log.Debug(ctx, "host, port или user не заданы, линия отключена")
		return nil
	}

	// ошибка привязки не прерывает инициализацию
	_ = p.binder.bindOutput(ctx, cfg.OutboundAudioDeviceID)

	ua, err := p.factory.NewUA(engine.UAConfig{
		URI:       cfg.URI(),
		Password:  cfg.Password,
		SocketURL: cfg.SocketURL(),
		Register:  cfg.AutoRegister,
	}, p.handlerFor(gen))
	if err != nil {
		log.Warn(ctx, "не удалось создать SIP агент", logger.Err(err))
		p.failRegistration(gen, KindConfiguration, err.Error())
		return nil
	}
	if len(cfg.ExtraHeaders.Register) > 0 {
		ua.SetRegisterExtraHeaders(cfg.ExtraHeaders.Register)
	}

	p.mu.Lock()
	if gen != p.gen || p.closed {
		p.mu.Unlock()
		_ = ua.Stop()
		return nil
	}
	p.ua = ua
	p.mu.Unlock()

	log.Info(ctx, "SIP агент создан",
		logger.String("uri", cfg.URI()),
		logger.String("socket", cfg.SocketURL()),
		logger.Bool("auto_register", cfg.AutoRegister))

	if err := ua.Start(ctx); err != nil {
		log.Warn(ctx, "не удалось запустить SIP агент", logger.Err(err))
		p.failRegistration(gen, KindConnection, err.Error())
	}
	return nil
}

// teardownLocked отвязывает текущий агент и сессию, сбрасывает обе
// машины и увеличивает поколение. Возвращает то, что нужно освободить
// вне блокировки.
func (p *Provider) teardownLocked(reason string) (engine.UA, engine.Session) {
	oldUA, oldSession := p.ua, p.call.session
	p.gen++
	p.ua = nil
	if err := p.reg.reset(reason); err != nil {
		p.log.Error(context.Background(), "сброс регистрации", logger.Err(err))
	}
	acceptedAt := p.call.acceptedAt
	if err := p.call.reset(reason, true); err != nil {
		p.log.Error(context.Background(), "сброс вызова", logger.Err(err))
	}
	if oldSession != nil {
		p.metrics.sessionHeld(false)
		p.metrics.callEnded(acceptedAt)
	}
	return oldUA, oldSession
}

func (p *Provider) release(ua engine.UA, s engine.Session) {
	if s != nil {
		p.binder.stopRinging()
		releaseSenders(s)
	}
	if ua != nil {
		if err := ua.Stop(); err != nil {
			p.log.Warn(context.Background(), "ошибка остановки SIP агента", logger.Err(err))
		}
	}
}

func (p *Provider) failRegistration(gen uint64, kind ErrorKind, message string) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if err := p.reg.fail(kind, message); err != nil {
		p.log.Error(context.Background(), "переход в error", logger.Err(err))
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
}

// Close останавливает агент и освобождает сессию. События, пришедшие
// после Close, игнорируются.
func (p *Provider) Close() error {
	p.reinitMu.Lock()
	defer p.reinitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	oldUA, oldSession := p.teardownLocked("close")
	p.closed = true
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.release(oldUA, oldSession)
	p.binder.sink.Stop()
	p.notify(snap)
	return nil
}

// Snapshot возвращает копию текущего состояния
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Provider) snapshotLocked() Snapshot {
	s := Snapshot{
		Generation:          p.gen,
		Registration:        p.reg.status(),
		ErrorKind:           p.reg.errKind,
		ErrorMessage:        p.reg.errMessage,
		Call:                p.call.status(),
		Direction:           p.call.direction,
		Counterpart:         p.call.counterpart,
		OnHold:              p.call.onHold,
		MicrophoneMuted:     p.call.muted,
		DTMFBound:           p.call.dtmfSender != nil,
		AudioOutputDeviceID: p.binder.sinkID(),
	}
	if p.call.session != nil {
		s.SessionID = p.call.session.ID()
	}
	return s
}

func (p *Provider) notify(s Snapshot) {
	if p.onStateChange != nil {
		p.onStateChange(s)
	}
}

// History переходы обеих машин, сначала регистрация
func (p *Provider) History() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(p.reg.history.snapshot(), p.call.history.snapshot()...)
}

// Config текущая конфигурация
func (p *Provider) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.clone()
}

// isCurrentSessionLocked держит ли провайдер именно эту сессию
func (p *Provider) isCurrentSessionLocked(s engine.Session) bool {
	return s != nil && p.call.session != nil && p.call.session.ID() == s.ID()
}

func (p *Provider) isCurrent(gen uint64, s engine.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen && !p.closed && p.isCurrentSessionLocked(s)
}

func (p *Provider) String() string {
	s := p.Snapshot()
	return fmt.Sprintf("Provider{gen: %d, registration: %s, call: %s}", s.Generation, s.Registration, s.Call)
}
