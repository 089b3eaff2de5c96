package provider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
)

// Значения DTMF по умолчанию
const (
	DefaultDTMFDuration     = 100 * time.Millisecond
	DefaultDTMFInterToneGap = 70 * time.Millisecond
)

func (p *Provider) reject(ctx context.Context, err *Error) error {
	p.metrics.rejected(err.Op, err)
	p.log.Warn(ctx, "команда отклонена", err.LogFields()...)
	return err
}

// update выполняет fn, если сессия s поколения gen все еще текущая
func (p *Provider) update(gen uint64, s engine.Session, fn func()) bool {
	p.mu.Lock()
	if gen != p.gen || p.closed || !p.isCurrentSessionLocked(s) {
		p.mu.Unlock()
		return false
	}
	fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
	return true
}

// RegisterSip ручная регистрация. Разрешена только при autoRegister=false
// и состоянии connected.
func (p *Provider) RegisterSip(ctx context.Context) error {
	const op = "registerSip"
	p.mu.Lock()
	ua, autoRegister, status := p.ua, p.cfg.AutoRegister, p.reg.status()
	p.mu.Unlock()

	if ua == nil {
		return p.reject(ctx, errNotInitialized(op))
	}
	if autoRegister {
		return p.reject(ctx, errInvalidState(op, "registerSip недоступен при autoRegister", "autoRegister=false", "autoRegister=true"))
	}
	if status != RegistrationConnected {
		return p.reject(ctx, errInvalidState(op, "регистрация недоступна", string(RegistrationConnected), string(status)))
	}
	if err := ua.Register(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UnregisterSip ручная отмена регистрации. Разрешена только при
// autoRegister=false и состоянии registered.
func (p *Provider) UnregisterSip(ctx context.Context, opts engine.UnregisterOptions) error {
	const op = "unregisterSip"
	p.mu.Lock()
	ua, autoRegister, status := p.ua, p.cfg.AutoRegister, p.reg.status()
	p.mu.Unlock()

	if ua == nil {
		return p.reject(ctx, errNotInitialized(op))
	}
	if autoRegister {
		return p.reject(ctx, errInvalidState(op, "unregisterSip недоступен при autoRegister", "autoRegister=false", "autoRegister=true"))
	}
	if status != RegistrationRegistered {
		return p.reject(ctx, errInvalidState(op, "отмена регистрации недоступна", string(RegistrationRegistered), string(status)))
	}
	if err := ua.Unregister(ctx, opts); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Provider) AnswerCall(ctx context.Context, opts *engine.AnswerOptions) error {
	const op = "answerCall"
	p.mu.Lock()
	status, dir, s := p.call.status(), p.call.direction, p.call.session
	answer := engine.AnswerOptions{
		MediaConstraints:     engine.MediaConstraints{Audio: true},
		PCConfig:             engine.PeerConnectionConfig{ICEServers: slices.Clone(p.cfg.ICEServers)},
		SessionTimersExpires: p.cfg.SessionTimersExpires,
	}
	p.mu.Unlock()

	if status != CallStarting || dir != DirectionIncoming {
		return p.reject(ctx, errInvalidState(op, "ответ на вызов недоступен",
			string(CallStarting)+"/"+string(DirectionIncoming),
			string(status)+"/"+string(dir)))
	}
	if s == nil {
		return p.reject(ctx, errNoActiveSession(op))
	}
	if opts != nil {
		mergeAnswerOptions(&answer, *opts)
	}
	if err := s.Answer(ctx, answer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// mergeAnswerOptions переносит заданные поля from поверх значений по
// умолчанию
func mergeAnswerOptions(dst *engine.AnswerOptions, from engine.AnswerOptions) {
	if from.ExtraHeaders != nil {
		dst.ExtraHeaders = from.ExtraHeaders
	}
	if from.MediaConstraints != (engine.MediaConstraints{}) {
		dst.MediaConstraints = from.MediaConstraints
	}
	if from.PCConfig.ICEServers != nil {
		dst.PCConfig = from.PCConfig
	}
	if from.SessionTimersExpires != 0 {
		dst.SessionTimersExpires = from.SessionTimersExpires
	}
}

func (p *Provider) StartCall(ctx context.Context, destination string, anonymous bool) error {
	const op = "startCall"
	destination = strings.TrimSpace(destination)

	p.mu.Lock()
	ua, reg, status := p.ua, p.reg.status(), p.call.status()
	if ua == nil {
		p.mu.Unlock()
		return p.reject(ctx, errNotInitialized(op))
	}
	if reg != RegistrationConnected && reg != RegistrationRegistered {
		p.mu.Unlock()
		return p.reject(ctx, errInvalidState(op, "вызов недоступен",
			string(RegistrationConnected)+" или "+string(RegistrationRegistered), string(reg)))
	}
	if status != CallIdle {
		p.mu.Unlock()
		return p.reject(ctx, errInvalidState(op, "вызов недоступен", string(CallIdle), string(status)))
	}
	if destination == "" {
		p.mu.Unlock()
		return p.reject(ctx, errInvalidArgument(op, "не задан адрес вызова"))
	}

	if _, err := fire(p.call.fsm, callEvStart, "dial "+destination); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	p.call.direction = DirectionOutgoing
	p.call.counterpart = counterpartOf(destination)
	gen := p.gen
	opts := engine.CallOptions{
		ExtraHeaders:         slices.Clone(p.cfg.ExtraHeaders.Invite),
		MediaConstraints:     engine.MediaConstraints{Audio: true},
		OfferConstraints:     engine.OfferConstraints{ICERestart: p.cfg.ICERestart},
		PCConfig:             engine.PeerConnectionConfig{ICEServers: slices.Clone(p.cfg.ICEServers)},
		SessionTimersExpires: p.cfg.SessionTimersExpires,
		Anonymous:            anonymous,
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)

	p.log.Info(ctx, "исходящий вызов", logger.String("destination", destination), logger.Bool("anonymous", anonymous))
	if _, err := ua.Call(ctx, destination, opts); err != nil {
		p.mu.Lock()
		if gen == p.gen && p.call.session == nil {
			if st := p.call.status(); st == CallStarting || st == CallStopping {
				_ = p.call.reset("dial failed", false)
			}
		}
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.notify(snap)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// StopCall завершает вызов. Входящий вызов отклоняется с 486 Busy Here,
// иначе движку передается команда завершить все сессии.
func (p *Provider) StopCall(ctx context.Context, opts engine.TerminateOptions) error {
	const op = "stopCall"
	p.mu.Lock()
	ua, status := p.ua, p.call.status()
	if ua == nil {
		p.mu.Unlock()
		return p.reject(ctx, errNotInitialized(op))
	}
	if status == CallIdle {
		p.mu.Unlock()
		return p.reject(ctx, errInvalidState(op, "нет вызова для завершения",
			string(CallStarting)+", "+string(CallActive)+" или "+string(CallStopping), string(status)))
	}
	if _, err := fire(p.call.fsm, callEvStop, op); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	s, dir := p.call.session, p.call.direction
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)

	if s != nil && dir == DirectionIncoming {
		err := s.Terminate(ctx, engine.TerminateOptions{
			StatusCode:   busyStatusCode,
			ReasonPhrase: busyReasonPhrase,
			ExtraHeaders: opts.ExtraHeaders,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if err := ua.TerminateSessions(ctx, opts); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Provider) SendDTMF(ctx context.Context, tones string, duration, interToneGap time.Duration) error {
	const op = "sendDTMF"
	p.mu.Lock()
	status, s, sender, transport := p.call.status(), p.call.session, p.call.dtmfSender, p.cfg.DTMFTransportType
	p.mu.Unlock()

	if status != CallActive || s == nil {
		p.log.Warn(ctx, "отправка DTMF без активного вызова", logger.String("call_status", string(status)))
		return nil
	}
	if err := media.ValidateTones(tones); err != nil {
		return p.reject(ctx, &Error{Kind: KindInvalidArgument, Op: op, Message: "некорректные тоны", Cause: err})
	}
	if duration == 0 {
		duration = DefaultDTMFDuration
	}
	if interToneGap == 0 {
		interToneGap = DefaultDTMFInterToneGap
	}

	switch transport {
	case engine.DTMFTransportRFC4733:
		if sender == nil {
			p.log.Warn(ctx, "у вызова нет DTMF отправителя")
			return nil
		}
		if err := sender.InsertDTMF(tones, duration, interToneGap); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	case engine.DTMFTransportINFO, engine.DTMFTransportRFC2833:
		err := s.SendDTMF(ctx, tones, engine.DTMFOptions{
			Duration:      duration,
			InterToneGap:  interToneGap,
			TransportType: transport,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	default:
		p.log.Warn(ctx, "неподдерживаемый способ передачи DTMF", logger.String("transport", string(transport)))
	}
	return nil
}

// holdTarget сессия, поколение и заголовки для hold/unhold
func (p *Provider) holdTarget() (engine.Session, uint64, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.call.session, p.gen, slices.Clone(p.cfg.ExtraHeaders.Hold)
}

func (p *Provider) Hold(ctx context.Context, useUpdate bool) error {
	s, gen, headers := p.holdTarget()
	if s == nil {
		p.log.Warn(ctx, "hold: нет активной сессии")
		return nil
	}
	return p.hold(ctx, gen, s, useUpdate, headers)
}

func (p *Provider) hold(ctx context.Context, gen uint64, s engine.Session, useUpdate bool, headers []string) error {
	if s.IsOnHold().Local {
		return nil
	}
	if err := s.Hold(ctx, engine.HoldOptions{UseUpdate: useUpdate, ExtraHeaders: headers}); err != nil {
		return fmt.Errorf("hold: %w", err)
	}
	p.update(gen, s, func() { p.call.onHold = true })
	return nil
}

// Unhold снимает удержание, затем включает микрофон и восстанавливает
// громкость удаленного звука
func (p *Provider) Unhold(ctx context.Context, useUpdate bool) error {
	s, gen, headers := p.holdTarget()
	if s == nil {
		p.log.Warn(ctx, "unhold: нет активной сессии")
		return nil
	}
	return p.unhold(ctx, gen, s, useUpdate, headers)
}

func (p *Provider) unhold(ctx context.Context, gen uint64, s engine.Session, useUpdate bool, headers []string) error {
	if s.IsOnHold().Local {
		if err := s.Unhold(ctx, engine.HoldOptions{UseUpdate: useUpdate, ExtraHeaders: headers}); err != nil {
			return fmt.Errorf("unhold: %w", err)
		}
		p.update(gen, s, func() { p.call.onHold = false })
	}
	if err := p.UnmuteMicrophone(ctx); err != nil {
		p.log.Warn(ctx, "unhold: не удалось включить микрофон", logger.Err(err))
	}
	p.binder.restoreRemoteAudio()
	return nil
}

// ToggleHold выбирает hold или unhold по состоянию, которое сообщает
// сессия, а не по сохраненному флагу
func (p *Provider) ToggleHold(ctx context.Context, useUpdate bool) error {
	s, gen, headers := p.holdTarget()
	if s == nil {
		p.log.Warn(ctx, "toggleHold: нет активной сессии")
		return nil
	}
	if s.IsOnHold().Local {
		return p.unhold(ctx, gen, s, useUpdate, headers)
	}
	return p.hold(ctx, gen, s, useUpdate, headers)
}

func (p *Provider) MuteMicrophone(ctx context.Context) error {
	p.mu.Lock()
	s, gen, muted := p.call.session, p.gen, p.call.muted
	p.mu.Unlock()
	if s == nil {
		p.log.Warn(ctx, "mute: нет активной сессии")
		return nil
	}
	if muted {
		return nil
	}
	if err := s.Mute(engine.MediaFlags{Audio: true}); err != nil {
		return fmt.Errorf("mute: %w", err)
	}
	p.update(gen, s, func() { p.call.muted = true })
	return nil
}

func (p *Provider) UnmuteMicrophone(ctx context.Context) error {
	p.mu.Lock()
	s, gen, muted := p.call.session, p.gen, p.call.muted
	p.mu.Unlock()
	if s == nil {
		p.log.Warn(ctx, "unmute: нет активной сессии")
		return nil
	}
	if !muted {
		return nil
	}
	if err := s.Unmute(engine.MediaFlags{Audio: true}); err != nil {
		return fmt.Errorf("unmute: %w", err)
	}
	p.update(gen, s, func() { p.call.muted = false })
	return nil
}

// ToggleMuteMicrophone решает по сохраненному флагу
func (p *Provider) ToggleMuteMicrophone(ctx context.Context) error {
	p.mu.Lock()
	muted := p.call.muted
	p.mu.Unlock()
	if muted {
		return p.UnmuteMicrophone(ctx)
	}
	return p.MuteMicrophone(ctx)
}

func (p *Provider) Renegotiate(ctx context.Context, opts engine.RenegotiateOptions) error {
	p.mu.Lock()
	s := p.call.session
	p.mu.Unlock()
	if s == nil {
		p.log.Warn(ctx, "renegotiate: нет активной сессии")
		return nil
	}
	if err := s.Renegotiate(ctx, opts); err != nil {
		return fmt.Errorf("renegotiate: %w", err)
	}
	return nil
}

// SetAudioOutputDevice выбирает устройство вывода. Неизвестное устройство
// заменяется на default, ошибки привязки только логируются.
func (p *Provider) SetAudioOutputDevice(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.cfg.OutboundAudioDeviceID = id
	p.mu.Unlock()

	_ = p.binder.bindOutput(ctx, id)
	p.notify(p.Snapshot())
	return nil
}

func (p *Provider) AudioOutputDeviceID() string {
	return p.binder.sinkID()
}
