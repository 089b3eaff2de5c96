package provider

import (
	"context"
	"errors"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
)

// busyStatusCode ответ на сессию при уже занятой линии
const (
	busyStatusCode   = 486
	busyReasonPhrase = "Busy Here"
)

// handlerFor обработчик событий движка поколения gen
func (p *Provider) handlerFor(gen uint64) engine.Handler {
	return func(ev engine.Event) {
		p.dispatch(gen, ev)
	}
}

// dispatch применяет событие к машинам состояний. Побочные эффекты
// (команды движку, привязка устройств) выполняются после снятия
// блокировки.
func (p *Provider) dispatch(gen uint64, ev engine.Event) {
	ctx := context.Background()
	name := ev.EventName()

	p.mu.Lock()
	if gen != p.gen || p.closed {
		p.mu.Unlock()
		p.metrics.staleEvent(name)
		p.log.Debug(ctx, "событие устаревшего агента проигнорировано",
			logger.String("event", name), logger.Uint64("generation", gen))
		return
	}
	if se, ok := ev.(engine.SessionEvent); ok && !p.isCurrentSessionLocked(se.EventSession()) {
		p.mu.Unlock()
		p.log.Debug(ctx, "событие не текущей сессии проигнорировано", logger.String("event", name))
		return
	}
	p.metrics.engineEvent(name)

	var actions []action
	var err error
	switch e := ev.(type) {
	case engine.Connecting:
		err = p.reg.connecting()
	case engine.Connected:
		err = p.reg.connected()
	case engine.Disconnected:
		msg := e.Cause
		if msg == "" {
			msg = "disconnected"
		}
		err = p.reg.fail(KindConnection, msg)
	case engine.Registered:
		err = p.reg.registered()
		if p.canResetCallLocked() {
			err = errors.Join(err, p.call.reset("registered", false))
		}
	case engine.Unregistered:
		connected := p.ua != nil && p.ua.IsConnected()
		err = p.reg.unregistered(connected)
		if p.canResetCallLocked() {
			err = errors.Join(err, p.call.reset("unregistered", false))
		}
	case engine.RegistrationFailed:
		msg := e.Cause
		if msg == "" {
			msg = e.ReasonPhrase
		}
		err = p.reg.fail(KindRegistration, msg)
	case engine.NewSession:
		actions = p.onNewSessionLocked(ctx, gen, e)
	case engine.SessionFailed:
		actions = p.onSessionGoneLocked(ctx, e.Session, "failed", e.Cause, false)
	case engine.SessionEnded:
		actions = p.onSessionGoneLocked(ctx, e.Session, "ended", e.Cause, true)
	case engine.SessionAccepted:
		actions = p.onAcceptedLocked(ctx, gen, e.Session)
	case engine.SessionUnhold:
		p.log.Debug(ctx, "сессия снята с удержания", logger.String("originator", string(e.Originator)))
	case engine.TrackAdded:
		track := e.Track
		actions = append(actions, func() { p.binder.attachRemote(ctx, track) })
	case engine.Unknown:
		p.log.Debug(ctx, "необрабатываемое событие движка", logger.String("event", name))
	default:
		p.log.Warn(ctx, "неизвестный тип события движка", logger.String("event", name))
	}
	if err != nil {
		p.log.Error(ctx, "ошибка перехода состояния", logger.String("event", name), logger.Err(err))
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap)
	for _, a := range actions {
		a()
	}
}

func (p *Provider) onNewSessionLocked(ctx context.Context, gen uint64, e engine.NewSession) []action {
	s := e.Session
	if s == nil {
		p.log.Warn(ctx, "newSession без сессии")
		return nil
	}

	if held := p.call.session; held != nil {
		if held.ID() == s.ID() {
			return nil
		}
		p.metrics.busyRejection()
		p.log.Info(ctx, "линия занята, новая сессия отклонена с 486",
			logger.String("session_id", s.ID()),
			logger.String("originator", string(e.Originator)))
		return []action{func() {
			err := s.Terminate(ctx, engine.TerminateOptions{StatusCode: busyStatusCode, ReasonPhrase: busyReasonPhrase})
			if err != nil {
				p.log.Warn(ctx, "не удалось отклонить сессию", logger.Err(err))
			}
		}}
	}

	var (
		dir         CallDirection
		counterpart string
	)
	switch e.Originator {
	case engine.OriginatorLocal:
		dir, counterpart = DirectionOutgoing, counterpartOf(e.Request.To)
	case engine.OriginatorRemote:
		dir, counterpart = DirectionIncoming, counterpartOf(e.Request.From)
	default:
		p.log.Warn(ctx, "ожидался инициатор local или remote", logger.String("originator", string(e.Originator)))
		return nil
	}

	log := p.log.WithFields(logger.String("session_id", s.ID()), logger.String("counterpart", counterpart))

	if p.call.status() == CallStopping {
		// stopCall пришел раньше, чем движок сообщил о сессии
		p.call.session, p.call.direction, p.call.counterpart = s, dir, counterpart
		p.metrics.sessionHeld(true)
		log.Info(ctx, "сессия появилась во время остановки, завершается")
		return []action{func() {
			if err := s.Terminate(ctx, engine.TerminateOptions{}); err != nil {
				log.Warn(ctx, "не удалось завершить сессию", logger.Err(err))
			}
		}}
	}

	if err := p.call.begin(s, dir, counterpart); err != nil {
		log.Error(ctx, "не удалось начать вызов", logger.Err(err))
		return nil
	}
	p.metrics.sessionHeld(true)

	if dir == DirectionOutgoing {
		log.Info(ctx, "исходящий вызов")
		return nil
	}

	actions := []action{p.binder.startRinging}
	if p.cfg.AutoAnswer {
		log.Info(ctx, "автоответ включен")
		actions = append(actions, func() {
			if !p.isCurrent(gen, s) {
				return
			}
			if err := p.AnswerCall(ctx, nil); err != nil {
				log.Warn(ctx, "автоответ не удался", logger.Err(err))
			}
		})
	} else {
		log.Info(ctx, "входящий вызов, автоответ выключен")
	}
	return actions
}

// onSessionGoneLocked обрабатывает failed и ended текущей сессии
func (p *Provider) onSessionGoneLocked(ctx context.Context, s engine.Session, event, cause string, clearHold bool) []action {
	acceptedAt := p.call.acceptedAt
	if err := p.call.reset(event, clearHold); err != nil {
		p.log.Error(ctx, "сброс вызова", logger.Err(err))
	}
	p.metrics.sessionHeld(false)
	p.metrics.callEnded(acceptedAt)
	p.log.Info(ctx, "сессия завершена",
		logger.String("event", event),
		logger.String("cause", cause),
		logger.String("session_id", s.ID()))

	return []action{
		p.binder.stopRinging,
		func() { releaseSenders(s) },
	}
}

func (p *Provider) onAcceptedLocked(ctx context.Context, gen uint64, s engine.Session) []action {
	dtmf := firstDTMFSender(s)
	if dtmf == nil {
		p.log.Warn(ctx, "у сессии нет отправителя с поддержкой DTMF")
	}
	if err := p.call.accept(dtmf); err != nil {
		p.log.Error(ctx, "переход в active", logger.Err(err))
	}

	actions := []action{p.binder.stopRinging}
	if id := p.cfg.InboundAudioDeviceID; id != "" {
		p.log.Debug(ctx, "вызов принят, привязка устройства ввода", logger.String("device_id", id))
		actions = append(actions, func() {
			_ = p.binder.bindInbound(ctx, s, id, func() bool { return p.isCurrent(gen, s) })
		})
	}
	return actions
}

// canResetCallLocked можно ли сбросить вызов в Idle по событию
// регистрации: нет сессии и нет набора номера в процессе
func (p *Provider) canResetCallLocked() bool {
	return p.call.session == nil && p.call.status() != CallStarting
}
