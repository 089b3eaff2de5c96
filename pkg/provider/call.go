package provider

import (
	"strings"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sip_provider/pkg/engine"
)

// CallStatus состояние вызова
type CallStatus string

const (
	CallIdle     CallStatus = "idle"
	CallStarting CallStatus = "starting"
	CallActive   CallStatus = "active"
	CallStopping CallStatus = "stopping"
)

func (s CallStatus) String() string { return string(s) }

// CallDirection направление вызова
type CallDirection string

const (
	DirectionNone     CallDirection = ""
	DirectionIncoming CallDirection = "incoming"
	DirectionOutgoing CallDirection = "outgoing"
)

// События машины вызова
const (
	callEvStart  = "start"
	callEvAccept = "accept"
	callEvStop   = "stop"
	callEvReset  = "reset"
)

// callMachine машина состояний вызова и атрибуты текущего вызова.
// Держит единственную ссылку на активную сессию движка.
type callMachine struct {
	fsm     *fsm.FSM
	history *history

	direction   CallDirection
	counterpart string
	onHold      bool
	muted       bool
	dtmfSender  engine.DTMFSender
	session     engine.Session
	acceptedAt  time.Time
}

func newCallMachine(notify func(Transition)) *callMachine {
	m := &callMachine{history: newHistory("call")}
	idle, starting, active, stopping := string(CallIdle), string(CallStarting), string(CallActive), string(CallStopping)
	m.fsm = fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: callEvStart, Src: []string{idle, starting}, Dst: starting},
			{Name: callEvAccept, Src: []string{starting, stopping, active}, Dst: active},
			{Name: callEvStop, Src: []string{starting, active, stopping}, Dst: stopping},
			{Name: callEvReset, Src: []string{idle, starting, active, stopping}, Dst: idle},
		},
		fsm.Callbacks{
			"enter_state": recorder(m.history, notify),
		},
	)
	return m
}

func (m *callMachine) status() CallStatus {
	return CallStatus(m.fsm.Current())
}

// begin переводит в Starting и запоминает сессию с атрибутами
func (m *callMachine) begin(s engine.Session, dir CallDirection, counterpart string) error {
	if _, err := fire(m.fsm, callEvStart, string(dir)+" "+counterpart); err != nil {
		return err
	}
	m.session = s
	m.direction = dir
	m.counterpart = counterpart
	m.onHold = s.IsOnHold().Local
	m.muted = s.IsMuted().Audio
	return nil
}

func (m *callMachine) accept(dtmf engine.DTMFSender) error {
	if _, err := fire(m.fsm, callEvAccept, ""); err != nil {
		return err
	}
	m.dtmfSender = dtmf
	m.acceptedAt = time.Now()
	return nil
}

// reset возвращает машину в Idle и очищает все атрибуты вызова разом.
// clearHold сбрасывает onHold (событие ended).
func (m *callMachine) reset(reason string, clearHold bool) error {
	_, err := fire(m.fsm, callEvReset, reason)
	m.session = nil
	m.direction = DirectionNone
	m.counterpart = ""
	m.dtmfSender = nil
	m.muted = false
	m.acceptedAt = time.Time{}
	if clearHold {
		m.onHold = false
	}
	return err
}

// counterpartOf адрес до первого ';'
func counterpartOf(uri string) string {
	if i := strings.IndexByte(uri, ';'); i > 0 {
		return uri[:i]
	}
	return uri
}
