package provider

import (
	"github.com/looplab/fsm"
)

// RegistrationStatus состояние регистрации линии
type RegistrationStatus string

const (
	RegistrationDisconnected RegistrationStatus = "disconnected"
	RegistrationConnecting   RegistrationStatus = "connecting"
	RegistrationConnected    RegistrationStatus = "connected"
	RegistrationRegistered   RegistrationStatus = "registered"
	RegistrationError        RegistrationStatus = "error"
)

func (s RegistrationStatus) String() string { return string(s) }

// События машины регистрации
const (
	regEvConnecting               = "connecting"
	regEvConnected                = "connected"
	regEvRegistered               = "registered"
	regEvUnregisteredConnected    = "unregistered_connected"
	regEvUnregisteredDisconnected = "unregistered_disconnected"
	regEvFail                     = "fail"
	regEvReset                    = "reset"
)

var allRegistrationStates = []string{
	string(RegistrationDisconnected),
	string(RegistrationConnecting),
	string(RegistrationConnected),
	string(RegistrationRegistered),
	string(RegistrationError),
}

// registrationMachine машина состояний регистрации. Вместе с Error
// хранит класс и текст ошибки.
type registrationMachine struct {
	fsm        *fsm.FSM
	history    *history
	errKind    ErrorKind
	errMessage string
}

func newRegistrationMachine(notify func(Transition)) *registrationMachine {
	m := &registrationMachine{history: newHistory("registration")}
	m.fsm = fsm.NewFSM(
		string(RegistrationDisconnected),
		fsm.Events{
			{Name: regEvConnecting, Src: allRegistrationStates, Dst: string(RegistrationConnecting)},
			{Name: regEvConnected, Src: allRegistrationStates, Dst: string(RegistrationConnected)},
			{Name: regEvRegistered, Src: allRegistrationStates, Dst: string(RegistrationRegistered)},
			{Name: regEvUnregisteredConnected, Src: allRegistrationStates, Dst: string(RegistrationConnected)},
			{Name: regEvUnregisteredDisconnected, Src: allRegistrationStates, Dst: string(RegistrationDisconnected)},
			{Name: regEvFail, Src: allRegistrationStates, Dst: string(RegistrationError)},
			{Name: regEvReset, Src: allRegistrationStates, Dst: string(RegistrationDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": recorder(m.history, notify),
		},
	)
	return m
}

func (m *registrationMachine) status() RegistrationStatus {
	return RegistrationStatus(m.fsm.Current())
}

// transition переход без ошибки; очищает сохраненную ошибку
func (m *registrationMachine) transition(event, reason string) error {
	m.errKind, m.errMessage = "", ""
	_, err := fire(m.fsm, event, reason)
	return err
}

// fail переход в Error с классом и сообщением
func (m *registrationMachine) fail(kind ErrorKind, message string) error {
	m.errKind, m.errMessage = kind, message
	_, err := fire(m.fsm, regEvFail, string(kind)+": "+message)
	return err
}

func (m *registrationMachine) connecting() error { return m.transition(regEvConnecting, "") }
func (m *registrationMachine) connected() error  { return m.transition(regEvConnected, "") }
func (m *registrationMachine) registered() error { return m.transition(regEvRegistered, "") }

func (m *registrationMachine) unregistered(stillConnected bool) error {
	if stillConnected {
		return m.transition(regEvUnregisteredConnected, "транспорт подключен")
	}
	return m.transition(regEvUnregisteredDisconnected, "транспорт отключен")
}

func (m *registrationMachine) reset(reason string) error {
	return m.transition(regEvReset, reason)
}
