package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// maxHistory сколько переходов хранится для каждой машины
const maxHistory = 20

// Transition запись истории переходов
type Transition struct {
	Machine string
	From    string
	To      string
	Event   string
	Reason  string
	At      time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf("%s: %s -> %s [%s] %s", t.Machine, t.From, t.To, t.Event, t.Reason)
}

// history ограниченная история переходов. Защищается мьютексом
// провайдера.
type history struct {
	machine string
	entries []Transition
}

func newHistory(machine string) *history {
	return &history{machine: machine, entries: make([]Transition, 0, 10)}
}

func (h *history) add(from, to, event, reason string) Transition {
	t := Transition{
		Machine: h.machine,
		From:    from,
		To:      to,
		Event:   event,
		Reason:  reason,
		At:      time.Now(),
	}
	h.entries = append(h.entries, t)
	if len(h.entries) > maxHistory {
		h.entries = h.entries[1:]
	}
	return t
}

func (h *history) snapshot() []Transition {
	out := make([]Transition, len(h.entries))
	copy(out, h.entries)
	return out
}

// fire выполняет событие fsm. Событие без смены состояния не ошибка.
func fire(f *fsm.FSM, event, reason string) (bool, error) {
	err := f.Event(context.Background(), event, reason)
	if err == nil {
		return true, nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return false, nil
	}
	return false, err
}

// recorder callback enter_state, пишущий переход в историю
func recorder(h *history, notify func(Transition)) fsm.Callback {
	return func(_ context.Context, e *fsm.Event) {
		reason := ""
		if len(e.Args) > 0 {
			if s, ok := e.Args[0].(string); ok {
				reason = s
			}
		}
		t := h.add(e.Src, e.Dst, e.Event, reason)
		if notify != nil {
			notify(t)
		}
	}
}
