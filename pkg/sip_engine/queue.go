package sip_engine

import (
	"sync"

	"github.com/arzzra/sip_provider/pkg/engine"
)

// eventQueue неограниченная очередь событий. Обработчик вызывается из
// одной горутины в порядке поступления, поэтому push из самого
// обработчика не блокируется.
type eventQueue struct {
	mu     sync.Mutex
	items  []engine.Event
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) push(ev engine.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// run доставляет события до close. Необработанные при close события
// отбрасываются.
func (q *eventQueue) run(handler engine.Handler) {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, ev := range batch {
			if q.isClosed() {
				return
			}
			handler(ev)
		}
		if len(batch) > 0 {
			continue
		}
		<-q.signal
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// wait ожидает завершения run. Нельзя вызывать из обработчика.
func (q *eventQueue) wait() { <-q.done }
