package tour

import "sync"

// Cause names what produced an Event.
type Cause string

const (
	CauseLoad       Cause = "load"
	CauseTransition Cause = "transition"
	CauseViewMode   Cause = "view_mode"
	CauseModal      Cause = "modal"
	CauseFullscreen Cause = "fullscreen"
	CauseError      Cause = "error"
)

// Event is delivered to subscribers after every session state change.
type Event struct {
	Cause Cause
	State State
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// emitter delivers events in the order they were queued. push runs under
// the session lock, so queue order is change order; flush runs after the
// lock is released and delivers everything up to the caller's event.
type emitter struct {
	mu        sync.Mutex
	subs      []subscriber
	nextID    uint64
	queue     []Event
	queued    uint64 // sequence number of the last pushed event
	delivered uint64 // sequence number of the last delivered event

	deliver sync.Mutex // held while calling subscribers
}

// Subscription removes a registered callback.
type Subscription struct {
	id uint64
	e  *emitter
}

// Unsubscribe stops delivery to this callback. Safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.e == nil {
		return
	}
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	for i := range s.e.subs {
		if s.e.subs[i].id == s.id {
			copy(s.e.subs[i:], s.e.subs[i+1:])
			s.e.subs[len(s.e.subs)-1] = subscriber{}
			s.e.subs = s.e.subs[:len(s.e.subs)-1]
			return
		}
	}
}

func (e *emitter) subscribe(fn func(Event)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.subs = append(e.subs, subscriber{id: e.nextID, fn: fn})
	return Subscription{id: e.nextID, e: e}
}

func (e *emitter) push(ev Event) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, ev)
	e.queued++
	return e.queued
}

// flush delivers queued events until seq has gone out. Another goroutine may
// already have delivered it.
func (e *emitter) flush(seq uint64) {
	e.deliver.Lock()
	defer e.deliver.Unlock()
	for {
		e.mu.Lock()
		if e.delivered >= seq || len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue[0] = Event{}
		e.queue = e.queue[1:]
		e.delivered++
		subs := make([]subscriber, len(e.subs))
		copy(subs, e.subs)
		e.mu.Unlock()

		for _, s := range subs {
			s.fn(ev)
		}
	}
}
