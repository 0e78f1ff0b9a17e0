// Package events implements the in-process change-event bus that downstream
// caches (feedback score, entity index, query result) subscribe to.
//
// Dispatch is synchronous in the emitter's goroutine, in subscriber
// registration order, with each subscriber's error isolated from the
// others. The subscriber list is snapshotted under a read lock before
// each emission so that a handler may Subscribe or Unsubscribe from
// within its own callback without corrupting the in-flight emission's
// iteration — the same guarded-slice idiom the retrieval core's caches
// use elsewhere for concurrent read-mostly state.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/agentmem/retrieval-core/internal/logging"
	"github.com/agentmem/retrieval-core/internal/model"
)

// MaxSubscribers caps registrations; excess Subscribe calls are dropped
// with a single logged warning.
const MaxSubscribers = 1000

// Handler receives a ChangeEvent. Returning an error only affects this
// subscriber: it is logged and does not stop dispatch to the others.
type Handler func(model.ChangeEvent) error

type subscription struct {
	id      int64
	handler Handler
}

// Bus is a process-scoped event bus. Tests should construct their own Bus
// rather than share a package-level singleton, per the retrieval core's
// global-mutable-state rule: process-scoped state gets explicit
// init/teardown and a factory for isolated test instances.
type Bus struct {
	mu          sync.RWMutex
	subs        []subscription
	nextID      int64
	overflowLogged bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Token identifies a subscription for later Unsubscribe.
type Token int64

// Subscribe registers a handler and returns a token to unsubscribe it
// later. If the bus is already at MaxSubscribers, the registration is
// dropped and a single warning is logged (repeats are silent to avoid a
// logging storm under sustained overflow).
func (b *Bus) Subscribe(h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= MaxSubscribers {
		if !b.overflowLogged {
			logging.Warn("events", "subscriber limit (%d) reached, dropping registration", MaxSubscribers)
			b.overflowLogged = true
		}
		return 0
	}

	id := atomic.AddInt64(&b.nextID, 1)
	b.subs = append(b.subs, subscription{id: id, handler: h})
	return Token(id)
}

// Unsubscribe removes a previously-registered handler. Safe to call from
// within a handler during an in-flight Emit.
func (b *Bus) Unsubscribe(t Token) {
	if t == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == int64(t) {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches ev to every current subscriber in registration order.
// The subscriber list is copied under a read lock before iterating, so a
// handler that calls Subscribe/Unsubscribe mid-dispatch only affects
// future emissions, never the one in progress. Each handler's error is
// isolated: it is logged and dispatch continues.
func (b *Bus) Emit(ev model.ChangeEvent) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if err := s.handler(ev); err != nil {
			logging.Warn("events", "subscriber %d failed for %s %s/%s: %v", s.id, ev.Action, ev.EntryType, ev.EntryID, err)
		}
	}
}

// Len reports the current subscriber count, mostly useful for tests.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
