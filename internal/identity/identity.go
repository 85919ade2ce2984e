// Package identity bridges the external auth provider to the sync core: it
// verifies credentials, tracks the signed-in identity and turns auth-state
// transitions into presence/directory side effects.
package identity

import "sync"

// Identity is what the auth provider vouches for on successful login.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Provider emits a single callback on every auth-state transition: the new
// identity on sign-in, nil on sign-out.
type Provider interface {
	// Current returns the signed-in identity, or nil.
	Current() *Identity
	// OnStateChange registers fn, invokes it immediately with the current
	// state, and returns an unsubscribe function.
	OnStateChange(fn func(*Identity)) func()
}

// Emitter is an in-process Provider driven by whatever owns the credential
// flow (here, the websocket gateway).
type Emitter struct {
	// notifyMu serializes whole transitions so subscribers observe sign-ins
	// and sign-outs in a single order.
	notifyMu sync.Mutex

	mu      sync.Mutex
	current *Identity
	subs    map[int]func(*Identity)
	next    int
}

var _ Provider = (*Emitter)(nil)

// NewEmitter creates a signed-out emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]func(*Identity))}
}

// Current returns the signed-in identity, or nil.
func (e *Emitter) Current() *Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// OnStateChange registers fn and delivers the current state immediately.
func (e *Emitter) OnStateChange(fn func(*Identity)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = fn
	cur := e.current
	e.mu.Unlock()

	fn(cur)

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// SignIn transitions to the given identity and notifies subscribers.
func (e *Emitter) SignIn(id *Identity) {
	e.transition(id)
}

// SignOut transitions to signed-out and notifies subscribers.
func (e *Emitter) SignOut() {
	e.transition(nil)
}

func (e *Emitter) transition(id *Identity) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	e.current = id
	fns := make([]func(*Identity), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}
