// Package pending correlates outgoing commands with their responses by nonce.
package pending

import (
	"sync"

	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
)

// Result settles one pending request.
type Result struct {
	Message domain.IncomingCommand
	Err     error
}

// Tracker holds one buffered result channel per in-flight nonce. All methods
// are safe for concurrent use; resolution never blocks.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]chan Result
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]chan Result)}
}

// Register reserves nonce and returns the channel its result is delivered on.
func (t *Tracker) Register(nonce string) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[nonce]; ok {
		return nil, domain.NewDomainError("pending.Register", domain.ErrDuplicateNonce, nonce)
	}
	ch := make(chan Result, 1)
	t.entries[nonce] = ch
	return ch, nil
}

// Resolve settles the entry matching msg.Nonce. ERROR events reject with an
// *domain.RPCError. It reports whether an entry matched; unmatched nonces are
// ignored.
func (t *Tracker) Resolve(msg domain.IncomingCommand) bool {
	if msg.Nonce == "" {
		return false
	}

	t.mu.Lock()
	ch, ok := t.entries[msg.Nonce]
	if ok {
		delete(t.entries, msg.Nonce)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	res := Result{Message: msg}
	if msg.IsError() {
		res.Err = wire.DecodeError(msg)
	}
	ch <- res
	return true
}

// Forget drops nonce without settling it, for callers that stopped waiting.
func (t *Tracker) Forget(nonce string) {
	t.mu.Lock()
	delete(t.entries, nonce)
	t.mu.Unlock()
}

// RejectAll settles every entry with err atomically and returns how many
// were pending.
func (t *Tracker) RejectAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]chan Result)
	t.mu.Unlock()

	for _, ch := range entries {
		ch <- Result{Err: err}
	}
	return len(entries)
}

// Len returns the number of pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
