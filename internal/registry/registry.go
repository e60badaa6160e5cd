// Package registry holds the process-wide table of live sessions. It maps identities to their attached duplex handles,
// answers presence queries, and fans payloads out to target identities. One identity may hold several handles at once
// (multi-device); fan-out is deduplicated per handle, never per identity.
package registry

import (
	"sync"
	"time"
)

// Handle is one attached duplex session. Enqueue must not block: it reports false when the handle can no longer accept
// payloads, which the registry treats as an implicit detach.
type Handle interface {
	Identity() string
	Enqueue(payload []byte) bool
}

// Presence pairs an identity with its online state.
type Presence struct {
	Identity string `json:"user"`
	Online   bool   `json:"online"`
}

// entry records registry-side metadata for an attached handle.
type entry struct {
	identity   string
	attachedAt time.Time
}

// Registry is the in-memory session table. All methods are safe for arbitrary concurrent callers. Payload delivery
// happens outside the lock so a slow or broken handle never stalls attaches, detaches, or other broadcasts.
type Registry struct {
	mu       sync.RWMutex
	handles  map[Handle]entry
	identity map[string]map[Handle]struct{}

	// onOnline and onOffline fire when an identity gains its first handle or loses its last one. They run on the
	// caller's goroutine with no registry lock held.
	onOnline  func(identity string)
	onOffline func(identity string)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handles:  make(map[Handle]entry),
		identity: make(map[string]map[Handle]struct{}),
	}
}

// OnPresenceChange installs the hooks invoked when an identity transitions between absent and present. Must be called
// before the first Attach.
func (r *Registry) OnPresenceChange(online, offline func(identity string)) {
	r.onOnline = online
	r.onOffline = offline
}

// Attach adds a handle. If its identity transitioned from absent to present, the online hook fires.
func (r *Registry) Attach(h Handle) {
	id := h.Identity()

	r.mu.Lock()
	if _, ok := r.handles[h]; ok {
		r.mu.Unlock()
		return
	}
	r.handles[h] = entry{identity: id, attachedAt: time.Now()}

	set, ok := r.identity[id]
	if !ok {
		set = make(map[Handle]struct{})
		r.identity[id] = set
	}
	set[h] = struct{}{}
	first := len(set) == 1
	r.mu.Unlock()

	if first && r.onOnline != nil {
		r.onOnline(id)
	}
}

// Detach removes a handle. If it was the last handle for its identity, the offline hook fires. Detaching an unknown
// handle is a no-op, so the disconnect path and a broadcast-failure detach can race harmlessly.
func (r *Registry) Detach(h Handle) {
	r.mu.Lock()
	e, ok := r.handles[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.handles, h)

	set := r.identity[e.identity]
	delete(set, h)
	last := len(set) == 0
	if last {
		delete(r.identity, e.identity)
	}
	r.mu.Unlock()

	if last && r.onOffline != nil {
		r.onOffline(e.identity)
	}
}

// IsPresent reports whether the identity has at least one attached handle.
func (r *Registry) IsPresent(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identity[identity]) > 0
}

// PresenceOf returns the online state for each given identity, in input order.
func (r *Registry) PresenceOf(identities []string) []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Presence, len(identities))
	for i, id := range identities {
		out[i] = Presence{Identity: id, Online: len(r.identity[id]) > 0}
	}
	return out
}

// Broadcast delivers the payload once to every handle whose identity is in targets. The target-handle membership is
// snapshotted under the read lock; delivery runs outside it. A handle that refuses the payload is detached.
func (r *Registry) Broadcast(targets []string, payload []byte) {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(targets))
	var recipients []Handle
	for _, id := range targets {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for h := range r.identity[id] {
			recipients = append(recipients, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range recipients {
		if !h.Enqueue(payload) {
			r.Detach(h)
		}
	}
}

// Count returns the number of attached handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Snapshot returns all attached handles. Used at shutdown to close every live session.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.handles))
	for h := range r.handles {
		out = append(out, h)
	}
	return out
}
