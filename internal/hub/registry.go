package hub

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrIdentityMismatch is returned when a bound handle is bound to a
	// different identity. The connection must be closed.
	ErrIdentityMismatch = errors.New("connection already bound to another identity")
	ErrUnknownHandle    = errors.New("unknown connection handle")
)

// Handle identifies one registered connection. Handles are never reused.
type Handle uint64

type registration struct {
	conn         Conn
	identity     string
	refreshToken string
	registeredAt time.Time
}

// Registry tracks live connections and the identity each one is bound to.
// Thread-safe via sync.RWMutex.
type Registry struct {
	mu         sync.RWMutex
	next       Handle
	conns      map[Handle]*registration
	byIdentity map[string]map[Handle]struct{}
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[Handle]*registration),
		byIdentity: make(map[string]map[Handle]struct{}),
		now:        time.Now,
	}
}

// Register adds an unbound connection and returns its handle.
func (r *Registry) Register(c Conn) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.conns[r.next] = &registration{conn: c, registeredAt: r.now()}
	return r.next
}

// Bind associates a handle with an identity and the refresh token it proved.
// Binding again to the same identity only records the token.
func (r *Registry) Bind(h Handle, identity, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[h]
	if !ok {
		return ErrUnknownHandle
	}
	if reg.identity == identity {
		reg.refreshToken = refreshToken
		return nil
	}
	if reg.identity != "" {
		return ErrIdentityMismatch
	}

	reg.identity = identity
	reg.refreshToken = refreshToken
	if r.byIdentity[identity] == nil {
		r.byIdentity[identity] = make(map[Handle]struct{})
	}
	r.byIdentity[identity][h] = struct{}{}
	return nil
}

// Unregister removes a handle and returns its connection. It reports false if
// the handle was already removed, so callers can tear down exactly once.
func (r *Registry) Unregister(h Handle) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.conns[h]
	if !ok {
		return nil, false
	}
	delete(r.conns, h)

	if reg.identity != "" {
		handles := r.byIdentity[reg.identity]
		delete(handles, h)
		if len(handles) == 0 {
			delete(r.byIdentity, reg.identity)
		}
	}
	return reg.conn, true
}

// ConnectionsFor returns the handles bound to identity, in registration order.
func (r *Registry) ConnectionsFor(identity string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.byIdentity[identity]))
	for h := range r.byIdentity[identity] {
		handles = append(handles, h)
	}
	sortHandles(handles)
	return handles
}

// StaleFor returns the handles bound to identity with a refresh token other
// than current. An empty current makes every bound handle stale.
func (r *Registry) StaleFor(identity, current string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handles []Handle
	for h := range r.byIdentity[identity] {
		if current == "" || r.conns[h].refreshToken != current {
			handles = append(handles, h)
		}
	}
	sortHandles(handles)
	return handles
}

// IdentityFor returns the identity bound to h, if any.
func (r *Registry) IdentityFor(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[h]
	if !ok || reg.identity == "" {
		return "", false
	}
	return reg.identity, true
}

// Conn returns the connection registered under h.
func (r *Registry) Conn(h Handle) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[h]
	if !ok {
		return nil, false
	}
	return reg.conn, true
}

// Handles returns every registered handle, bound or not.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		handles = append(handles, h)
	}
	sortHandles(handles)
	return handles
}

// Identities returns every identity with at least one bound connection.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// UnboundBefore returns the unbound handles registered before t.
func (r *Registry) UnboundBefore(t time.Time) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handles []Handle
	for h, reg := range r.conns {
		if reg.identity == "" && reg.registeredAt.Before(t) {
			handles = append(handles, h)
		}
	}
	sortHandles(handles)
	return handles
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func sortHandles(handles []Handle) {
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
}
