// Package registry implements the reverse-proxy registry: a process-wide
// mapping from service id to the live multiplexer session of the provider
// currently serving it.
package registry

import (
	"fmt"
	"sync"

	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/pgshare"
)

// ErrDuplicateID is returned by Register when a provider is already live
// for the requested id.
var ErrDuplicateID = fmt.Errorf("registry: service id already has a live provider")

// ErrNotFound is returned by Open when no provider is currently registered
// for the requested id.
var ErrNotFound = fmt.Errorf("registry: service offline")

// Registry is a concurrent map from service id to the provider's
// multiplexer session. All operations are safe for concurrent use from
// many connection-handling goroutines.
type Registry struct {
	mu       sync.Mutex
	byID     map[uint32]*muxsession.Session
	reserved map[uint32]bool

	stats pgshare.ConnStats
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:     make(map[uint32]*muxsession.Session),
		reserved: make(map[uint32]bool),
	}
}

// Stats reports this registry's lifetime and currently-live provider
// counts, for inclusion in a log line.
func (r *Registry) Stats() string {
	return r.stats.String()
}

// Reserve claims id for an in-progress onboarding before the provider's
// multiplexer session exists, so the duplicate-id check can be answered
// (and signalled to the provider) ahead of any multiplexer I/O. It fails
// if id already has a live provider or another onboarding in flight.
// A successful Reserve must be followed by exactly one of Finalize or
// Release.
func (r *Registry) Reserve(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return ErrDuplicateID
	}
	if r.reserved[id] {
		return ErrDuplicateID
	}
	r.reserved[id] = true
	return nil
}

// Release abandons a Reserve that did not reach Finalize (e.g. integrity
// mismatch or multiplexer upgrade failure after a successful Reserve).
func (r *Registry) Release(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, id)
}

// Finalize converts a successful Reserve into a live entry once the
// provider's multiplexer session has been constructed.
func (r *Registry) Finalize(id uint32, sess *muxsession.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, id)
	r.byID[id] = sess
	r.stats.New()
	r.stats.Open()
}

// Register is Reserve immediately followed by Finalize, for callers that
// already have sess in hand and don't need to signal the reservation
// outcome before constructing it.
func (r *Registry) Register(id uint32, sess *muxsession.Session) error {
	if err := r.Reserve(id); err != nil {
		return err
	}
	r.Finalize(id, sess)
	return nil
}

// Unregister removes id's entry if it still points at sess. Comparing the
// session pointer guards against a late unregister from a stale handler
// clobbering a different provider that has since re-registered under the
// same id.
func (r *Registry) Unregister(id uint32, sess *muxsession.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, exists := r.byID[id]; exists && cur == sess {
		delete(r.byID, id)
		r.stats.Close()
	}
}

// Open opens a new visitor sub-stream against the provider registered for
// id, returning ErrNotFound if no provider is currently live.
func (r *Registry) Open(id uint32) (interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}, error) {
	r.mu.Lock()
	sess, exists := r.byID[id]
	r.mu.Unlock()
	if !exists {
		return nil, ErrNotFound
	}
	return sess.OpenStream()
}
