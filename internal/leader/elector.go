// Package leader provides the mutual-exclusion capability the wallet needs
// so that exactly one instance per account answers refresh requests. The
// election mechanism itself is a collaborator; LocalElector covers co-resident
// instances inside one process and serves as the default for tests and
// single-process deployments.
package leader

import (
	"context"
	"errors"
	"sync"
)

// ErrResigned reports that a pending candidacy was withdrawn before
// leadership was granted.
var ErrResigned = errors.New("leadership candidacy withdrawn")

// Elector grants leadership to one instance at a time per name.
type Elector interface {
	// AwaitLeadership blocks until this instance becomes the sole active
	// responder, or ctx is done.
	AwaitLeadership(ctx context.Context) error
	// Resign releases leadership (or withdraws a pending candidacy) so the
	// next contender can take over.
	Resign()
}

type election struct {
	mu     sync.Mutex
	holder *LocalElector
	queue  []*LocalElector
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*election)
)

func electionFor(name string) *election {
	registryMu.Lock()
	defer registryMu.Unlock()
	e, ok := registry[name]
	if !ok {
		e = &election{}
		registry[name] = e
	}
	return e
}

// LocalElector competes for the in-process election identified by name,
// typically the account ID.
type LocalElector struct {
	election *election
	grant    chan struct{}
}

func NewLocalElector(name string) *LocalElector {
	return &LocalElector{election: electionFor(name)}
}

func (l *LocalElector) AwaitLeadership(ctx context.Context) error {
	e := l.election
	e.mu.Lock()
	switch {
	case e.holder == l:
		e.mu.Unlock()
		return nil
	case e.holder == nil:
		e.holder = l
		e.mu.Unlock()
		return nil
	default:
		// Fresh grant channel per candidacy so an elector can re-enter the
		// race after resigning.
		l.grant = make(chan struct{})
		grant := l.grant
		e.queue = append(e.queue, l)
		e.mu.Unlock()

		select {
		case <-grant:
			e.mu.Lock()
			isHolder := e.holder == l
			e.mu.Unlock()
			if !isHolder {
				return ErrResigned
			}
			return nil
		case <-ctx.Done():
			l.Resign()
			return ctx.Err()
		}
	}
}

func (l *LocalElector) Resign() {
	e := l.election
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holder == l {
		e.holder = nil
		if len(e.queue) > 0 {
			next := e.queue[0]
			e.queue = e.queue[1:]
			e.holder = next
			close(next.grant)
		}
		return
	}
	for i, candidate := range e.queue {
		if candidate == l {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			close(candidate.grant)
			return
		}
	}
}
