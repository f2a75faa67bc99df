// Package connectivity carries the host environment's online/offline
// notification to the parts that care: cache staleness checks, the marking
// workflow's mode switch and the sync trigger.
package connectivity

import (
	"context"
	"sync"
	"time"
)

// Signal fans out connectivity transitions. Set is called by the host (or
// the Watcher below); subscribers receive a value per transition, never per
// repeated state.
type Signal struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

// NewSignal starts offline.
func NewSignal() *Signal {
	return &Signal{}
}

// Online returns the current state.
func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the state and notifies subscribers on transitions. Slow
// subscribers miss intermediate flaps rather than block the caller.
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	for _, ch := range s.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe returns a channel delivering transition states.
func (s *Signal) Subscribe() <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan bool, 1)
	s.subs = append(s.subs, ch)
	return ch
}

// Watcher periodically probes a health check and feeds a Signal; it plays
// the host-environment role for headless deployments.
type Watcher struct {
	probe    func(ctx context.Context) error
	signal   *Signal
	interval time.Duration
}

// NewWatcher builds a watcher; interval defaults to 15s.
func NewWatcher(probe func(ctx context.Context) error, signal *Signal, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watcher{probe: probe, signal: signal, interval: interval}
}

// Run probes until the context is cancelled. The first probe fires
// immediately so startup state is known before the first tick.
func (w *Watcher) Run(ctx context.Context) {
	w.check(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()
	w.signal.Set(w.probe(probeCtx) == nil)
}
