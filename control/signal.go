// Package control holds the binary flags by which a supervisor steers a
// worker without touching the telemetry queues: a pause gate the worker
// blocks on, and a stop flag the worker polls. Waiting is a blocking
// channel receive, so a paused worker consumes no scheduler turns.
package control

import "sync"

// Signal is a settable, clearable flag with a blocking wait. Set and
// Clear are idempotent and safe to call concurrently with a blocked
// Wait. The internal gate channel is closed while the signal is set;
// Clear swaps in a fresh channel so later waiters block again.
type Signal struct {
	mu   sync.Mutex
	set  bool
	gate chan struct{}
}

// NewSignal returns a signal in the given initial state.
func NewSignal(set bool) *Signal {
	s := &Signal{set: set, gate: make(chan struct{})}
	if set {
		close(s.gate)
	}
	return s
}

// Set raises the flag, releasing all current and future waiters.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	close(s.gate)
}

// Clear lowers the flag; subsequent Wait calls block until Set.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.set = false
	s.gate = make(chan struct{})
}

// IsSet is a non-blocking poll.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the signal is set or done closes, returning false
// only for the done case. Returns immediately when already set.
func (s *Signal) Wait(done <-chan struct{}) bool {
	for {
		s.mu.Lock()
		if s.set {
			s.mu.Unlock()
			return true
		}
		gate := s.gate
		s.mu.Unlock()

		select {
		case <-gate:
			// Set was called; loop to confirm it is still set, since an
			// interleaved Clear may have swapped the gate.
		case <-done:
			return false
		}
	}
}

// Signals is the control pair shared between exactly one coordinator and
// one worker per session. A fresh pair is allocated for every session so
// stale state from a dead worker can never leak into a new one.
type Signals struct {
	// PauseGate is set ("open") when the worker is free to proceed.
	PauseGate *Signal
	// StopFlag is set when cancellation has been requested.
	StopFlag *Signal
}

// NewSignals returns the session defaults: gate open, no stop requested.
func NewSignals() *Signals {
	return &Signals{
		PauseGate: NewSignal(true),
		StopFlag:  NewSignal(false),
	}
}

// RequestStop raises the stop flag and then opens the pause gate, in
// that order, so a worker paused in PauseGate.Wait wakes up already able
// to observe the stop. Reversing the order risks an unbounded block.
func (s *Signals) RequestStop() {
	s.StopFlag.Set()
	s.PauseGate.Set()
}
