package assistant

import "slices"

// State is the lifecycle phase of the assistant's live session. Exactly one
// state holds at a time.
type State int

const (
	// StateInactive means no session exists and no audio device is held.
	StateInactive State = iota
	// StateConnecting means a session is being opened.
	StateConnecting
	// StateActive means the session is live and capture is running.
	StateActive
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Turn is one finished utterance in the conversation history.
type Turn struct {
	// Speaker is the user label or the assistant's name.
	Speaker string
	// Text is the accumulated transcription. It may be empty when only the
	// other side of the exchange was transcribed.
	Text string
}

// Snapshot is an immutable copy of the assistant's observable state.
type Snapshot struct {
	State         State
	Muted         bool
	History       []Turn
	CurrentInput  string
	CurrentOutput string
	// Error is the last user-visible error message, or empty.
	Error string
	// Seq increases with every mutation.
	Seq uint64
}

// Listener receives a snapshot after every mutation. Listeners run
// synchronously in mutation order and must not call back into the
// assistant's mutating methods.
type Listener func(Snapshot)

// snapshotLocked bumps the sequence number and copies the current state.
// Callers must hold a.mu.
func (a *Assistant) snapshotLocked() Snapshot {
	a.seq++
	return Snapshot{
		State:         a.state,
		Muted:         a.muted.Load(),
		History:       slices.Clone(a.history),
		CurrentInput:  a.curInput,
		CurrentOutput: a.curOutput,
		Error:         a.errMsg,
		Seq:           a.seq,
	}
}

// Snapshot returns the current state without notifying listeners.
func (a *Assistant) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		State:         a.state,
		Muted:         a.muted.Load(),
		History:       slices.Clone(a.history),
		CurrentInput:  a.curInput,
		CurrentOutput: a.curOutput,
		Error:         a.errMsg,
		Seq:           a.seq,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (a *Assistant) Subscribe(fn Listener) (unsubscribe func()) {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	id := a.nextListener
	a.nextListener++
	a.listeners = append(a.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		a.lmu.Lock()
		defer a.lmu.Unlock()
		a.listeners = slices.DeleteFunc(a.listeners, func(e listenerEntry) bool { return e.id == id })
	}
}

type listenerEntry struct {
	id int
	fn Listener
}

// emit delivers s to every listener. Snapshots older than the last delivered
// one are dropped so listeners observe Seq in increasing order.
func (a *Assistant) emit(s Snapshot) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	if s.Seq <= a.delivered {
		return
	}
	a.delivered = s.Seq

	a.lmu.Lock()
	entries := slices.Clone(a.listeners)
	a.lmu.Unlock()
	for _, e := range entries {
		e.fn(s)
	}
}
