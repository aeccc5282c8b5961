// Package presentment implements the reader-facing presentment state
// machine and request loop: the code path that turns a decrypted
// DeviceRequest into a consented, selectively-disclosed DeviceResponse.
package presentment

import (
	"errors"
	"sync"

	"mdoccore/pkg/model"
)

// State is the presentment session's observable lifecycle state.
// Per spec §4.11 this is a closed sum type. A session with several
// requests returns to WaitingForReader after each Sending; Completed
// and CanceledByUser are terminal.
type State int

const (
	StateReset State = iota
	StateConnecting
	StateWaitingForReader
	StateWaitingForUserInput
	StateSending
	StateCompleted
	StateCanceledByUser
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "Reset"
	case StateConnecting:
		return "Connecting"
	case StateWaitingForReader:
		return "WaitingForReader"
	case StateWaitingForUserInput:
		return "WaitingForUserInput"
	case StateSending:
		return "Sending"
	case StateCompleted:
		return "Completed"
	case StateCanceledByUser:
		return "CanceledByUser"
	default:
		return "Unknown"
	}
}

// Model is the mutex-guarded, observable presentment state: current
// state, the documents currently in focus for the consent prompt, the
// count of requests served this session, and a terminal error if the
// session completed abnormally. It carries no transport or crypto
// logic of its own; Iso18013Presentment drives it.
type Model struct {
	mu sync.Mutex

	state           State
	selectedDocs    []string
	requestCount    int
	completionError error
	canceled        bool

	observers []chan State
}

// NewModel constructs a Model in StateReset.
func NewModel() *Model {
	return &Model{state: StateReset}
}

// State returns the current state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectedDocuments returns the documents currently in focus.
func (m *Model) SelectedDocuments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.selectedDocs))
	copy(out, m.selectedDocs)
	return out
}

// RequestCount returns the number of reader requests served so far.
func (m *Model) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// CompletionError returns the error the session completed with, or
// nil for a clean completion.
func (m *Model) CompletionError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completionError
}

// Observe registers a channel that receives every state transition.
// The channel is buffered by the caller's choosing; Observe never
// blocks trying to deliver, dropping a notification if the channel is
// full (a UI layer only needs the latest state).
func (m *Model) Observe(ch chan State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, ch)
}

func (m *Model) transition(s State) {
	m.mu.Lock()
	m.state = s
	observers := m.observers
	m.mu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- s:
		default:
		}
	}
}

func (m *Model) setConnecting()       { m.transition(StateConnecting) }
func (m *Model) setWaitingForReader() { m.transition(StateWaitingForReader) }
func (m *Model) setSending()          { m.transition(StateSending) }

func (m *Model) setWaitingForUserInput(docs []string) {
	m.mu.Lock()
	m.selectedDocs = docs
	m.mu.Unlock()
	m.transition(StateWaitingForUserInput)
}

func (m *Model) incrementRequestCount() {
	m.mu.Lock()
	m.requestCount++
	m.mu.Unlock()
}

// setCanceledByUser records a cooperative cancellation request. It is
// safe to call concurrently with the request loop: the loop observes
// it at the next message boundary (isCanceled).
func (m *Model) setCanceledByUser() {
	m.mu.Lock()
	m.canceled = true
	m.mu.Unlock()
}

func (m *Model) isCanceled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}

// setCompleted records the session's terminal state: Completed for a
// nil error, CanceledByUser for ErrPresentmentCanceled, Completed
// carrying the error otherwise. Called exactly once, from the request
// loop's single cleanup path.
func (m *Model) setCompleted(err error) {
	m.mu.Lock()
	m.completionError = err
	canceled := m.canceled || errors.Is(err, model.ErrPresentmentCanceled)
	m.mu.Unlock()

	if canceled {
		m.transition(StateCanceledByUser)
		return
	}
	m.transition(StateCompleted)
}
