package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"guideflow/internal/events"
	"guideflow/internal/logging"
)

// ErrNotFound is returned when a session id is unknown to this process.
// Callers fall back to the event log mirror.
var ErrNotFound = errors.New("session not found")

// Manager is the in-memory registry of sessions. One Manager serves one
// process; cross-process consumers use the event log mirror instead.
type Manager struct {
	bufferSize int
	logger     logging.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	snap     Snapshot
	bus      *events.Bus
	writer   *events.LogWriter
	cancel   chan struct{}
	canceled bool
	cleanup  func()
	cleaned  bool
}

// NewManager creates a session manager. bufferSize bounds each session's
// in-memory event ring.
func NewManager(bufferSize int, logger logging.Logger) *Manager {
	return &Manager{
		bufferSize: bufferSize,
		logger:     logging.OrNop(logger),
		now:        time.Now,
		sessions:   make(map[string]*entry),
	}
}

// Create registers a session in state Created. A duplicate id is an error.
func (m *Manager) Create(id string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("session %s already exists", id)
	}
	m.sessions[id] = &entry{
		snap: Snapshot{
			ID:        id,
			Kind:      kind,
			Status:    StatusCreated,
			CreatedAt: m.now(),
		},
		bus:    events.NewBus(id, m.bufferSize, m.logger),
		cancel: make(chan struct{}),
	}
	return nil
}

func (m *Manager) entry(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// AttachLog wires the NDJSON mirror into the session's bus. The writer is
// closed by the cleanup hook after the terminal transition.
func (m *Manager) AttachLog(id string, writer *events.LogWriter) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.writer = writer
	e.mu.Unlock()
	e.bus.SetMirror(writer)
	return nil
}

// Start transitions Created → Started and emits session_started.
func (m *Manager) Start(id string) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.snap.Status != StatusCreated {
		e.mu.Unlock()
		return fmt.Errorf("session %s cannot start from %s", id, e.snap.Status)
	}
	now := m.now()
	e.snap.Status = StatusStarted
	e.snap.StartedAt = &now
	e.mu.Unlock()

	e.bus.Publish(events.SessionStarted, map[string]any{"kind": string(m.kind(e))})
	return nil
}

func (m *Manager) kind(e *entry) Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Kind
}

// Emit publishes an event on the session's bus (and through it, the log
// mirror). Emitting on a terminal session is a silent no-op.
func (m *Manager) Emit(id string, evtType events.Type, payload map[string]any) {
	e, err := m.entry(id)
	if err != nil {
		m.logger.Warn("emit %s on unknown session %s", evtType, id)
		return
	}
	e.bus.Publish(evtType, payload)
}

// Subscribe returns the session's event stream starting at sequence 0 (as far
// as the in-memory buffer reaches). Unknown ids return ErrNotFound so the
// caller can fall back to tailing the log file.
func (m *Manager) Subscribe(id string) (<-chan events.Event, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	return e.bus.Subscribe(), nil
}

// Status returns a snapshot view of the session.
func (m *Manager) Status(id string) (Snapshot, error) {
	e, err := m.entry(id)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, nil
}

// Cancel marks the cancellation token. The orchestrator observes it at safe
// points and performs the terminal transition itself, so a terminal event is
// always emitted. Cancelling a terminal or unknown session is a no-op.
func (m *Manager) Cancel(id string) {
	e, err := m.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canceled || e.snap.Status.IsTerminal() {
		return
	}
	e.canceled = true
	close(e.cancel)
}

// Cancelled reports whether cancellation was requested.
func (m *Manager) Cancelled(id string) bool {
	e, err := m.entry(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled
}

// CancelChan returns a channel closed when cancellation is requested. Unknown
// ids return a nil channel (blocks forever).
func (m *Manager) CancelChan(id string) <-chan struct{} {
	e, err := m.entry(id)
	if err != nil {
		return nil
	}
	return e.cancel
}

// SetProgress updates the progress fields. Progress is clamped monotone
// non-decreasing.
func (m *Manager) SetProgress(id string, progress, currentStep, totalSteps int) {
	e, err := m.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if progress > e.snap.Progress {
		if progress > 100 {
			progress = 100
		}
		e.snap.Progress = progress
	}
	e.snap.CurrentStep = currentStep
	e.snap.TotalSteps = totalSteps
}

// SetScriptID records the script produced by or replayed in this session.
func (m *Manager) SetScriptID(id, scriptID string) {
	e, err := m.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.snap.ScriptID = scriptID
	e.mu.Unlock()
}

// SetCleanup installs the hook invoked exactly once on the terminal
// transition. The manager's default cleanup (closing the log writer) always
// runs; this hook runs before it.
func (m *Manager) SetCleanup(id string, fn func()) {
	e, err := m.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.cleanup = fn
	e.mu.Unlock()
}

// Complete performs the terminal transition from any non-terminal state,
// emits exactly one terminal event, and fires the cleanup hook once.
// Re-entering a terminal state is a silent no-op.
func (m *Manager) Complete(id string, outcome Outcome, errMsg string) {
	e, err := m.entry(id)
	if err != nil {
		return
	}

	e.mu.Lock()
	if e.snap.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	now := m.now()
	e.snap.CompletedAt = &now
	var evtType events.Type
	switch outcome {
	case OutcomeCompleted:
		e.snap.Status = StatusCompleted
		e.snap.Progress = 100
		evtType = events.SessionCompleted
	case OutcomeCancelled:
		e.snap.Status = StatusCancelled
		evtType = events.SessionCancelled
	default:
		e.snap.Status = StatusFailed
		e.snap.Error = errMsg
		evtType = events.SessionFailed
	}
	cleanup := e.cleanup
	writer := e.writer
	cleaned := e.cleaned
	e.cleaned = true
	e.mu.Unlock()

	payload := map[string]any{}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	e.bus.Publish(evtType, payload)

	if cleaned {
		return
	}
	if cleanup != nil {
		m.runCleanup(id, cleanup)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			m.logger.Warn("close event log for %s: %v", id, err)
		}
	}
}

// runCleanup isolates panics in the cleanup hook, mirroring the subscriber
// isolation rule.
func (m *Manager) runCleanup(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cleanup hook for %s panicked: %v", id, r)
		}
	}()
	fn()
}

// Remove drops a terminal session from the registry. Non-terminal sessions
// are kept.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return
	}
	e.mu.Lock()
	terminal := e.snap.Status.IsTerminal()
	e.mu.Unlock()
	if terminal {
		delete(m.sessions, id)
	}
}

// List returns snapshots of all registered sessions.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, e := range m.sessions {
		e.mu.Lock()
		out = append(out, e.snap)
		e.mu.Unlock()
	}
	return out
}
