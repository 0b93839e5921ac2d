package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSessions is the admission cap on concurrently registered sessions.
const DefaultMaxSessions = 5

// RegistryConfig tunes admission and exit handling.
type RegistryConfig struct {
	MaxSessions int
	// ReapOnExit removes a session from the registry when its process exits
	// on its own. When false the record stays, with Running=false, until it
	// is terminated explicitly.
	ReapOnExit bool
}

// Registry is the table of active sessions. It is the only component
// allowed to insert or remove sessions.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	maxSessions int
	reapOnExit  bool

	supervisor *Supervisor
	sink       EventSink
	log        *slog.Logger

	// stopping tracks processes that were terminated but may still be
	// running their tasks. Once closed is set under mu, nothing is added.
	stopping sync.WaitGroup
	closed   bool
}

type entry struct {
	id        string
	projectID string
	createdAt time.Time
	proc      *Process // nil while the slot is reserved but not launched
}

// NewRegistry creates a registry that launches processes with supervisor.
func NewRegistry(cfg RegistryConfig, supervisor *Supervisor, sink EventSink, logger *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		sessions:    make(map[string]*entry),
		maxSessions: cfg.MaxSessions,
		reapOnExit:  cfg.ReapOnExit,
		supervisor:  supervisor,
		sink:        sink,
		log:         logger,
	}
}

// Spawn admits a new session for projectID and launches its process.
// The slot is reserved before launching and released again if the launch
// fails, so a failed spawn leaves the table unchanged.
func (r *Registry) Spawn(projectID string) (string, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: limit is %d", ErrAdmission, r.maxSessions)
	}
	e := &entry{id: id, projectID: projectID, createdAt: createdAt}
	r.sessions[id] = e
	r.mu.Unlock()

	proc, err := r.supervisor.Spawn(id, projectID)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.log.Warn("session spawn failed", "session_id", id, "project_id", projectID, "error", err)
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		// Shutdown began while launching; it cannot see this process.
		delete(r.sessions, id)
		r.mu.Unlock()
		proc.discard()
		return "", ErrClosed
	}
	// Publish, announce and start under the lock so no Terminate or
	// Shutdown can act on the session before session-created is out.
	e.proc = proc
	r.sink.Notify(TopicSessionCreated, CreatedEvent{SessionID: id, ProjectID: projectID})
	proc.Supervise(r.handleExit)
	r.mu.Unlock()

	r.log.Info("session created", "session_id", id, "project_id", projectID)
	return id, nil
}

// handleExit runs on a process's exit-waiter task.
func (r *Registry) handleExit(p *Process) {
	if !r.reapOnExit {
		return
	}

	r.mu.Lock()
	e, ok := r.sessions[p.ID()]
	if !ok || e.proc != p {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, p.ID())
	r.mu.Unlock()

	r.log.Info("session reaped after exit", "session_id", p.ID())
	r.sink.Notify(TopicSessionTerminated, TerminatedEvent{SessionID: p.ID()})
}

// Terminate removes a session and signals its process to stop. It does not
// wait for the process to exit.
func (r *Registry) Terminate(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.proc == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	r.stopping.Add(1)
	r.mu.Unlock()

	r.stop(e)
	return nil
}

// stop announces and stops a session already removed from the table. The
// caller must have added it to r.stopping.
func (r *Registry) stop(e *entry) {
	r.sink.Notify(TopicSessionTerminated, TerminatedEvent{SessionID: e.id})

	e.proc.Stop()
	go func() {
		defer r.stopping.Done()
		<-e.proc.Done()
	}()

	r.log.Info("session terminated", "session_id", e.id)
}

// List returns a summary of every launched session, in no particular order.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	procs := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.proc != nil {
			procs = append(procs, e)
		}
	}
	r.mu.Unlock()

	result := make([]Summary, 0, len(procs))
	for _, e := range procs {
		result = append(result, e.summary())
	}
	return result
}

// Get returns the summary of one session.
func (r *Registry) Get(id string) (Summary, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return e.summary(), nil
}

// Output returns a snapshot of a session's buffered output.
func (r *Registry) Output(id string) ([]OutputLine, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.proc.Buffer().Snapshot(), nil
}

// WriteInput queues text for a session's stdin.
func (r *Registry) WriteInput(id, text string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := e.proc.Write(text); err != nil {
		return fmt.Errorf("%w: %s", err, id)
	}
	return nil
}

// Len returns the number of occupied slots, including reserved ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown terminates every session and waits for their tasks to finish
// or ctx to expire. Spawn fails with ErrClosed afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	stopped := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.proc != nil {
			delete(r.sessions, id)
			r.stopping.Add(1)
			stopped = append(stopped, e)
		}
	}
	r.mu.Unlock()

	for _, e := range stopped {
		r.stop(e)
	}

	done := make(chan struct{})
	go func() {
		r.stopping.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.proc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (e *entry) summary() Summary {
	exited, code := e.proc.Exited()
	s := Summary{
		ID:          e.id,
		ProjectID:   e.projectID,
		Status:      e.proc.Status(),
		CreatedAt:   e.createdAt,
		OutputCount: e.proc.Buffer().Len(),
		Running:     !exited,
	}
	if exited {
		s.ExitCode = &code
	}
	return s
}
