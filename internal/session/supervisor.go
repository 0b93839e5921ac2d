package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	maxLineSize            = 1024 * 1024 // 1 MB
	defaultGracefulTimeout = 5 * time.Second
)

// DefaultCommand is the assistant executable launched for each session.
const DefaultCommand = "claude"

// SupervisorConfig describes how assistant processes are launched.
type SupervisorConfig struct {
	// Command is the executable, resolved through PATH.
	Command string
	// Args precede the project identifier, which is always the last argument.
	Args []string
	// Dir is the working directory of the child; empty means inherit.
	Dir string
	// Env entries are appended to the current environment.
	Env []string

	BufferCapacity  int
	GracefulTimeout time.Duration

	// Classifier defaults to Classify.
	Classifier Classifier
}

// Supervisor launches assistant processes and wires their I/O pumps.
type Supervisor struct {
	cfg  SupervisorConfig
	sink EventSink
	log  *slog.Logger
}

// NewSupervisor creates a supervisor. A nil sink discards events and a nil
// logger discards logs.
func NewSupervisor(cfg SupervisorConfig, sink EventSink, logger *slog.Logger) *Supervisor {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.Classifier == nil {
		cfg.Classifier = Classify
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{cfg: cfg, sink: sink, log: logger}
}

// Process is one supervised assistant process. Its four tasks (input
// writer, stdout reader, stderr reader, exit waiter) run as a single
// group started by Supervise.
type Process struct {
	id    string
	grace time.Duration

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	input    *inputQueue
	buffer   *OutputBuffer
	classify Classifier
	sink     EventSink
	log      *slog.Logger

	mu       sync.Mutex
	status   Status
	exited   bool
	exitCode int

	group errgroup.Group
	once  sync.Once
	done  chan struct{}
}

// Spawn launches the assistant for projectID. The returned process has not
// started pumping yet; call Supervise once the caller is ready to receive
// its events.
func (s *Supervisor) Spawn(id, projectID string) (*Process, error) {
	// The id is passed as a positional argument and must not parse as a flag.
	if projectID == "" || strings.HasPrefix(projectID, "-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}

	binary, err := exec.LookPath(s.cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH: %v", ErrSpawn, s.cfg.Command, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := append(append([]string(nil), s.cfg.Args...), projectID)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	// Interrupt first; Wait escalates to kill after WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.cfg.GracefulTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create stdin pipe: %v", ErrSpawn, err)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		stdin.Close()
		return nil, fmt.Errorf("%w: create stdout pipe: %v", ErrSpawn, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		cancel()
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("%w: create stderr pipe: %v", ErrSpawn, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		cancel()
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrSpawn, binary, err)
	}

	// The child holds its own copies; closing ours lets the readers see EOF
	// when it exits.
	stdoutW.Close()
	stderrW.Close()

	s.log.Info("session process started",
		"session_id", id,
		"project_id", projectID,
		"pid", cmd.Process.Pid,
	)

	return &Process{
		id:       id,
		grace:    s.cfg.GracefulTimeout,
		cmd:      cmd,
		cancel:   cancel,
		stdin:    stdin,
		stdout:   stdoutR,
		stderr:   stderrR,
		input:    newInputQueue(),
		buffer:   NewOutputBuffer(s.cfg.BufferCapacity),
		classify: s.cfg.Classifier,
		sink:     s.sink,
		log:      s.log.With("session_id", id, "project_id", projectID),
		status:   StatusIdle,
		done:     make(chan struct{}),
	}, nil
}

// Supervise starts the process's task group. onExit, if non-nil, runs on
// the exit-waiter task after session-completed has been emitted.
// Calls after the first are no-ops.
func (p *Process) Supervise(onExit func(*Process)) {
	p.once.Do(func() {
		var readers sync.WaitGroup
		readers.Add(2)

		p.group.Go(p.pumpInput)
		p.group.Go(func() error {
			defer readers.Done()
			return p.pumpOutput(p.stdout, SourceStdout)
		})
		p.group.Go(func() error {
			defer readers.Done()
			return p.pumpOutput(p.stderr, SourceStderr)
		})
		p.group.Go(func() error {
			return p.awaitExit(&readers, onExit)
		})

		go func() {
			if err := p.group.Wait(); err != nil {
				p.log.Warn("session task failed", "error", err)
			}
			close(p.done)
		}()
	})
}

// pumpInput writes queued input to the child's stdin, one line per item.
func (p *Process) pumpInput() error {
	defer p.stdin.Close()

	for {
		text, ok := p.input.Pop()
		if !ok {
			return nil
		}
		if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
			p.input.Close()
			return fmt.Errorf("write stdin: %w", err)
		}
	}
}

// pumpOutput reads lines from one stream until EOF.
func (p *Process) pumpOutput(r *os.File, src Source) error {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		p.handleLine(scanner.Text(), src)
	}

	err := scanner.Err()
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read %s: %w", src, err)
	}
	return nil
}

func (p *Process) handleLine(text string, src Source) {
	now := time.Now().UTC()

	if src == SourceStdout {
		p.observe(text)
	}

	p.buffer.Append(OutputLine{Timestamp: now, Text: text, Source: src})
	p.sink.Notify(TopicSessionOutput, OutputEvent{
		SessionID: p.id,
		Line:      text,
		Timestamp: now,
		Source:    src,
	})
}

// observe applies a classified line to the session status. Idle signals
// never move the status; any other signal that differs from the current
// status is recorded and announced once.
func (p *Process) observe(text string) {
	next := p.classify(text)
	if next == StatusIdle {
		return
	}

	p.mu.Lock()
	if next == p.status {
		p.mu.Unlock()
		return
	}
	p.status = next
	p.mu.Unlock()

	p.sink.Notify(TopicSessionStateChanged, StateChangedEvent{SessionID: p.id, State: next})
}

func (p *Process) awaitExit(readers *sync.WaitGroup, onExit func(*Process)) error {
	waitErr := p.cmd.Wait()
	p.drainReaders(readers)
	p.input.Close()
	p.cancel()

	code := exitCode(p.cmd, waitErr)

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()

	p.log.Info("session process exited", "exit_code", code)
	p.sink.Notify(TopicSessionCompleted, CompletedEvent{SessionID: p.id, ExitCode: code})

	if onExit != nil {
		onExit(p)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, context.Canceled) {
		return fmt.Errorf("wait: %w", waitErr)
	}
	return nil
}

// drainReaders waits for both output readers to reach EOF. Descendants of
// the child may inherit its stdout and stderr and keep them open after the
// child is gone, so the readers are cut off once the graceful timeout
// passes.
func (p *Process) drainReaders(readers *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		readers.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	p.log.Warn("output pipes still open after exit, closing readers", "timeout", p.grace)
	now := time.Now()
	_ = p.stdout.SetReadDeadline(now)
	_ = p.stderr.SetReadDeadline(now)
	<-done
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Write queues text for the child's stdin.
func (p *Process) Write(text string) error {
	return p.input.Push(text)
}

// Stop asks the process to exit: input is closed, the child is interrupted,
// and killed if it is still running after the graceful timeout. Stop does
// not wait; use Done or Wait for that.
func (p *Process) Stop() {
	p.input.Close()
	p.cancel()
}

// discard stops a process whose tasks were never started and waits for it.
func (p *Process) discard() {
	p.input.Close()
	p.stdin.Close()
	p.cancel()
	_ = p.cmd.Wait()
	p.stdout.Close()
	p.stderr.Close()
	close(p.done)
}

// Done is closed once every task of the process has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until Done is closed or ctx expires.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) ID() string            { return p.id }
func (p *Process) Buffer() *OutputBuffer { return p.buffer }

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Exited reports whether the process has exited and, if so, its exit code.
func (p *Process) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}
