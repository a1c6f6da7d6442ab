package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// ExitEvent reports an encoder process leaving its slot. Requested is true
// when the exit was triggered by Stop or StopAll; Detail carries the last
// recognised failure line from stderr, when any was seen.
type ExitEvent struct {
	Slot      string
	Err       error
	Requested bool
	Detail    string
}

type processState struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	done      chan struct{}
	requested bool
	stderr    *logWriter
}

// Supervisor owns one external encoder process per slot. Exits are delivered
// asynchronously to the configured handler, including exits the supervisor
// itself requested.
type Supervisor struct {
	mu        sync.Mutex
	logger    *slog.Logger
	binary    string
	onExit    func(ExitEvent)
	processes map[string]*processState
}

// SupervisorOption tweaks supervisor construction.
type SupervisorOption func(*Supervisor)

// WithBinary overrides the encoder binary (default "ffmpeg").
func WithBinary(binary string) SupervisorOption {
	return func(s *Supervisor) {
		if binary != "" {
			s.binary = binary
		}
	}
}

// NewSupervisor constructs a Supervisor. onExit may be nil when the caller
// does not care about exits.
func NewSupervisor(logger *slog.Logger, onExit func(ExitEvent), opts ...SupervisorOption) *Supervisor {
	sup := &Supervisor{
		logger:    logger,
		binary:    "ffmpeg",
		onExit:    onExit,
		processes: make(map[string]*processState),
	}
	for _, opt := range opts {
		opt(sup)
	}
	return sup
}

// SetExitHandler installs the exit callback after construction. It must be
// called before the first Start.
func (s *Supervisor) SetExitHandler(onExit func(ExitEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = onExit
}

// Start launches the encoder in the named slot. A slot can hold at most one
// process.
func (s *Supervisor) Start(ctx context.Context, slot string, args []string) error {
	if slot == "" {
		return fmt.Errorf("slot is required")
	}

	s.mu.Lock()
	if _, exists := s.processes[slot]; exists {
		s.mu.Unlock()
		return fmt.Errorf("slot %s already active", slot)
	}
	// Reserve the slot before the process starts so concurrent Starts race
	// on the map, not on exec.
	placeholder := &processState{}
	s.processes[slot] = placeholder
	s.mu.Unlock()

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.binary, args...)
	stderr := newLogWriter(s.logger, slot, "stderr")
	cmd.Stdout = newLogWriter(s.logger, slot, "stdout")
	cmd.Stderr = stderr

	if err := ctx.Err(); err != nil {
		cancel()
		s.removeSlot(slot)
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		s.removeSlot(slot)
		return fmt.Errorf("start %s: %w", s.binary, err)
	}

	proc := &processState{cmd: cmd, cancel: cancel, done: make(chan struct{}), stderr: stderr}
	s.mu.Lock()
	s.processes[slot] = proc
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("encoder started", "slot", slot, "pid", cmd.Process.Pid)
	}

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		requested := proc.requested
		delete(s.processes, slot)
		onExit := s.onExit
		s.mu.Unlock()

		if s.logger != nil {
			if err != nil && !requested {
				s.logger.Error("encoder exited", "slot", slot, "error", err)
			} else {
				s.logger.Info("encoder stopped", "slot", slot)
			}
		}
		if onExit != nil {
			onExit(ExitEvent{Slot: slot, Err: err, Requested: requested, Detail: proc.stderr.LastFailure()})
		}
		cancel()
		close(proc.done)
	}()
	return nil
}

func (s *Supervisor) removeSlot(slot string) {
	s.mu.Lock()
	delete(s.processes, slot)
	s.mu.Unlock()
}

// Stop terminates the slot's process and waits for it to exit, honouring the
// context deadline. Stopping an empty slot is a no-op.
func (s *Supervisor) Stop(ctx context.Context, slot string) error {
	s.mu.Lock()
	proc, ok := s.processes[slot]
	if ok {
		proc.requested = true
	}
	s.mu.Unlock()
	if !ok || proc.cancel == nil {
		return nil
	}

	proc.cancel()
	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for slot %s to stop: %w", slot, ctx.Err())
	}
}

// StopAll terminates every active slot, returning the first wait error.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var firstErr error
	for _, slot := range s.ActiveSlots() {
		if err := s.Stop(ctx, slot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsActive reports whether the slot currently holds a process.
func (s *Supervisor) IsActive(slot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processes[slot]
	return ok
}

// ActiveSlots lists occupied slots in stable order.
func (s *Supervisor) ActiveSlots() []string {
	s.mu.Lock()
	slots := make([]string, 0, len(s.processes))
	for slot := range s.processes {
		slots = append(slots, slot)
	}
	s.mu.Unlock()
	sort.Strings(slots)
	return slots
}

// Failure patterns the encoder is known to print when a destination rejects
// the stream. Matching is advisory; the exit code remains authoritative.
var failurePatterns = []string{
	"Connection refused",
	"Connection timed out",
	"401 Unauthorized",
	"403 Forbidden",
	"Network is unreachable",
	"Broken pipe",
}

type logWriter struct {
	logger *slog.Logger
	slot   string
	stream string

	mu          sync.Mutex
	lastFailure string
}

func newLogWriter(logger *slog.Logger, slot, stream string) *logWriter {
	return &logWriter{logger: logger, slot: slot, stream: stream}
}

// LastFailure returns the most recent line that matched a known failure
// pattern, or "".
func (w *logWriter) LastFailure() string {
	if w == nil {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFailure
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		text := string(line)
		for _, pattern := range failurePatterns {
			if bytes.Contains(line, []byte(pattern)) {
				w.mu.Lock()
				w.lastFailure = text
				w.mu.Unlock()
				break
			}
		}
		if w.logger != nil {
			w.logger.Debug("encoder output", "slot", w.slot, "stream", w.stream, "line", text)
		}
	}
	return total, nil
}

// waitTimeout is a helper for callers that want a bounded Stop without
// plumbing their own context.
func waitTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
