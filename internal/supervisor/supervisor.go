// Package supervisor owns the lifecycle of the local backend process: it
// spawns it, logs its output, gates startup on readiness and tears it down.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultShutdownGrace is how long Shutdown waits after the termination
// signal before killing the process.
const DefaultShutdownGrace = 5 * time.Second

// ErrAlreadyRunning is returned by Start while a backend process is owned.
var ErrAlreadyRunning = errors.New("backend process already running")

// Config describes the backend command.
type Config struct {
	ExecutablePath string
	Args           []string
	Env            []string // appended to the current environment
	Dir            string
	ShutdownGrace  time.Duration
}

// BackendProcess is one spawned backend.
type BackendProcess struct {
	Path string
	Args []string

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	alive    bool
	exitCode int
	exited   bool
}

// Alive reports whether the process is still running.
func (p *BackendProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// ExitCode returns the exit code once the process has terminated.
func (p *BackendProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Done is closed when the process has terminated or failed to spawn.
func (p *BackendProcess) Done() <-chan struct{} {
	return p.done
}

// PID returns the OS process id, or 0 if the process never started.
func (p *BackendProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *BackendProcess) setExited(code int) {
	p.mu.Lock()
	p.alive = false
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

// Supervisor owns at most one backend process.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	proc *BackendProcess
}

// New creates a Supervisor for cfg.
func New(cfg Config, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.ExecutablePath == "" {
		return nil, fmt.Errorf("executable path cannot be empty")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Supervisor{cfg: cfg, logger: logger}, nil
}

// Start spawns the backend. A process that cannot be spawned is not an
// error here: it is logged and reported as an exit with code -1, so the
// readiness wait keeps seeing an unreachable backend.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.proc.Alive() {
		return ErrAlreadyRunning
	}

	p := &BackendProcess{
		Path: s.cfg.ExecutablePath,
		Args: append([]string(nil), s.cfg.Args...),
		done: make(chan struct{}),
	}
	s.proc = p

	cmd := exec.Command(s.cfg.ExecutablePath, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Dir = s.cfg.Dir
	setProcessGroup(cmd)

	s.logger.Info("starting backend", "command", s.cfg.ExecutablePath, "args", s.cfg.Args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.spawnFailed(p, fmt.Errorf("failed to create stdout pipe: %w", err))
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.spawnFailed(p, fmt.Errorf("failed to create stderr pipe: %w", err))
		return nil
	}

	if err := cmd.Start(); err != nil {
		s.spawnFailed(p, fmt.Errorf("failed to start backend process: %w", err))
		return nil
	}

	p.cmd = cmd
	p.alive = true
	s.logger.Info("backend started", "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.logOutput(&wg, stdout, "stdout")
	go s.logOutput(&wg, stderr, "stderr")

	go func() {
		// All pipe reads must finish before Wait.
		wg.Wait()
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		if err != nil {
			s.logger.Warn("backend exited", "pid", cmd.Process.Pid, "exit_code", code, "error", err)
		} else {
			s.logger.Info("backend exited", "pid", cmd.Process.Pid, "exit_code", code)
		}
		p.setExited(code)
	}()

	return nil
}

func (s *Supervisor) spawnFailed(p *BackendProcess, err error) {
	s.logger.Error("backend failed to spawn", "command", s.cfg.ExecutablePath, "error", err)
	p.setExited(-1)
}

// logOutput logs each line the backend writes; nothing is parsed.
func (s *Supervisor) logOutput(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if stream == "stderr" {
			s.logger.Warn("backend stderr", "message", scanner.Text())
		} else {
			s.logger.Info("backend stdout", "message", scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("error reading backend output", "stream", stream, "error", err)
	}
}

// Process returns the owned process, or nil.
func (s *Supervisor) Process() *BackendProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Running reports whether an owned process is alive.
func (s *Supervisor) Running() bool {
	p := s.Process()
	return p != nil && p.Alive()
}

// Shutdown terminates the owned process and clears the reference. It is a
// no-op when nothing is running and safe to call more than once.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p == nil || p.cmd == nil || !p.Alive() {
		return nil
	}

	s.logger.Info("stopping backend", "pid", p.PID())
	if err := terminate(p.cmd.Process); err != nil {
		s.logger.Warn("failed to signal backend", "pid", p.PID(), "error", err)
	}

	timer := time.NewTimer(s.cfg.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	s.logger.Warn("backend did not exit in time, killing", "pid", p.PID(), "grace", s.cfg.ShutdownGrace)
	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill backend: %w", err)
	}
	<-p.done
	return nil
}
