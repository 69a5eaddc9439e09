package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/botwire/botwire/internal/logging"
)

// SupervisorState is the lifecycle state of the stdio server child process.
type SupervisorState int

const (
	StateStopped SupervisorState = iota
	StateStarting
	StateRunning
	StateFailed
)

func (s SupervisorState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

// Supervisor runs the stdio server as a child process. The child's stderr is
// a stream of structured JSON log lines that get bridged into the host log.
type Supervisor struct {
	mu sync.Mutex

	binary string
	args   []string
	env    []string

	cmd      *exec.Cmd
	state    SupervisorState
	stopping bool
}

// NewSupervisor prepares a supervisor for the given command. Env entries are
// appended to the inherited environment.
func NewSupervisor(binary string, args []string, env map[string]string) *Supervisor {
	s := &Supervisor{binary: binary, args: args}
	for k, v := range env {
		s.env = append(s.env, fmt.Sprintf("%s=%s", k, v))
	}
	return s
}

// Start spawns the child process. Starting an already running supervisor is a
// no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarting || s.state == StateRunning {
		return nil
	}
	s.state = StateStarting
	s.stopping = false

	cmd := exec.Command(s.binary, s.args...)
	if len(s.env) > 0 {
		cmd.Env = append(cmd.Environ(), s.env...)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = StateFailed
		return err
	}

	if err := cmd.Start(); err != nil {
		s.state = StateFailed
		return err
	}
	s.cmd = cmd
	s.state = StateRunning
	logging.Info().Int("pid", cmd.Process.Pid).Str("binary", s.binary).Msg("mcp server started")

	go s.bridgeLogs(stderr)
	go s.wait(cmd)
	return nil
}

// wait reaps the child and records how it went.
func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd {
		return
	}
	s.cmd = nil
	if s.stopping {
		s.state = StateStopped
		logging.Info().Msg("mcp server stopped")
		return
	}
	s.state = StateFailed
	logging.Warn().Err(err).Msg("mcp server exited unexpectedly")
}

// Stop terminates the child process and waits briefly for it to exit.
func (s *Supervisor) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cmd := s.cmd
	s.stopping = true
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Kill()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		done := s.cmd != cmd
		s.mu.Unlock()
		if done {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// State returns the current lifecycle state. Safe on a nil supervisor.
func (s *Supervisor) State() SupervisorState {
	if s == nil {
		return StateStopped
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the child process is up. Safe on a nil supervisor.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// PID returns the child pid, or 0. Safe on a nil supervisor.
func (s *Supervisor) PID() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// bridgeLogs re-logs the child's stderr through the host logger. Lines are
// expected to be structured JSON entries; anything else is passed through at
// debug.
func (s *Supervisor) bridgeLogs(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logging.Debug().Str("line", line).Msg("mcp-server")
			continue
		}

		level, _ := entry["level"].(string)
		msg, _ := entry["message"].(string)
		if msg == "" {
			msg, _ = entry["msg"].(string)
		}
		ev := childLogEvent(level)
		for k, v := range entry {
			switch k {
			case "level", "message", "msg", "time":
			default:
				ev = ev.Any(k, v)
			}
		}
		ev.Str("source", "mcp-server").Msg(msg)
	}
}

func childLogEvent(level string) *zerolog.Event {
	switch strings.ToLower(level) {
	case "error", "fatal":
		return logging.Error()
	case "warn", "warning":
		return logging.Warn()
	case "info":
		return logging.Info()
	default:
		return logging.Debug()
	}
}
