// Package dump runs the external mongodump tool under a connection watchdog.
package dump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/imedwei/mongo-backup/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrConnectionTimeout is returned when the tool produced no output before
	// the connect timeout and was killed.
	ErrConnectionTimeout = errors.New("dump connection timeout")

	// ErrProcessFailed is returned when the tool could not be started or exited non-zero.
	ErrProcessFailed = errors.New("dump process failed")
)

// DefaultConnectTimeout is the watchdog window used when none is configured.
const DefaultConnectTimeout = 10 * time.Second

// Mode selects how the dump tool writes its output.
type Mode int

const (
	// ModeDirectory writes a directory tree to Source.OutputDir.
	ModeDirectory Mode = iota
	// ModeSelfArchive writes one gzip archive directly to the destination path.
	ModeSelfArchive
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ModeSelfArchive {
		return "archive"
	}
	return "directory"
}

// State is the lifecycle of one supervised dump.
type State int32

const (
	StateStarting State = iota
	StateConnecting
	StateRunning
	StateSucceeded
	StateKilled
	StateExitedNonZero
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateKilled:
		return "killed"
	case StateExitedNonZero:
		return "exited_non_zero"
	default:
		return "unknown"
	}
}

// Source identifies what to dump and with which binary.
type Source struct {
	URI        string
	BinaryPath string
	ExtraArgs  []string
	OutputDir  string // used by ModeDirectory
}

// Supervisor launches the dump tool and watches it.
type Supervisor struct {
	connectTimeout time.Duration
	logger         *slog.Logger
	lastState      atomic.Int32
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConnectTimeout sets the window in which the first output line must arrive.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a new Supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the final state of the most recent Run.
func (s *Supervisor) State() State {
	return State(s.lastState.Load())
}

// Args builds the tool arguments for a run.
func Args(src Source, mode Mode, dest string) []string {
	args := []string{"--uri=" + src.URI}
	if mode == ModeSelfArchive {
		args = append(args, "--archive="+dest, "--gzip")
	} else {
		args = append(args, "--out="+src.OutputDir)
	}
	return append(args, src.ExtraArgs...)
}

// Run executes one dump. It returns nil when the tool exits with code 0,
// ErrConnectionTimeout when the watchdog killed it and ErrProcessFailed otherwise.
func (s *Supervisor) Run(ctx context.Context, src Source, mode Mode, dest string) error {
	r := &run{logger: s.logger.With("component", "mongodump")}
	r.state.Store(int32(StateStarting))
	defer func() { s.lastState.Store(r.state.Load()) }()

	if mode == ModeDirectory {
		// Stale collections from an earlier run must not end up in the archive.
		if err := os.RemoveAll(src.OutputDir); err != nil {
			r.state.Store(int32(StateExitedNonZero))
			return fmt.Errorf("%w: failed to clear output directory %s: %w", ErrProcessFailed, src.OutputDir, err)
		}
	}

	// #nosec G204 -- binary and arguments come from operator configuration
	cmd := exec.CommandContext(ctx, src.BinaryPath, Args(src, mode, dest)...)
	isolate(cmd)
	cmd.Cancel = func() error { return killTree(cmd.Process) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.state.Store(int32(StateExitedNonZero))
		return fmt.Errorf("%w: failed to create stdout pipe: %w", ErrProcessFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.state.Store(int32(StateExitedNonZero))
		return fmt.Errorf("%w: failed to create stderr pipe: %w", ErrProcessFailed, err)
	}

	s.logger.Info("Starting mongodump",
		"binary", src.BinaryPath,
		"uri", RedactURI(src.URI),
		"mode", mode.String(),
		"connect_timeout", s.connectTimeout,
	)

	if err := cmd.Start(); err != nil {
		r.state.Store(int32(StateExitedNonZero))
		return fmt.Errorf("%w: failed to start %s: %w", ErrProcessFailed, src.BinaryPath, err)
	}

	r.state.Store(int32(StateConnecting))
	r.watchdog = time.AfterFunc(s.connectTimeout, func() {
		// Only one of watchdog and first output can leave Connecting.
		if r.state.CompareAndSwap(int32(StateConnecting), int32(StateKilled)) {
			_ = killTree(cmd.Process)
		}
	})
	defer r.watchdog.Stop()

	var g errgroup.Group
	g.Go(func() error { return r.stream(stdout) })
	g.Go(func() error { return r.stream(stderr) })
	_ = g.Wait()

	waitErr := cmd.Wait()

	// Leave Connecting so a late timer cannot kill after a natural exit.
	r.state.CompareAndSwap(int32(StateConnecting), int32(StateRunning))
	r.watchdog.Stop()

	if State(r.state.Load()) == StateKilled {
		metrics.DumpConnectionTimeouts.Inc()
		s.logger.Error("Mongodump could not establish connection to database in time",
			"connect_timeout", s.connectTimeout,
			"exit_code", cmd.ProcessState.ExitCode(),
		)
		return fmt.Errorf("%w: no output within %s", ErrConnectionTimeout, s.connectTimeout)
	}

	if waitErr != nil {
		r.state.Store(int32(StateExitedNonZero))
		s.logger.Error("Mongodump failed", "exit_code", cmd.ProcessState.ExitCode(), "error", waitErr)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrProcessFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %w", ErrProcessFailed, waitErr)
	}

	r.state.Store(int32(StateSucceeded))
	s.logger.Info("Mongodump succeeded")
	return nil
}

// run holds the per-invocation state shared by the readers and the watchdog.
type run struct {
	state    atomic.Int32
	watchdog *time.Timer
	logger   *slog.Logger
}

// connected disarms the watchdog on the first output line. Safe to call repeatedly.
func (r *run) connected() {
	if r.state.CompareAndSwap(int32(StateConnecting), int32(StateRunning)) {
		r.watchdog.Stop()
	}
}

func (r *run) stream(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		r.connected()
		r.logger.Info(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		r.logger.Warn("Failed to read mongodump output", "error", err)
		// Keep draining so the tool never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, rd)
	}

	return nil
}
