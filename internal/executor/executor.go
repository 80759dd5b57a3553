package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a timed-out child gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Outcome is what a finished command produced. It is filled as far as
// possible even when Execute returns an error.
type Outcome struct {
	Program  string        `json:"program"`
	Args     []string      `json:"args"`
	PID      int           `json:"pid,omitempty"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor runs a command without a shell, mirroring its output to the
// parent's streams while also capturing it.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	GracePeriod  time.Duration
	RelaySignals bool
	Logger       *zap.Logger
}

// New returns an Executor wired to the process's own stdio with signal relay on.
func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		GracePeriod:  DefaultGracePeriod,
		RelaySignals: true,
		Logger:       logger,
	}
}

// SplitCommand splits on whitespace. No shell syntax is interpreted.
func SplitCommand(command string) (string, []string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// Execute runs command and waits for it. timeout <= 0 means no limit.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) (Outcome, error) {
	program, args, ok := SplitCommand(command)
	if !ok {
		return Outcome{ExitCode: -1}, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	out := Outcome{Program: program, Args: args, ExitCode: -1}
	log := e.log().With(zap.String("program", program))

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var stdout, stderr lockedBuffer
	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Stdin = e.Stdin
	cmd.Stdout = tee(&stdout, e.Stdout)
	cmd.Stderr = tee(&stderr, e.Stderr)
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = e.grace()

	// Signals are caught from before the spawn so none can hit this process
	// with the default action while the child is already running.
	var sigs chan os.Signal
	if e.RelaySignals {
		sigs = make(chan os.Signal, 4)
		signal.Notify(sigs, relayedSignals...)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if sigs != nil {
			signal.Stop(sigs)
		}
		log.Warn("command_spawn_failed", zap.Error(err))
		return out, fmt.Errorf("%w: %s: %w", ErrSpawn, program, err)
	}
	out.PID = cmd.Process.Pid
	log.Info("command_started", zap.Int("pid", out.PID), zap.Strings("args", args), zap.Duration("timeout", timeout))

	if sigs != nil {
		stop := relaySignals(sigs, cmd.Process, log)
		defer stop()
	}

	waitErr := cmd.Wait()
	out.Duration = time.Since(start)
	out.Stdout = strings.TrimSpace(stdout.String())
	out.Stderr = strings.TrimSpace(stderr.String())
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr == nil {
		log.Info("command_completed", zap.Duration("duration", out.Duration))
		return out, nil
	}

	// The child exited cleanly but something it started still holds the
	// output pipes. Its exit status is what counts.
	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() && runCtx.Err() == nil {
		log.Warn("command_output_still_open", zap.Duration("waited", e.grace()), zap.Int("pid", out.PID))
		return out, nil
	}

	if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn("command_timeout", zap.Duration("timeout", timeout), zap.Int("pid", out.PID))
		return out, &TimeoutError{After: timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if sig, ok := signalName(exitErr); ok {
			log.Warn("command_signaled", zap.String("signal", sig))
			if ctx.Err() != nil {
				return out, fmt.Errorf("%w: %w", &SignalError{Signal: sig}, ctx.Err())
			}
			return out, &SignalError{Signal: sig}
		}
		log.Info("command_exited", zap.Int("exit_code", exitErr.ExitCode()))
		return out, &ExitError{Code: exitErr.ExitCode()}
	}
	if cmd.ProcessState != nil && !cmd.ProcessState.Success() {
		return out, &ExitError{Code: out.ExitCode}
	}
	// Wait failed without an exit status of its own (e.g. copying stdin or
	// output broke). The command did not run to a usable result.
	log.Warn("command_wait_failed", zap.Error(waitErr))
	return out, fmt.Errorf("%w: wait for %s: %w", ErrSpawn, program, waitErr)
}

func (e *Executor) grace() time.Duration {
	if e.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return e.GracePeriod
}

func (e *Executor) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// lockedBuffer guards captured output: after WaitDelay expires, exec returns
// while its copy goroutines may still be finishing a write.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func tee(buf *lockedBuffer, mirror io.Writer) io.Writer {
	if mirror == nil {
		return buf
	}
	return io.MultiWriter(buf, mirror)
}

// relaySignals forwards signals arriving on ch (already registered with
// signal.Notify, possibly queued before p started) to p until the returned
// stop func is called.
func relaySignals(ch chan os.Signal, p *os.Process, log *zap.Logger) (stop func()) {
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case sig := <-ch:
				log.Info("signal_relayed", zap.String("signal", sig.String()), zap.Int("pid", p.Pid))
				if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
					log.Warn("signal_relay_failed", zap.String("signal", sig.String()), zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
		wg.Wait()
	}
}
