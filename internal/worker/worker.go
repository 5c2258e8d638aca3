// Package worker implements the per-task worker: the scheduling loop,
// process execution, and output capture. Each worker is its own goroutine,
// independent of the dispatcher, generalizing bradfitz-runsit's
// Task.loop()/TaskInstance pattern in danga.com/runsit to a bitmap timing
// model instead of jsonconfig-driven always-on daemons.
package worker

import (
	"bytes"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"danga.com/saturnd/internal/clock"
	"danga.com/saturnd/internal/protocol"
)

// RunResult is what a Spawner reports back for one completed invocation.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode uint16
}

// Spawner starts a command and blocks until it exits, capturing its output.
// A non-nil error means the command could not even be started (a worker
// internal error such as spawn failure); the worker then records a run with
// protocol.SpawnFailureExitCode rather than tearing itself down.
type Spawner func(argv []string) (RunResult, error)

// DefaultSpawner runs argv as a child process via os/exec, capturing stdout
// and stderr in memory.
func DefaultSpawner(argv []string) (RunResult, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("starting %q: %w", argv[0], err)
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeFromState(cmd, waitErr)
	return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

func exitCodeFromState(cmd *exec.Cmd, waitErr error) uint16 {
	state := cmd.ProcessState
	if state == nil {
		return protocol.SpawnFailureExitCode
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return protocol.EncodeSignaled(int(ws.Signal()))
		}
		if ws.Exited() {
			return protocol.EncodeNormalExit(ws.ExitStatus())
		}
	}
	// Fallback for platforms where Sys() isn't a syscall.WaitStatus: exit code
	// alone, no signal information.
	return protocol.EncodeNormalExit(state.ExitCode())
}

// Worker runs one task's scheduling loop. It is created alive and transitions
// to not-alive exactly once, via Stop.
type Worker struct {
	clock  clock.Source
	logger *log.Logger
	spawn  Spawner

	mu    sync.Mutex // guards everything below
	task  protocol.Task
	runs  []protocol.Run
	lastStdout string
	lastStderr string

	stopc chan struct{}
	donec chan struct{}
	once  sync.Once
}

// New creates a worker for task and starts its scheduling loop in its own
// goroutine.
func New(task protocol.Task, clk clock.Source, logger *log.Logger, spawn Spawner) *Worker {
	if spawn == nil {
		spawn = DefaultSpawner
	}
	w := &Worker{
		clock:  clk,
		logger: logger,
		spawn:  spawn,
		task:   task,
		stopc:  make(chan struct{}),
		donec:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Task returns the (immutable) task descriptor this worker runs.
func (w *Worker) Task() protocol.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.task
}

// Runs returns a snapshot of the run log, oldest first.
func (w *Worker) Runs() []protocol.Run {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Run, len(w.runs))
	copy(out, w.runs)
	return out
}

// LastStdout returns the most recently completed run's captured stdout, and
// whether any run has completed yet.
func (w *Worker) LastStdout() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStdout, len(w.runs) > 0
}

// LastStderr returns the most recently completed run's captured stderr, and
// whether any run has completed yet.
func (w *Worker) LastStderr() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStderr, len(w.runs) > 0
}

// Stop flips the worker to not-alive, cooperatively: if sleeping, it wakes
// and exits without launching; if a child is in progress, Stop waits for
// loop() to finish awaiting it (best-effort join).
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stopc) })
	<-w.donec
}

func (w *Worker) logf(format string, args ...interface{}) {
	if w.logger == nil {
		return
	}
	id := w.Task().ID
	w.logger.Printf("task %d: %s", id, fmt.Sprintf(format, args...))
}

// loop is the scheduling loop: compute the next matching minute, sleep until
// it arrives (or a stop request), run the command on a match, record the
// run, and repeat. This is the direct generalization of bradfitz-runsit's
// Task.loop()/updateFromConfig pair, replacing "one long-lived subprocess,
// restarted on exit" with "one subprocess per matching minute".
func (w *Worker) loop() {
	defer close(w.donec)

	w.logf("starting, timing=%+v", w.Task().Timing)

	lastRanMinute := time.Time{}
	haveLastRan := false

	for {
		now := w.clock.Now()
		next, ok := nextMatchingMinute(w.Task().Timing, now, lastRanMinute, haveLastRan)
		if !ok {
			// No bit set in some dimension: never matches. Idle until
			// stopped.
			select {
			case <-w.stopc:
				w.logf("stopping (idle, no matching minute)")
				return
			}
		}

		select {
		case <-w.stopc:
			w.logf("stopping")
			return
		case woke := <-w.clock.After(next):
			current := truncateToMinute(woke)
			if current.Before(next) {
				// Spurious wakeup or the clock source woke us early;
				// recompute and keep waiting.
				continue
			}
			if !w.Task().Timing.Matches(current) {
				// Clock jumped past next without matching at the boundary
				// we computed for (e.g. a large jump) — recompute from
				// here instead of firing a stale match.
				continue
			}
			if haveLastRan && !current.After(lastRanMinute) {
				// Never run twice for the same minute, even on a late wake.
				continue
			}
			w.runOnce(current)
			lastRanMinute = current
			haveLastRan = true
		}
	}
}

func truncateToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// minutesPerWeek bounds the search in nextMatchingMinute: timing's match
// predicate is periodic with a one-week period (minute-of-hour, hour-of-day,
// day-of-week), so scanning one week of minutes is exhaustive.
const minutesPerWeek = 7 * 24 * 60

// nextMatchingMinute scans forward, one minute at a time, from the minute
// after `after` (or after lastRanMinute, whichever is later, so a task never
// fires twice for the same minute) for the first boundary matching timing.
// ok is false if timing matches no minute at all.
func nextMatchingMinute(timing protocol.Timing, after time.Time, lastRanMinute time.Time, haveLastRan bool) (time.Time, bool) {
	start := truncateToMinute(after)
	if haveLastRan && lastRanMinute.After(start) {
		start = lastRanMinute
	}
	candidate := start.Add(time.Minute)
	for i := 0; i < minutesPerWeek+1; i++ {
		if timing.Matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}

// runOnce executes the task's commandline for the matching minute at,
// captures its output, and appends a Run record. Spawn failures are
// recorded with protocol.SpawnFailureExitCode rather than propagated: a
// worker never tears itself down over a bad command.
func (w *Worker) runOnce(at time.Time) {
	argv := w.Task().Commandline
	w.logf("running %v", argv)

	result, err := w.spawn(argv)
	if err != nil {
		w.logf("spawn failed: %v", err)
		w.recordRun(protocol.Run{Time: uint64(at.Unix()), ExitCode: protocol.SpawnFailureExitCode}, "", "")
		return
	}
	w.logf("exited, code=0x%04x", result.ExitCode)
	w.recordRun(protocol.Run{Time: uint64(at.Unix()), ExitCode: result.ExitCode}, result.Stdout, result.Stderr)
}

// recordRun publishes a completed run's outputs and appends its record
// under a single lock, so the dispatcher's reads (Runs/LastStdout/
// LastStderr) never observe a partial string or a run whose exit code
// isn't set yet.
func (w *Worker) recordRun(run protocol.Run, stdout, stderr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastStdout = stdout
	w.lastStderr = stderr
	w.runs = append(w.runs, run)
}
