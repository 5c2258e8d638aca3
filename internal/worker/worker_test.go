package worker

import (
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"danga.com/saturnd/internal/clock"
	"danga.com/saturnd/internal/protocol"
)

func discardLogger() *log.Logger {
	return log.New(discardWriter{}, "", 0)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// countingSpawner counts invocations and always "succeeds" instantly,
// letting scheduling tests advance a virtual clock without forking real
// processes 60+ times.
type countingSpawner struct {
	mu    sync.Mutex
	calls []time.Time
	clk   clock.Source
}

func (s *countingSpawner) spawn(argv []string) (RunResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, s.clk.Now())
	s.mu.Unlock()
	return RunResult{ExitCode: protocol.EncodeNormalExit(0)}, nil
}

func (s *countingSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// waitForCount polls (real time, short interval) until the spawner has been
// called n times or the deadline passes.
func waitForCount(t *testing.T, s *countingSpawner, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d spawns, got %d", n, s.count())
}

func TestWorkerSchedulingProperty(t *testing.T) {
	// Minutes {4,5,45}, hour 0, all days of week. Stepping the virtual clock
	// minute-by-minute through [0,60] should produce exactly three runs.
	start := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC) // a Monday, hour 0
	vc := clock.NewVirtual(start)

	timing := protocol.Timing{
		Minutes:    1<<4 | 1<<5 | 1<<45,
		Hours:      1 << 0,
		DaysOfWeek: 0x7F, // all days
	}
	spawner := &countingSpawner{clk: vc}
	task := protocol.Task{ID: 1, Timing: timing, Commandline: []string{"/bin/true"}}
	w := New(task, vc, discardLogger(), spawner.spawn)
	defer w.Stop()

	for m := 0; m <= 60; m++ {
		vc.Set(start.Add(time.Duration(m) * time.Minute))
		time.Sleep(time.Millisecond) // let the worker goroutine observe the tick
	}
	waitForCount(t, spawner, 3)

	runs := w.Runs()
	require.Len(t, runs, 3)
	assert.Equal(t, uint64(start.Add(4*time.Minute).Unix()), runs[0].Time)
	assert.Equal(t, uint64(start.Add(5*time.Minute).Unix()), runs[1].Time)
	assert.Equal(t, uint64(start.Add(45*time.Minute).Unix()), runs[2].Time)
}

func TestWorkerNeverRunsWhenTimingEmpty(t *testing.T) {
	vc := clock.NewVirtual(time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	spawner := &countingSpawner{clk: vc}
	task := protocol.Task{ID: 1, Timing: protocol.Timing{}, Commandline: []string{"/bin/true"}}
	w := New(task, vc, discardLogger(), spawner.spawn)
	defer w.Stop()

	for i := 0; i < 120; i++ {
		vc.Advance(time.Minute)
	}
	time.Sleep(20 * time.Millisecond)

	_, ran := w.LastStdout()
	assert.False(t, ran)
	assert.Equal(t, 0, spawner.count())
}

func TestWorkerCapturesExitCode(t *testing.T) {
	vc := clock.NewVirtual(time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	task := protocol.Task{
		ID:          1,
		Timing:      protocol.Timing{Minutes: ^uint64(0), Hours: ^uint32(0) & 0xFFFFFF, DaysOfWeek: 0x7F},
		Commandline: []string{"/bin/sh", "-c", "exit 7"},
	}
	w := New(task, vc, discardLogger(), DefaultSpawner)
	defer w.Stop()

	vc.Advance(time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(w.Runs()) == 0 {
		time.Sleep(time.Millisecond)
	}

	runs := w.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, protocol.EncodeNormalExit(7), runs[0].ExitCode)
}

func TestWorkerStopIsIdempotentAndJoins(t *testing.T) {
	vc := clock.NewVirtual(time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC))
	task := protocol.Task{ID: 1, Timing: protocol.Timing{}, Commandline: []string{"/bin/true"}}
	w := New(task, vc, discardLogger(), (&countingSpawner{clk: vc}).spawn)
	w.Stop()
	w.Stop() // must not panic or block forever
}
