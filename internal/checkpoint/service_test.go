package checkpoint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/pkg/types"
)

type fakeSource struct {
	mu    sync.Mutex
	items []types.WorkItem
	err   error
}

func (f *fakeSource) ListActiveWorkItems(ctx context.Context) ([]types.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.WorkItem(nil), f.items...), nil
}

type sinkWrite struct {
	itemID string
	reason types.CheckpointReason
	at     time.Time
}

// fakeSink records checkpoint writes. When block is set, calls after the
// first blockAfter writes wait until the channel is closed, simulating a
// sink that has wedged mid-write.
type fakeSink struct {
	mu         sync.Mutex
	writes     []sinkWrite
	failIDs    map[string]bool
	blockAfter int
	block      chan struct{}
	calls      int
}

func (f *fakeSink) StoreCheckpoint(ctx context.Context, item types.WorkItem, reason types.CheckpointReason, at time.Time) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block := f.block
	blockAfter := f.blockAfter
	f.mu.Unlock()

	if block != nil && n > blockAfter {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[item.ID] {
		return "", errors.New("sink write failed")
	}
	f.writes = append(f.writes, sinkWrite{itemID: item.ID, reason: reason, at: at})
	return "mem-" + item.ID, nil
}

func (f *fakeSink) snapshot() []sinkWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkWrite(nil), f.writes...)
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSink) countReason(reason types.CheckpointReason) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, w := range f.writes {
		if w.reason == reason {
			count++
		}
	}
	return count
}

func workItems(ids ...string) []types.WorkItem {
	startedAt := time.Now().UTC().Add(-time.Hour)
	items := make([]types.WorkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, types.WorkItem{
			ID:        id,
			Title:     "Task " + id,
			Status:    "active",
			StartedAt: startedAt,
		})
	}
	return items
}

func newTestService(t *testing.T, source *fakeSource, sink *fakeSink, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(source, sink, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestService_StartRunsSynchronousCycle(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1", "wi-2")}
	sink := &fakeSink{}
	svc := newTestService(t, source, sink, Config{Interval: time.Hour})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first cycle runs before Start returns, so the writes are already
	// visible without waiting.
	writes := sink.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes after Start, got %d", len(writes))
	}
	for _, w := range writes {
		if w.reason != types.ReasonPeriodic {
			t.Errorf("write for %s has reason %s, want periodic", w.itemID, w.reason)
		}
	}

	if got := svc.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestService_StartTwiceFails(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &fakeSink{}, Config{Interval: time.Hour})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := svc.Start(context.Background())
	if err == nil {
		t.Fatal("expected second Start to fail")
	}
	if !strings.Contains(err.Error(), "running") {
		t.Errorf("error = %q, want it to name the running state", err)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestService_StopWritesShutdownCycle(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1")}
	sink := &fakeSink{}
	svc := newTestService(t, source, sink, Config{Interval: time.Hour})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	writes := sink.snapshot()
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes (start + shutdown), got %d", len(writes))
	}
	if writes[0].reason != types.ReasonPeriodic {
		t.Errorf("first write reason = %s, want periodic", writes[0].reason)
	}
	if writes[1].reason != types.ReasonShutdown {
		t.Errorf("final write reason = %s, want shutdown", writes[1].reason)
	}

	if got := svc.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}

	if err := svc.Stop(context.Background()); err == nil {
		t.Error("expected second Stop to fail")
	}
}

func TestService_TriggerImmediate(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1", "wi-2")}
	sink := &fakeSink{}
	svc := newTestService(t, source, sink, Config{Interval: time.Hour})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	count, err := svc.TriggerImmediate(context.Background(), types.ReasonToolTrigger)
	if err != nil {
		t.Fatalf("TriggerImmediate failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if got := sink.countReason(types.ReasonToolTrigger); got != 2 {
		t.Errorf("tool_trigger writes = %d, want 2", got)
	}

	// Items in one cycle share one timestamp.
	writes := sink.snapshot()
	last := writes[len(writes)-1]
	prev := writes[len(writes)-2]
	if !last.at.Equal(prev.at) {
		t.Errorf("cycle timestamps differ: %s vs %s", prev.at, last.at)
	}

	if _, err := svc.TriggerImmediate(context.Background(), types.CheckpointReason("whenever")); err == nil {
		t.Error("expected an error for an unknown reason")
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := svc.TriggerImmediate(context.Background(), types.ReasonManual); err == nil {
		t.Error("expected an error after Stop")
	}
}

func TestService_TriggerBeforeStart(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &fakeSink{}, Config{})

	_, err := svc.TriggerImmediate(context.Background(), types.ReasonManual)
	if err == nil {
		t.Fatal("expected an error before Start")
	}
	if !strings.Contains(err.Error(), "stopped") {
		t.Errorf("error = %q, want it to name the stopped state", err)
	}
}

func TestService_CycleIsolatesItemFailures(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1", "wi-2", "wi-3", "wi-4", "wi-5")}
	sink := &fakeSink{failIDs: map[string]bool{"wi-3": true}}
	svc := newTestService(t, source, sink, Config{Interval: time.Hour})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	count, err := svc.TriggerImmediate(context.Background(), types.ReasonManual)
	if err != nil {
		t.Fatalf("TriggerImmediate failed: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4 with one failing item", count)
	}

	for _, w := range sink.snapshot() {
		if w.itemID == "wi-3" {
			t.Error("failing item wi-3 was recorded as written")
		}
	}

	if got := svc.State(); got != StateRunning {
		t.Errorf("state = %s after an item failure, want running", got)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestService_SourceFailure(t *testing.T) {
	listErr := errors.New("tracker unreachable")
	source := &fakeSource{err: listErr}
	svc := newTestService(t, source, &fakeSink{}, Config{Interval: time.Hour})

	// A failing first cycle is logged, not fatal: the timer retries.
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := svc.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}

	// A triggered cycle does report the source failure to its caller.
	if _, err := svc.TriggerImmediate(context.Background(), types.ReasonManual); !errors.Is(err, listErr) {
		t.Errorf("TriggerImmediate error = %v, want the source error", err)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestService_PeriodicCycles(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1")}
	sink := &fakeSink{}
	svc := newTestService(t, source, sink, Config{Interval: 25 * time.Millisecond})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return sink.countReason(types.ReasonPeriodic) >= 3
	}, "timer never produced recurring cycles")

	if err := svc.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestService_RestartAfterStop(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1")}
	sink := &fakeSink{}
	svc := newTestService(t, source, sink, Config{Interval: time.Hour})
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := svc.State(); got != StateRunning {
		t.Errorf("state after restart = %s, want running", got)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	// Two start cycles and two shutdown cycles.
	if got := sink.countReason(types.ReasonPeriodic); got != 2 {
		t.Errorf("periodic writes = %d, want 2", got)
	}
	if got := sink.countReason(types.ReasonShutdown); got != 2 {
		t.Errorf("shutdown writes = %d, want 2", got)
	}
}

func TestService_ForcedStopOnStuckCycle(t *testing.T) {
	source := &fakeSource{items: workItems("wi-1")}
	sink := &fakeSink{
		blockAfter: 1,
		block:      make(chan struct{}),
	}
	svc := newTestService(t, source, sink, Config{
		Interval:  20 * time.Millisecond,
		StopGrace: 60 * time.Millisecond,
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the first periodic cycle to wedge inside the sink.
	waitFor(t, 2*time.Second, func() bool {
		return sink.callCount() >= 2
	}, "periodic cycle never reached the sink")

	begin := time.Now()
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Fatalf("forced stop took %s", elapsed)
	}
	if got := svc.State(); got != StateStopped {
		t.Fatalf("state = %s after forced stop, want stopped", got)
	}

	// Releasing the sink lets the wedged write finish: in-flight writes are
	// never interrupted, and the loop still records its shutdown cycle on
	// the way out.
	close(sink.block)
	waitFor(t, 2*time.Second, func() bool {
		return sink.countReason(types.ReasonShutdown) == 1
	}, "shutdown cycle never completed after the sink recovered")
	if got := sink.countReason(types.ReasonPeriodic); got < 2 {
		t.Errorf("periodic writes = %d, want the wedged write to have completed", got)
	}
}

func TestService_NewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, &fakeSink{}, Config{}, zerolog.Nop()); err == nil {
		t.Error("expected an error for a nil source")
	}
	if _, err := NewService(&fakeSource{}, nil, Config{}, zerolog.Nop()); err == nil {
		t.Error("expected an error for a nil sink")
	}
}

func TestService_ConfigDefaults(t *testing.T) {
	svc := newTestService(t, &fakeSource{}, &fakeSink{}, Config{})

	if svc.config.Interval != 5*time.Minute {
		t.Errorf("interval = %s, want 5m", svc.config.Interval)
	}
	if svc.config.StopGrace != 10*time.Second {
		t.Errorf("stop grace = %s, want 10s", svc.config.StopGrace)
	}
	if svc.config.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout = %s, want 30s", svc.config.WriteTimeout)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", int(state), got, want)
		}
	}
}
