package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/applyforge/applyforge/internal/store"
)

func receiveEvent(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return RunEvent{}
}

func waitForClosed(t *testing.T, ch <-chan RunEvent) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestNewBroker(t *testing.T) {
	b := NewBroker()
	if b == nil {
		t.Fatal("expected broker")
	}
	if b.subscribers == nil {
		t.Fatal("expected subscribers map")
	}
}

func TestSubscribe_Single(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	if ch == nil {
		t.Fatal("expected channel")
	}

	b.mu.RLock()
	count := len(b.subscribers["run-1"])
	b.mu.RUnlock()
	if count != 1 {
		t.Fatalf("expected 1 subscriber, got %d", count)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["run-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestSubscribe_MultipleSameRun(t *testing.T) {
	b := NewBroker()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	ch1 := b.Subscribe(ctx1, "run-1")
	ch2 := b.Subscribe(ctx2, "run-1")
	if ch1 == ch2 {
		t.Fatal("expected distinct channels")
	}

	b.mu.RLock()
	count := len(b.subscribers["run-1"])
	b.mu.RUnlock()
	if count != 2 {
		t.Fatalf("expected 2 subscribers, got %d", count)
	}

	cancel1()
	cancel2()
	waitForClosed(t, ch1)
	waitForClosed(t, ch2)
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish(RunEvent{RunID: "run-1"})
}

func TestPublish_SingleSubscriber(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-1")
	event := RunEvent{RunID: "run-1", Seq: 1, Kind: "stage_started", Stage: "parsing"}

	b.Publish(event)
	received := receiveEvent(t, ch)
	if received.Kind != event.Kind || received.Seq != event.Seq {
		t.Fatalf("unexpected event: %+v", received)
	}

	for i := 0; i < 16; i++ {
		b.Publish(RunEvent{RunID: "run-1", Seq: int64(i + 2)})
	}
	if len(ch) != 16 {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
	b.Publish(RunEvent{RunID: "run-1", Seq: 18})
	if len(ch) != 16 {
		t.Fatalf("expected dropped event, got %d", len(ch))
	}

	cancel()
	waitForClosed(t, ch)
}

func TestPublish_DifferentRuns(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "run-2")
	b.Publish(RunEvent{RunID: "run-1", Seq: 1})

	select {
	case <-ch:
		t.Fatal("unexpected event for different run")
	default:
	}

	cancel()
	waitForClosed(t, ch)
}

func TestConcurrent_SubscribePublish(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			b.Subscribe(ctx, "run-1")
			b.Publish(RunEvent{RunID: "run-1", Seq: int64(seq)})
		}(i)
	}
	wg.Wait()
}

func TestNormalizeKind(t *testing.T) {
	if got := NormalizeKind("  Stage_Started "); got != "stage_started" {
		t.Fatalf("NormalizeKind = %q", got)
	}
}

type fakeEventStore struct {
	mu     sync.Mutex
	seq    map[string]int64
	events []store.RunEvent
	fail   error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seq: map[string]int64{}}
}

func (f *fakeEventStore) NextSeq(_ context.Context, runID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	f.seq[runID]++
	return f.seq[runID], nil
}

func (f *fakeEventStore) AppendEvent(_ context.Context, event store.RunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func TestEmitter_AssignsSeqAndPublishes(t *testing.T) {
	fake := newFakeEventStore()
	broker := NewBroker()
	emitter := NewEmitter(fake, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, "run-1")

	first, err := emitter.Emit(context.Background(), store.RunEvent{
		RunID: "run-1",
		Kind:  "Stage_Started",
		Stage: store.StageParsing,
	})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("first seq = %d, want 1", first.Seq)
	}
	if first.Kind != store.EventStageStarted {
		t.Fatalf("kind = %q, want normalized %q", first.Kind, store.EventStageStarted)
	}
	if first.Timestamp == "" {
		t.Fatal("expected timestamp to be stamped")
	}

	second, err := emitter.Emit(context.Background(), store.RunEvent{RunID: "run-1", Kind: store.EventStageCompleted})
	if err != nil {
		t.Fatalf("Emit returned error: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("second seq = %d, want 2", second.Seq)
	}

	if len(fake.events) != 2 {
		t.Fatalf("appended %d events, want 2", len(fake.events))
	}

	live := receiveEvent(t, ch)
	if live.Seq != 1 || live.Kind != store.EventStageStarted {
		t.Fatalf("unexpected live event: %+v", live)
	}
}

func TestEmitter_SeqFailureDoesNotPublish(t *testing.T) {
	fake := newFakeEventStore()
	fake.fail = errors.New("sequence unavailable")
	broker := NewBroker()
	emitter := NewEmitter(fake, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, "run-1")

	if _, err := emitter.Emit(context.Background(), store.RunEvent{RunID: "run-1", Kind: "error"}); err == nil {
		t.Fatal("expected error from Emit")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected publish after failed append: %+v", ev)
	default:
	}
	if len(fake.events) != 0 {
		t.Fatalf("expected no appended events, got %d", len(fake.events))
	}
}
