package job

import (
	"testing"
	"time"

	"storyforge/internal/domain"
)

func event(jobID string, phase domain.JobPhase, progress int) domain.ProgressEvent {
	return domain.ProgressEvent{
		JobID:     jobID,
		Phase:     phase,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

func TestBusDeliversInWriterOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.Publish(event("job-1", domain.PhaseGeneratingStory, 5))
	bus.Publish(event("job-1", domain.PhaseGeneratingStory, 10))
	bus.Publish(event("job-1", domain.PhaseParsingScenes, 15))

	want := []int{5, 10, 15}
	for i, w := range want {
		ev := <-sub.Events()
		if ev.Progress != w {
			t.Fatalf("event %d progress = %d, want %d", i, ev.Progress, w)
		}
	}
}

func TestBusSnapshotForLateSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Publish(event("job-1", domain.PhaseGeneratingImages, 40))

	sub := bus.Subscribe("job-1")
	defer sub.Close()

	select {
	case ev := <-sub.Events():
		if ev.Progress != 40 || ev.Phase != domain.PhaseGeneratingImages {
			t.Fatalf("snapshot = %+v, want progress 40 in GeneratingImages", ev)
		}
	default:
		t.Fatal("expected a primed snapshot event")
	}
}

func TestBusSubscribeAfterTerminal(t *testing.T) {
	bus := NewBus()
	bus.Publish(event("job-1", domain.PhaseDone, 100))

	sub := bus.Subscribe("job-1")
	defer sub.Close()

	ev, ok := <-sub.Events()
	if !ok {
		t.Fatal("expected the terminal event before close")
	}
	if ev.Phase != domain.PhaseDone || ev.Progress != 100 {
		t.Fatalf("terminal event = %+v, want Done at 100", ev)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel closed after terminal event")
	}
}

func TestBusSlowSubscriberStillGetsTerminal(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	// Overflow the buffer without draining.
	for i := 0; i < subscriberBuffer+8; i++ {
		bus.Publish(event("job-1", domain.PhaseGeneratingImages, i))
	}
	bus.Publish(event("job-1", domain.PhaseDone, 100))

	var last domain.ProgressEvent
	var n int
	for ev := range sub.Events() {
		last = ev
		n++
	}
	if n > subscriberBuffer+1 {
		t.Fatalf("delivered %d events to a slow subscriber, want at most %d", n, subscriberBuffer+1)
	}
	if last.Phase != domain.PhaseDone {
		t.Fatalf("last phase = %q, want %q", last.Phase, domain.PhaseDone)
	}
}

func TestBusNoEventsAfterTerminal(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer sub.Close()

	bus.Publish(event("job-1", domain.PhaseCancelled, 30))
	bus.Publish(event("job-1", domain.PhaseGeneratingImages, 55))

	var got []domain.ProgressEvent
	for ev := range sub.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Phase != domain.PhaseCancelled {
		t.Fatalf("phase = %q, want %q", got[0].Phase, domain.PhaseCancelled)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	sub.Close()
	sub.Close()

	// Publishing after a close must not panic on the detached channel.
	bus.Publish(event("job-1", domain.PhaseDone, 100))
}

func TestBusDropDetachesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")

	bus.Drop("job-1")
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel closed after Drop")
	}

	// A new subscription starts from a clean topic.
	fresh := bus.Subscribe("job-1")
	defer fresh.Close()
	select {
	case <-fresh.Events():
		t.Fatal("expected no snapshot after Drop")
	default:
	}
}
