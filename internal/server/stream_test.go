package server

import (
	"testing"
	"time"
)

func TestEventBroadcaster_SubscribeBroadcast(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	event := ProgressEvent{
		JobID:   "job-1",
		State:   StateRunning,
		Epoch:   3,
		Epochs:  100,
		Key:     "drop_proba",
		Fitness: -0.12,
	}
	eb.Broadcast(event)

	select {
	case got := <-ch:
		if got.Epoch != 3 || got.Key != "drop_proba" {
			t.Errorf("Unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected to receive broadcast event")
	}
}

func TestEventBroadcaster_ReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()

	// Broadcast with no subscribers still caches the last event.
	eb.Broadcast(ProgressEvent{JobID: "job-1", Epoch: 9})

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	select {
	case got := <-ch:
		if got.Epoch != 9 {
			t.Errorf("Expected replayed epoch 9, got %d", got.Epoch)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected replay of last event on subscribe")
	}
}

func TestEventBroadcaster_IsolatesJobs(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-a")
	defer eb.Unsubscribe("job-a", ch)

	eb.Broadcast(ProgressEvent{JobID: "job-b", Epoch: 1})

	select {
	case got := <-ch:
		t.Errorf("Should not receive events for another job: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBroadcaster_CleanupJob(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	eb.Broadcast(ProgressEvent{JobID: "job-1", Epoch: 1})
	eb.CleanupJob("job-1")

	// Drain the buffered event, then expect the closed channel.
	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}
