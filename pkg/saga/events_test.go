package saga

import (
	"testing"
	"time"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	first := b.Subscribe(4)
	second := b.Subscribe(4)
	defer b.Close()

	b.Emit(Event{SagaID: "s1", Kind: EventSagaStarted})

	for _, ch := range []chan Event{first, second} {
		select {
		case event := <-ch:
			if event.SagaID != "s1" || event.Kind != EventSagaStarted {
				t.Fatalf("unexpected event %+v", event)
			}
			if event.Timestamp.IsZero() {
				t.Fatal("timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcasterDropsOnFullBuffer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	defer b.Close()

	b.Emit(Event{SagaID: "s1", Kind: EventStepStarted, StepName: "a"})
	b.Emit(Event{SagaID: "s1", Kind: EventStepCompleted, StepName: "a"}) // dropped

	event := <-ch
	if event.Kind != EventStepStarted {
		t.Fatalf("expected first event retained, got %s", event.Kind)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected overflow drop, got %+v", extra)
	default:
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("expected closed channel")
	}
	// double unsubscribe must be safe
	b.Unsubscribe(ch)
	b.Emit(Event{SagaID: "s1", Kind: EventSagaCompleted})
}

func TestSinkFuncAdapts(t *testing.T) {
	var got Event
	sink := SinkFunc(func(event Event) { got = event })
	sink.Emit(Event{SagaID: "s1", Kind: EventSagaFailed, Error: "boom"})
	if got.SagaID != "s1" || got.Error != "boom" {
		t.Fatalf("unexpected event %+v", got)
	}
}
