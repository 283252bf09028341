package notify

import "testing"

func TestDispatcherDeliversToHandler(t *testing.T) {
	d := NewDispatcher()

	var got []Event
	unregister := d.Register(func(e Event) { got = append(got, e) })
	defer unregister()

	d.Publish(Event{Kind: "order_ready", Subject: "T1", Body: "Order ord-1 is ready"})
	if len(got) != 1 || got[0].Kind != "order_ready" {
		t.Fatalf("expected one delivered event, got %+v", got)
	}
}

func TestDispatcherPublishWithoutHandlerIsNoop(t *testing.T) {
	d := NewDispatcher()
	d.Publish(Event{Kind: "announcement"})
}

func TestDispatcherReplacesHandler(t *testing.T) {
	d := NewDispatcher()

	firstCalls := 0
	oldUnregister := d.Register(func(Event) { firstCalls++ })

	secondCalls := 0
	d.Register(func(Event) { secondCalls++ })

	// Unregistering the replaced handler must not remove the current one.
	oldUnregister()

	d.Publish(Event{Kind: "announcement"})
	if firstCalls != 0 || secondCalls != 1 {
		t.Fatalf("expected only current handler called, got first=%d second=%d", firstCalls, secondCalls)
	}
}

func TestDispatcherSurvivesHandlerPanic(t *testing.T) {
	d := NewDispatcher()
	d.Register(func(Event) { panic("boom") })

	d.Publish(Event{Kind: "announcement"})

	// The panicking handler is removed; later publishes are silent.
	d.Publish(Event{Kind: "announcement"})
}
