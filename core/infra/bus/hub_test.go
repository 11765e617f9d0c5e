package bus

import (
	"errors"
	"testing"
)

type recordingPublisher struct {
	subjects []string
	err      error
}

func (r *recordingPublisher) Publish(subject string, _ *Event) error {
	r.subjects = append(r.subjects, subject)
	return r.err
}

func TestHubFanout(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	if err := h.Publish("", NewEvent(EventReload, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evt := <-a; evt.Type != EventReload {
		t.Fatalf("unexpected event on a: %s", evt.Type)
	}
	if evt := <-b; evt.Type != EventReload {
		t.Fatalf("unexpected event on b: %s", evt.Type)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("expected a closed after cancel")
	}
	if h.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", h.Subscribers())
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()
	_ = h.Publish("", NewEvent(EventServerChanged, nil))
	_ = h.Publish("", NewEvent(EventServerApply, nil))
	if evt := <-ch; evt.Type != EventServerChanged {
		t.Fatalf("expected first event kept, got %s", evt.Type)
	}
	select {
	case evt := <-ch:
		t.Fatalf("expected second event dropped, got %s", evt.Type)
	default:
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(1)
	h.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
	cancel()
	late, _ := h.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("expected late subscription closed")
	}
}

func TestTee(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("down")}
	p := Tee(a, nil, b)
	err := p.Publish("devserver.events", NewEvent(EventReload, nil))
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected first error, got %v", err)
	}
	if len(a.subjects) != 1 || len(b.subjects) != 1 {
		t.Fatalf("expected both publishers called")
	}
}
