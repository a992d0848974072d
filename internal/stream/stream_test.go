package stream

import (
	"context"
	"testing"
	"time"

	"pgmanage.org/internal/provision"
)

func TestPublishFanOut(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	if got := s.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	evt := provision.Event{AttemptID: "01HZX", Flow: provision.FlowRegister, Step: provision.StepCreateAccount, Status: provision.StatusOK}
	s.Publish(evt)

	for _, ch := range []<-chan provision.Event{a, b} {
		select {
		case got := <-ch:
			if got.AttemptID != evt.AttemptID || got.Step != evt.Step {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Publish(provision.Event{Step: provision.StepValidate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := s.Dropped(); got != 4 {
		t.Fatalf("Dropped() = %d, want 4", got)
	}
}

func TestUnsubscribeOnCancel(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if got := s.Subscribers(); got != 0 {
		t.Fatalf("Subscribers() = %d, want 0", got)
	}
}
