package streams

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	a, err := m.Subscribe("results")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, err := m.Subscribe("results")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, err := m.Subscribe("runs")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n, err := m.Publish("results", []byte("hello"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	for _, sub := range []*Subscription{a, b} {
		select {
		case msg := <-sub.C:
			if string(msg) != "hello" {
				t.Fatalf("unexpected message %q", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	select {
	case msg := <-other.C:
		t.Fatalf("other key received %q", msg)
	default:
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	m := newTestManager()
	m.buffer = 2
	defer m.Close()

	slow, err := m.Subscribe("results")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Publish("results", []byte{byte('a' + i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	if got := m.Subscribers("results"); got != 0 {
		t.Fatalf("expected slow subscriber removed, %d left", got)
	}

	var received []string
	for msg := range slow.C {
		received = append(received, string(msg))
	}
	if len(received) != 2 || received[0] != "a" || received[1] != "b" {
		t.Fatalf("unexpected backlog %v", received)
	}

	// Closing an already dropped subscription is a no-op
	slow.Close()
}

func TestCloseEndsSubscriptions(t *testing.T) {
	m := newTestManager()

	sub, err := m.Subscribe("results")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range sub.C {
		}
	}()

	m.Close()
	wg.Wait()

	if _, err := m.Subscribe("results"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.Publish("results", []byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	sub.Close()
}

func TestUnsubscribe(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	sub, err := m.Subscribe("results")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()

	if n, _ := m.Publish("results", []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
}
