package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/chxlky/taskboard/internal/board"
	"github.com/redis/go-redis/v9"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })
	return NewBus(rc)
}

func receive(t *testing.T, s *Subscription) []byte {
	t.Helper()
	select {
	case data, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return nil
}

func TestBoardNotifierPublishesOnBoardChannel(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, BoardChannel("b1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	n := NewBoardNotifier(bus)
	note := board.Notification{
		Kind:    board.NotificationMoveRolledBack,
		Level:   "error",
		BoardID: "b1",
		TaskID:  "t1",
		ListID:  "l1",
		Message: "Failed to move task",
	}
	if err := n.Notify(ctx, note); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var ev struct {
		Type string             `json:"type"`
		Data board.Notification `json:"data"`
	}
	if err := json.Unmarshal(receive(t, sub), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != board.NotificationMoveRolledBack || ev.Data != note {
		t.Errorf("event: got %+v", ev)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, "chan")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
	sub.Close()
}

func TestSubscriptionIgnoresOtherChannels(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, BoardChannel("mine"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(ctx, BoardChannel("other"), Event{Type: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, BoardChannel("mine"), Event{Type: "y"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(receive(t, sub), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "y" {
		t.Errorf("type: got %s, want y", ev.Type)
	}
}
