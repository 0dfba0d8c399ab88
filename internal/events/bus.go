// Package events fans out board and session events over Redis pub/sub so
// every server instance can stream them to its connected clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chxlky/taskboard/internal/board"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BoardChannel is the pub/sub channel carrying the events of one board.
func BoardChannel(boardID string) string {
	return "board:" + boardID + ":events"
}

type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish JSON-encodes v and publishes it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// Subscription delivers the raw payloads published on one channel.
type Subscription struct {
	C <-chan []byte

	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published after it returns is missed. The subscription ends when ctx is
// done or Close is called.
func (b *Bus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 16)
	s := &Subscription{C: out, ps: ps, done: make(chan struct{})}
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-s.done:
					return
				case <-ctx.Done():
					s.Close()
					return
				}
			}
		}
	}()
	return s, nil
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if err := s.ps.Close(); err != nil {
			zap.L().Debug("Failed to close subscription", zap.Error(err))
		}
	})
}

// BoardNotifier publishes settled moves on the board's channel.
type BoardNotifier struct {
	bus *Bus
}

func NewBoardNotifier(bus *Bus) *BoardNotifier {
	return &BoardNotifier{bus: bus}
}

func (n *BoardNotifier) Notify(ctx context.Context, note board.Notification) error {
	return n.bus.Publish(ctx, BoardChannel(note.BoardID), Event{Type: note.Kind, Data: note})
}

// Event is the envelope of everything published on a board channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
