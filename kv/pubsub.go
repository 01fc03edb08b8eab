package kv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Publish sends message on channel and returns the number of receivers.
func (c *Client) Publish(ctx context.Context, channel, message string) (int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Publish(ctx, channel, message).Result()
	return n, c.wrap("publish", err)
}

// Subscription is an active SUBSCRIBE on a dedicated connection.
type Subscription struct {
	ps     *redis.PubSub
	out    chan Message
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
}

// Subscribe listens on channels. The subscription is confirmed before
// Subscribe returns, so messages published afterwards are not missed.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	ps := rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close() //nolint:errcheck // subscription never became active
		return nil, c.wrap("subscribe", err)
	}

	s := &Subscription{
		ps:     ps,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go s.forward()
	return s, nil
}

func (s *Subscription) forward() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- Message{Channel: m.Channel, Payload: m.Payload}:
		case <-s.done:
			return
		}
	}
}

// Messages returns the delivery channel. It is closed after Close.
func (s *Subscription) Messages() <-chan Message {
	return s.out
}

// Unsubscribe stops listening on channels while keeping the subscription.
func (s *Subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := s.ps.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("coord/kv: unsubscribe: %w", err)
	}
	return nil
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		if err != nil {
			s.logger.Warn("close subscription", slog.String("error", err.Error()))
		}
	})
	return err
}
