package redis

import (
	"context"
	"fmt"
	"sync"
)

// Publish sends payload on channel.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	if _, err := s.client.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("coord/redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams payloads from channel. The returned channel closes when
// ctx ends or stop is called.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub, err := s.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, nil, fmt.Errorf("coord/redis: subscribe %s: %w", channel, err)
	}

	out := make(chan string, 64)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck // Close logs its own failure
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case m, ok := <-sub.Messages():
				if !ok {
					return
				}
				select {
				case out <- m.Payload:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()
	return out, stop, nil
}
