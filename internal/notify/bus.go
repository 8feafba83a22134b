package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/monitor"
)

// Bus fans session envelopes out to every instance sharing a Redis server.
// Each instance skips the envelopes it published itself.
type Bus struct {
	client  *redis.Client
	prefix  string
	origin  string
	metrics *monitor.Metrics

	mu     sync.Mutex
	sub    *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type busEnvelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// NewBus connects to url and verifies the server answers PING.
func NewBus(ctx context.Context, url, prefix string, metrics *monitor.Metrics) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewBusWithClient(client, prefix, metrics), nil
}

func NewBusWithClient(client *redis.Client, prefix string, metrics *monitor.Metrics) *Bus {
	if prefix == "" {
		prefix = "livecode"
	}
	return &Bus{
		client:  client,
		prefix:  prefix,
		origin:  uuid.New().String(),
		metrics: metrics,
	}
}

func (b *Bus) channel(sessionID string) string {
	return b.prefix + ":session:" + sessionID
}

func (b *Bus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(busEnvelope{Origin: b.origin, Message: msg})
	if err != nil {
		return fmt.Errorf("encoding bus message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(msg.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", b.channel(msg.SessionID), err)
	}
	if b.metrics != nil {
		b.metrics.BusMessagesPublished.Inc()
	}
	return nil
}

// Healthy reports whether the Redis server answers PING.
func (b *Bus) Healthy(ctx context.Context) bool {
	return b.client.Ping(ctx).Err() == nil
}

// Start subscribes to every session channel and hands envelopes from other
// instances to deliver. The subscription is confirmed before Start returns.
func (b *Bus) Start(ctx context.Context, deliver func(context.Context, Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return fmt.Errorf("bus already started")
	}

	pattern := b.prefix + ":session:*"
	sub := b.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.sub = sub
	b.cancel = cancel

	b.wg.Add(1)
	go b.loop(loopCtx, sub.Channel(), deliver)

	log.Info().Str("pattern", pattern).Str("origin", b.origin).Msg("notification bus subscribed")
	return nil
}

func (b *Bus) loop(ctx context.Context, ch <-chan *redis.Message, deliver func(context.Context, Message)) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env busEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping malformed bus message")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			if env.Message.SessionID == "" {
				env.Message.SessionID = strings.TrimPrefix(m.Channel, b.prefix+":session:")
			}
			if b.metrics != nil {
				b.metrics.BusMessagesReceived.Inc()
			}
			deliver(ctx, env.Message)
		}
	}
}

// Close stops the subscriber and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	sub := b.sub
	b.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}
