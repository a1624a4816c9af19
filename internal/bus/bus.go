// Package bus provides worker-to-worker communication over NATS JetStream.
// A single stream retains every pipeline topic with a bounded window; each
// worker subscribes through its own durable consumer so messages survive
// subscriber restarts and are delivered in publish order per subscription.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

const (
	// streamMaxAge bounds how long undelivered messages are retained.
	streamMaxAge = time.Hour

	// streamMaxMsgs bounds the retained backlog per stream.
	streamMaxMsgs = 10_000

	// maxAckPending bounds in-flight deliveries per consumer (prefetch).
	maxAckPending = 10

	// headerPriority carries the publish priority (0-9) for observability.
	headerPriority = "Tw-Priority"
)

// streamSubjects covers every pipeline topic.
var streamSubjects = []string{"ticks.>", "signals.>", "trade.>", "execution.>", "position.>"}

// Handler processes a decoded bus message. Errors are recorded by the
// dispatch wrapper and never tear down the subscription.
type Handler func(ctx context.Context, msg protocol.Message) error

// Config configures a bus connection.
type Config struct {
	URL        string
	StreamName string
	ClientName string // worker name, used for connection naming and durables
}

// Stats are cumulative counters for a bus connection.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64 // malformed or unknown-type messages
	Errors    uint64 // handler errors (recorded, not propagated)
}

// Bus is a JetStream-backed message bus handle for one worker.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	name   string
	log    zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	closeOnce sync.Once
}

// Connect establishes the NATS connection and ensures the stream exists.
func Connect(cfg Config) (*Bus, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = "TRADING"
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.ClientName),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("worker", cfg.ClientName).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Str("worker", cfg.ClientName).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &Bus{
		nc:     nc,
		js:     js,
		stream: cfg.StreamName,
		name:   cfg.ClientName,
		log:    log.With().Str("component", "bus").Str("worker", cfg.ClientName).Logger(),
	}

	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	b.log.Info().
		Str("url", cfg.URL).
		Str("stream", cfg.StreamName).
		Msg("Message bus connected")

	return b, nil
}

// ensureStream creates the pipeline stream when absent. Existing streams are
// left untouched so operators can tune retention without a restart fight.
func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(b.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", b.stream, err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      b.stream,
		Subjects:  streamSubjects,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
		MaxMsgs:   streamMaxMsgs,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", b.stream, err)
	}

	b.log.Info().
		Str("stream", b.stream).
		Strs("subjects", streamSubjects).
		Dur("max_age", streamMaxAge).
		Int("max_msgs", streamMaxMsgs).
		Msg("Created JetStream stream")
	return nil
}

// Publish stamps the worker name into the envelope, serializes the message
// and publishes it on the topic with the given priority (0-9).
func (b *Bus) Publish(ctx context.Context, topic string, msg protocol.Message, priority int) error {
	h := msg.Envelope()
	if h.SourceAgent == "" {
		h.SourceAgent = b.name
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	m := nats.NewMsg(topic)
	m.Data = data
	m.Header.Set(headerPriority, strconv.Itoa(priority))

	if _, err := b.js.PublishMsg(m, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	b.published.Add(1)

	b.log.Debug().
		Str("topic", topic).
		Str("type", msg.Kind()).
		Str("correlation_id", h.CorrelationID).
		Int("priority", priority).
		Msg("Published message")
	return nil
}

// Subscribe registers a durable consumer <worker>.<topic> and dispatches
// decoded messages to the handler. Messages are acked after the handler runs;
// handler errors are logged with full context and never propagated.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	durable := durableName(b.name, topic)

	sub, err := b.js.Subscribe(topic, func(m *nats.Msg) {
		b.dispatch(ctx, topic, m, handler)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxAckPending(maxAckPending),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.log.Info().
		Str("topic", topic).
		Str("durable", durable).
		Msg("Subscribed to topic")
	return nil
}

// dispatch decodes, runs the handler, and always acks. Redelivery is only
// wanted when the process dies mid-handler, not when a handler returns an
// error it already logged.
func (b *Bus) dispatch(ctx context.Context, topic string, m *nats.Msg, handler Handler) {
	msg, err := protocol.Decode(m.Data)
	if err != nil {
		b.dropped.Add(1)
		ev := b.log.Error()
		if errors.Is(err, protocol.ErrUnknownType) {
			ev = b.log.Warn()
		}
		ev.Err(err).Str("topic", topic).Msg("Dropping undecodable message")
		_ = m.Ack()
		return
	}

	h := msg.Envelope()
	if err := handler(ctx, msg); err != nil {
		b.errors.Add(1)
		b.log.Error().
			Err(err).
			Str("topic", topic).
			Str("type", msg.Kind()).
			Str("source_agent", h.SourceAgent).
			Str("correlation_id", h.CorrelationID).
			Msg("Message handler failed")
	}
	b.delivered.Add(1)

	if err := m.Ack(); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("Failed to ack message")
	}
}

// Broadcast publishes v as JSON on a core NATS subject, outside the
// stream. Control events and heartbeats go this way: they are fan-out
// notifications for whoever is connected right now, not pipeline work
// to be replayed later.
func (b *Bus) Broadcast(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to broadcast on %s: %w", subject, err)
	}
	return nil
}

// SubscribeBroadcast delivers raw payloads from a core NATS subject to fn.
// The caller owns the returned subscription and unsubscribes it on shutdown.
func (b *Bus) SubscribeBroadcast(subject string, fn func(data []byte)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Stats returns cumulative counters for this connection.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
	}
}

// Flush waits until all published messages have been processed by the server.
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// Close unsubscribes all consumers and closes the connection. Idempotent.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		subs := b.subs
		b.subs = nil
		b.mu.Unlock()

		for _, sub := range subs {
			// Drain lets in-flight handlers finish; durable state stays server-side
			if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				b.log.Warn().Err(err).Msg("Failed to drain subscription")
			}
		}
		b.nc.Close()
		b.log.Info().Msg("Message bus closed")
	})
	return nil
}

// durableName builds a JetStream-safe durable consumer name for
// <worker>.<topic>. Dots are not allowed in durable names.
func durableName(worker, topic string) string {
	name := worker + "." + topic
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "*", "any")
	name = strings.ReplaceAll(name, ">", "all")
	return name
}
