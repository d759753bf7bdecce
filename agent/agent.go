package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/bus"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/internal/log"
)

// Handler processes one incoming envelope. Returning an error marks the
// durable message failed instead of processed.
type Handler func(ctx context.Context, env *core.Envelope) error

// Agent is the consumer side of the bus for one role: catch-up from the
// durable store on connect, then live delivery from the low-latency channel.
// Worker lifecycle (spawning, health) is the embedding process's concern.
type Agent struct {
	bus     *bus.Bus
	rdb     redis.UniversalClient
	role    core.Role
	options backend.Options
}

func New(b *bus.Bus, rdb redis.UniversalClient, role core.Role, opts ...backend.Option) (*Agent, error) {
	parsed, err := core.ParseRole(string(role))
	if err != nil {
		return nil, err
	}

	return &Agent{
		bus:     b,
		rdb:     rdb,
		role:    parsed,
		options: backend.ApplyOptions(opts...),
	}, nil
}

// CatchUp replays unread durable messages, oldest first: the private inbox,
// then recent broadcasts. Private messages are marked processed (or failed)
// after handling; broadcast rows are shared across roles and left unmarked.
func (a *Agent) CatchUp(ctx context.Context, handler Handler) error {
	msgs, err := a.bus.FetchUnread(ctx, a.role)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if err := handler(ctx, envelopeFromMessage(msg)); err != nil {
			a.options.Logger.Warn("Handler failed for caught-up message", log.MessageIDKey, msg.ID, "error", err)

			if err := a.bus.MarkFailed(ctx, msg.ID, err.Error()); err != nil {
				return fmt.Errorf("marking message failed: %w", err)
			}
			continue
		}

		if err := a.bus.MarkProcessed(ctx, msg.ID); err != nil {
			return fmt.Errorf("marking message processed: %w", err)
		}
	}

	broadcasts, err := a.bus.FetchUnreadBroadcasts(ctx, a.role)
	if err != nil {
		return err
	}

	for _, msg := range broadcasts {
		if err := handler(ctx, envelopeFromMessage(msg)); err != nil {
			a.options.Logger.Warn("Handler failed for broadcast", log.MessageIDKey, msg.ID, "error", err)
		}
	}

	return nil
}

// Run catches up, then consumes the role's topics until ctx is cancelled.
// Subscription failures trigger catch-up and resubscription with exponential
// backoff, so nothing is lost while the low-latency channel is down.
func (a *Agent) Run(ctx context.Context, handler Handler) error {
	if a.rdb == nil {
		return fmt.Errorf("no redis client configured")
	}

	op := func() error {
		if err := a.consume(ctx, handler); err != nil {
			a.options.Logger.Warn("Subscription lost, reconnecting", log.RoleKey, string(a.role), "error", err)
			return err
		}

		return nil
	}

	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (a *Agent) consume(ctx context.Context, handler Handler) error {
	// Catch up before subscribing so messages missed while disconnected are
	// handled in order ahead of live ones.
	if err := a.CatchUp(ctx, handler); err != nil {
		return err
	}

	topics := []string{bus.InboxTopic(a.role), bus.BroadcastTopic}
	if core.IsLeadership(a.role) {
		topics = append(topics, bus.LeadershipTopic)
	}

	pubsub := a.rdb.Subscribe(ctx, topics...)
	defer pubsub.Close()

	a.options.Logger.Debug("Subscribed", log.RoleKey, string(a.role))

	ch := pubsub.Channel()

	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			msg = m
		}

		var env core.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			a.options.Logger.Warn("Dropping undecodable envelope", log.TopicKey, msg.Channel, "error", err)
			continue
		}

		if err := handler(ctx, &env); err != nil {
			a.options.Logger.Warn("Handler failed", log.MessageIDKey, env.DurableID, "error", err)

			if env.DurableID != "" && env.To == string(a.role) {
				if err := a.bus.MarkFailed(ctx, env.DurableID, err.Error()); err != nil {
					a.options.Logger.Warn("Marking message failed errored", log.MessageIDKey, env.DurableID, "error", err)
				}
			}
			continue
		}

		// Only the addressed role owns the read flag; broadcast and
		// leadership copies are left for catch-up bounds to handle.
		if env.DurableID != "" && env.To == string(a.role) {
			if err := a.bus.MarkProcessed(ctx, env.DurableID); err != nil {
				a.options.Logger.Warn("Marking message processed errored", log.MessageIDKey, env.DurableID, "error", err)
			}
		}
	}
}

func envelopeFromMessage(msg *core.Message) *core.Envelope {
	env := &core.Envelope{
		ID:        uuid.NewString(),
		DurableID: msg.ID,
		From:      string(msg.From),
		To:        string(msg.To),
		Type:      string(msg.Kind),
		Subject:   msg.Subject,
		Content:   msg.Content,
		Metadata:  core.Metadata{Timestamp: msg.CreatedAt},
	}

	if s, ok := msg.Content["requestId"].(string); ok {
		env.RequestID = s
	}
	if s, ok := msg.Content["inReplyTo"].(string); ok {
		env.InReplyTo = s
	}

	return env
}
