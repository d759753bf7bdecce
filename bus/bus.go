package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/backend/metrics"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/internal/log"
	"github.com/Pranavj17/echo-sub001/internal/metrickeys"
)

// broadcastFetchLimit bounds catch-up reads from the shared broadcast inbox.
const broadcastFetchLimit = 50

// Bus is the durable pub/sub primitive. Every publish writes a durable row
// first; the low-latency notification is best-effort on top of it. Safe for
// concurrent use.
type Bus struct {
	store    backend.MessageStore
	notifier Notifier
	options  backend.Options
	tracer   trace.Tracer
}

func New(store backend.MessageStore, notifier Notifier, opts ...backend.Option) *Bus {
	options := backend.ApplyOptions(opts...)

	return &Bus{
		store:    store,
		notifier: notifier,
		options:  options,
		tracer:   options.TracerProvider.Tracer(backend.TracerName),
	}
}

// Publish durably stores a message from one role to another, then notifies the
// recipient's private topic. Recipients in the leadership subset are
// additionally notified on the shared leadership topic. A notification failure
// is logged and swallowed; the message is recoverable via FetchUnread.
func (b *Bus) Publish(ctx context.Context, from, to core.Role, kind core.Kind, subject string, content map[string]any) (string, error) {
	sender, err := core.ParseRole(string(from))
	if err != nil {
		return "", err
	}

	recipient, err := core.ParseRole(string(to))
	if err != nil {
		return "", err
	}

	ctx, span := b.tracer.Start(ctx, "Bus.Publish", trace.WithAttributes(
		attribute.String(log.FromKey, string(sender)),
		attribute.String(log.ToKey, string(recipient)),
		attribute.String(log.KindKey, string(kind)),
	))
	defer span.End()

	msg, err := b.write(ctx, sender, recipient, kind, subject, content)
	if err != nil {
		return "", err
	}

	b.options.Metrics.Counter(metrickeys.MessagePublished, metrics.Tags{metrickeys.Role: string(recipient)}, 1)

	b.notify(ctx, InboxTopic(recipient), msg)
	if core.IsLeadership(recipient) {
		b.notify(ctx, LeadershipTopic, msg)
	}

	return msg.ID, nil
}

// Broadcast durably stores a message addressed to the broadcast pseudo-role,
// then notifies the shared broadcast topic. Zero live subscribers is a
// warning, not an error; the message stays recoverable via catch-up.
func (b *Bus) Broadcast(ctx context.Context, from core.Role, kind core.Kind, subject string, content map[string]any) (string, error) {
	sender, err := core.ParseRole(string(from))
	if err != nil {
		return "", err
	}

	ctx, span := b.tracer.Start(ctx, "Bus.Broadcast", trace.WithAttributes(
		attribute.String(log.FromKey, string(sender)),
		attribute.String(log.KindKey, string(kind)),
	))
	defer span.End()

	msg, err := b.write(ctx, sender, core.RoleAll, kind, subject, content)
	if err != nil {
		return "", err
	}

	b.options.Metrics.Counter(metrickeys.MessageBroadcast, metrics.Tags{}, 1)

	receivers, err := b.notifier.Notify(ctx, BroadcastTopic, b.envelope(msg))
	if err != nil {
		b.logNotifyFailure(BroadcastTopic, msg.ID, err)
	} else if receivers == 0 {
		b.options.Logger.Warn(
			"Broadcast had no live subscribers, relying on catch-up",
			log.MessageIDKey, msg.ID,
			log.TopicKey, BroadcastTopic,
		)
	}

	return msg.ID, nil
}

// AnnounceDecision emits a decision lifecycle event on its pub/sub topic.
// Decision events are notify-only: they are not durably stored and not
// correlated by the coordinator.
func (b *Bus) AnnounceDecision(ctx context.Context, from core.Role, stage DecisionStage, content map[string]any) error {
	sender, err := core.ParseRole(string(from))
	if err != nil {
		return err
	}

	topic := DecisionTopic(stage)

	env := &core.Envelope{
		ID:       uuid.NewString(),
		From:     string(sender),
		To:       topic,
		Type:     string(core.KindNotification),
		Subject:  string(stage),
		Content:  content,
		Metadata: core.Metadata{Timestamp: b.options.Clock.Now().UTC()},
	}

	if _, err := b.notifier.Notify(ctx, topic, env); err != nil {
		return fmt.Errorf("announcing decision: %w", err)
	}

	b.options.Metrics.Counter(metrickeys.DecisionEmitted, metrics.Tags{metrickeys.Topic: topic}, 1)

	return nil
}

// FetchUnread returns all unread durable messages addressed to role, oldest
// first. Workers call this on startup or reconnect to recover messages missed
// while their subscription was down.
func (b *Bus) FetchUnread(ctx context.Context, role core.Role) ([]*core.Message, error) {
	recipient, err := core.ParseRole(string(role))
	if err != nil {
		return nil, err
	}

	msgs, err := b.store.UnreadMessages(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("fetching unread messages: %w", err)
	}

	b.options.Metrics.Counter(metrickeys.CatchUpFetched, metrics.Tags{metrickeys.Role: string(recipient)}, int64(len(msgs)))

	return msgs, nil
}

// FetchUnreadBroadcasts returns up to 50 unread broadcast messages, oldest
// first.
func (b *Bus) FetchUnreadBroadcasts(ctx context.Context, role core.Role) ([]*core.Message, error) {
	if _, err := core.ParseRole(string(role)); err != nil {
		return nil, err
	}

	msgs, err := b.store.UnreadBroadcasts(ctx, broadcastFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching unread broadcasts: %w", err)
	}

	return msgs, nil
}

// MarkProcessed marks the durable message as read and processed. Idempotent.
func (b *Bus) MarkProcessed(ctx context.Context, id string) error {
	return b.store.MarkProcessed(ctx, id)
}

// MarkFailed marks the durable message as read and failed. Idempotent.
func (b *Bus) MarkFailed(ctx context.Context, id string, reason string) error {
	return b.store.MarkFailed(ctx, id, reason)
}

func (b *Bus) write(ctx context.Context, from, to core.Role, kind core.Kind, subject string, content map[string]any) (*core.Message, error) {
	msg := &core.Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Subject:   subject,
		Content:   content,
		Status:    core.MessageStatusPending,
		CreatedAt: b.options.Clock.Now().UTC(),
	}

	if err := b.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("writing durable message: %w", err)
	}

	return msg, nil
}

func (b *Bus) notify(ctx context.Context, topic string, msg *core.Message) {
	if _, err := b.notifier.Notify(ctx, topic, b.envelope(msg)); err != nil {
		b.logNotifyFailure(topic, msg.ID, err)
	}
}

func (b *Bus) logNotifyFailure(topic, msgID string, err error) {
	// The durable write already succeeded, so this is recoverable via
	// catch-up and must not fail the publish.
	b.options.Logger.Warn(
		"Low-latency notify failed",
		log.MessageIDKey, msgID,
		log.TopicKey, topic,
		"error", err,
	)

	b.options.Metrics.Counter(metrickeys.NotifyFailed, metrics.Tags{metrickeys.Topic: topic}, 1)
}

func (b *Bus) envelope(msg *core.Message) *core.Envelope {
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
