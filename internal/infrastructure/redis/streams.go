package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/domain/delivery"
	"github.com/crmbridge/accountsync/internal/domain/event"
	"github.com/redis/go-redis/v9"
)

const (
	AccountEventStream    = "accounts:events"
	DeadLetterAlertStream = "accounts:dlq:alerts"
)

type StreamProducer struct {
	client *redis.Client
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishAccountEvent appends a change notification to the account event
// stream. The full wire envelope travels in the payload field; the key fields
// are duplicated for cheap stream inspection.
func (p *StreamProducer) PublishAccountEvent(ctx context.Context, ev *event.AccountEvent) error {
	payload, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal account event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: AccountEventStream,
		Values: map[string]any{
			"payload":        string(payload),
			"entity_id":      ev.EntityID,
			"event_type":     string(ev.EventType),
			"correlation_id": ev.CorrelationID,
			"timestamp":      time.Now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish account event: %w", err)
	}

	return nil
}

// DeadLetterAlert publishes an operational alert for a parked message.
// Implements the pipeline's Alerter port.
func (p *StreamProducer) DeadLetterAlert(ctx context.Context, rec *appsync.DeadLetterRecord) error {
	args := &redis.XAddArgs{
		Stream: DeadLetterAlertStream,
		Values: map[string]any{
			"record_id":      rec.ID.String(),
			"message_id":     rec.MessageID,
			"correlation_id": rec.CorrelationID,
			"entity_id":      rec.EntityID,
			"event_type":     rec.EventType,
			"last_error":     rec.LastError,
			"delivery_count": rec.DeliveryCount,
			"timestamp":      time.Now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish dead-letter alert: %w", err)
	}

	return nil
}

// StreamClient is the slice of the Redis API the consumer touches.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// StreamConsumer reads account event deliveries from a consumer group.
// Abandoned messages (transient failures left unacknowledged) come back via
// XAUTOCLAIM once their idle time exceeds claimMinIdle, with the broker's
// delivery count attached.
type StreamConsumer struct {
	client        StreamClient
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
	claimMinIdle  time.Duration
}

func NewStreamConsumer(
	client StreamClient,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
	claimMinIdle time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
		claimMinIdle:  claimMinIdle,
	}
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	// Create stream if it doesn't exist
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Fetch returns the next batch of deliveries: stalled pending messages first
// (redeliveries, count > 1), then fresh messages (count 1).
func (c *StreamConsumer) Fetch(ctx context.Context) ([]delivery.Delivery, error) {
	deliveries, err := c.claimStalled(ctx)
	if err != nil {
		return nil, err
	}
	if int64(len(deliveries)) >= c.batchSize {
		return deliveries, nil
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize - int64(len(deliveries)),
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			// No new messages
			return deliveries, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, delivery.Delivery{
				MessageID: msg.ID,
				Raw:       rawPayload(msg),
				Count:     1,
			})
		}
	}

	return deliveries, nil
}

func (c *StreamConsumer) claimStalled(ctx context.Context) ([]delivery.Delivery, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim stalled messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	counts, err := c.deliveryCounts(ctx, msgs)
	if err != nil {
		return nil, err
	}

	deliveries := make([]delivery.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		count := counts[msg.ID]
		if count <= 0 {
			count = 1
		}
		deliveries = append(deliveries, delivery.Delivery{
			MessageID: msg.ID,
			Raw:       rawPayload(msg),
			Count:     count,
		})
	}
	return deliveries, nil
}

// deliveryCounts maps claimed message IDs to the broker's delivery counter.
// Each ID is queried individually: a bounded range scan of the PEL can miss
// claimed messages sorting behind other consumers' pending entries, which
// would understate their count and defer dead-lettering.
func (c *StreamConsumer) deliveryCounts(ctx context.Context, msgs []redis.XMessage) (map[string]int, error) {
	counts := make(map[string]int, len(msgs))
	for _, msg := range msgs {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.stream,
			Group:  c.group,
			Start:  msg.ID,
			End:    msg.ID,
			Count:  1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending entry %s: %w", msg.ID, err)
		}
		for _, p := range pending {
			counts[p.ID] = int(p.RetryCount)
		}
	}
	return counts, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func rawPayload(msg redis.XMessage) []byte {
	payload, _ := msg.Values["payload"].(string)
	return []byte(payload)
}
