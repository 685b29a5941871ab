// Package statsfeed consumes weekly fantasy stat updates from Kafka and
// applies them to the market.
package statsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
)

// EventStatUpdate is the only event type the consumer applies.
const EventStatUpdate = "STAT_UPDATE"

// StatEvent is the JSON payload of a stats message. fantasy_points may be a
// JSON number or a decimal string.
type StatEvent struct {
	EventType  string          `json:"event_type"`
	SecurityID string          `json:"security_id"`
	Week       int             `json:"week"`
	Points     decimal.Decimal `json:"fantasy_points"`
	Live       *model.Live     `json:"live,omitempty"`
}

// StatRecorder applies a weekly stat. *engine.Engine implements it.
type StatRecorder interface {
	RecordWeeklyStat(ctx context.Context, stat model.WeeklyStat, live *model.Live) (model.PricePoint, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// errSkip marks a message that can never be applied and is committed anyway.
var errSkip = errors.New("statsfeed: skip message")

// Consumer reads stat events and records them through the engine. Offsets
// are committed after a message is applied, so delivery is at-least-once;
// re-applying a week's stat is an upsert.
type Consumer struct {
	reader     MessageReader
	recorder   StatRecorder
	maxRetries int
	backoff    time.Duration
}

// NewConsumer creates a consumer group reader for the stats topic.
func NewConsumer(brokers []string, topic, groupID string, recorder StatRecorder) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // synchronous commits
	})
	return NewConsumerWithReader(reader, recorder)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, recorder StatRecorder) *Consumer {
	return &Consumer{reader: reader, recorder: recorder, maxRetries: 3, backoff: time.Second}
}

// Start consumes until ctx is cancelled, then closes the reader. It returns
// an error only when a message keeps failing inside the engine.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("stats consumer started")
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("stats consumer shutting down")
				return nil
			}
			slog.Error("stats fetch failed", "err", err)
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Stop with the offset uncommitted so the message is redelivered
			// on restart. Committing a later offset would skip it.
			return fmt.Errorf("stats message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Error("stats commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// handle applies one message, retrying engine failures that are not the
// caller's fault. Malformed and rejected messages are logged and skipped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	stat, live, err := Decode(msg.Value)
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		slog.Warn("stats message dropped", "offset", msg.Offset, "key", string(msg.Key), "err", err)
		return nil
	}

	for attempt := 0; ; attempt++ {
		point, err := c.recorder.RecordWeeklyStat(ctx, stat, live)
		if err == nil {
			metrics.StatsIngested.WithLabelValues("kafka").Inc()
			slog.Debug("stat applied", "security_id", stat.SecurityID, "week", stat.Week,
				"spot_price", point.Spot.String())
			return nil
		}
		if engine.CodeOf(err) != engine.CodeFatal {
			slog.Warn("stat rejected", "security_id", stat.SecurityID, "week", stat.Week, "err", err)
			return nil
		}
		if attempt >= c.maxRetries {
			return err
		}
		if !sleep(ctx, c.backoff*time.Duration(attempt+1)) {
			return ctx.Err()
		}
	}
}

// Decode parses a stats message. Events of other types return errSkip.
func Decode(value []byte) (model.WeeklyStat, *model.Live, error) {
	var ev StatEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return model.WeeklyStat{}, nil, fmt.Errorf("decode stat event: %w", err)
	}
	if ev.EventType != "" && ev.EventType != EventStatUpdate {
		return model.WeeklyStat{}, nil, errSkip
	}
	if ev.SecurityID == "" {
		return model.WeeklyStat{}, nil, errors.New("stat event: security_id is required")
	}
	return model.WeeklyStat{SecurityID: ev.SecurityID, Week: ev.Week, Points: ev.Points}, ev.Live, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
