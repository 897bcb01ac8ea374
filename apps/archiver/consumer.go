package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/db"
	"github.com/mahaj/pulse-chat/pkg/journal"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type sink interface {
	Save(ctx context.Context, ev db.Event) error
}

// Consumer copies journal records into message_events. Offsets are
// committed only after a record is saved, so a crash replays it.
type Consumer struct {
	reader reader
	sink   sink
	log    *zap.Logger
	retry  time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, sink sink, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, sink: sink, log: log, retry: time.Second}
}

// Consume runs until ctx is done.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed, retrying", zap.Duration("in", c.retry), zap.Error(err))
			if !sleep(ctx, c.retry) {
				return
			}
			continue
		}
		if !c.handle(ctx, m) {
			return
		}
	}
}

// handle saves one record and commits it. Undecodable records are skipped
// and committed; save failures are retried until ctx ends. It reports false
// once ctx is done.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	r, err := journal.Decode(m.Value)
	if err != nil {
		c.log.Warn("skipping bad record", zap.Int64("offset", m.Offset), zap.Error(err))
	} else {
		ev := db.Event{
			ConversationID: r.ConversationID,
			MessageID:      r.MessageID,
			Kind:           string(r.Kind),
			Actor:          r.Actor,
			Status:         string(r.Status),
			At:             r.At,
		}
		for {
			if err = c.sink.Save(ctx, ev); err == nil {
				break
			}
			c.log.Warn("save failed, retrying", zap.Int64("message", r.MessageID), zap.Error(err))
			if !sleep(ctx, c.retry) {
				return false
			}
		}
		c.log.Debug("archived", zap.String("kind", ev.Kind), zap.Int64("message", ev.MessageID))
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
	return ctx.Err() == nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
