// Package journal publishes committed chat mutations to Kafka so other
// services (the archiver) can follow them. Publishing is best effort: a
// failed write is logged and never reported back to the caller.
package journal

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/model"
)

type Kind string

const (
	KindSent      Kind = "message.sent"
	KindDelivered Kind = "message.delivered"
	KindRead      Kind = "message.read"
	KindDeleted   Kind = "message.deleted"
	KindReaction  Kind = "message.reaction"
)

type Record struct {
	Kind           Kind                `json:"kind"`
	MessageID      int64               `json:"messageId"`
	ConversationID int64               `json:"conversationId"`
	Actor          string              `json:"actor"`
	Status         model.MessageStatus `json:"status,omitempty"`
	At             time.Time           `json:"at"`
}

func Decode(value []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(value, &r); err != nil {
		return r, errors.Wrap(err, "decode journal record")
	}
	if r.Kind == "" || r.MessageID == 0 {
		return r, errors.New("journal record missing kind or message id")
	}
	return r, nil
}

type Journal interface {
	Append(ctx context.Context, r Record)
	Close() error
}

// Nop drops every record. Used when no brokers are configured.
type Nop struct{}

func (Nop) Append(context.Context, Record) {}
func (Nop) Close() error                   { return nil }

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	w   writer
	log *zap.Logger
}

// NewKafka returns an async writer for topic. Records are keyed by
// conversation so one conversation's records stay ordered in a partition.
func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("journal write failed", zap.Int("records", len(msgs)), zap.Error(err))
			}
		},
	}
	return &Kafka{w: w, log: log}
}

func (k *Kafka) Append(ctx context.Context, r Record) {
	value, err := json.Marshal(r)
	if err != nil {
		k.log.Error("encode journal record", zap.Error(err))
		return
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(r.ConversationID, 10)),
		Value: value,
		Time:  r.At,
	})
	if err != nil {
		k.log.Warn("journal append failed", zap.String("kind", string(r.Kind)),
			zap.Int64("message", r.MessageID), zap.Error(err))
	}
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
