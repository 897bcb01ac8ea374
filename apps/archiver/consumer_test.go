package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/pulse-chat/pkg/db"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/model"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case r.drained <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeSink struct {
	mu       sync.Mutex
	saved    []db.Event
	failures int
}

func (s *fakeSink) Save(_ context.Context, ev db.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("scylla unavailable")
	}
	s.saved = append(s.saved, ev)
	return nil
}

func record(t *testing.T, offset int64, r journal.Record) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: raw}
}

func TestConsumerArchivesAndCommits(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rd := &fakeReader{drained: make(chan struct{}, 1)}
	rd.queue = []kafka.Message{
		record(t, 1, journal.Record{Kind: journal.KindSent, MessageID: 10, ConversationID: 3, Actor: "alice", Status: model.StatusSent, At: at}),
		{Offset: 2, Value: []byte("garbage")},
		record(t, 3, journal.Record{Kind: journal.KindRead, MessageID: 10, ConversationID: 3, Actor: "bob", Status: model.StatusRead, At: at}),
	}
	sk := &fakeSink{failures: 1}
	c := &Consumer{reader: rd, sink: sk, log: zaptest.NewLogger(t), retry: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Consume(ctx)
	}()

	select {
	case <-rd.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	<-done

	require.Len(t, sk.saved, 2)
	assert.Equal(t, db.Event{ConversationID: 3, MessageID: 10, Kind: "message.sent", Actor: "alice", Status: "sent", At: at}, sk.saved[0])
	assert.Equal(t, "message.read", sk.saved[1].Kind)
	assert.Equal(t, []int64{1, 2, 3}, rd.committed)
}

func TestConsumerStopsWhileRetrying(t *testing.T) {
	rd := &fakeReader{drained: make(chan struct{}, 1)}
	rd.queue = []kafka.Message{
		record(t, 1, journal.Record{Kind: journal.KindSent, MessageID: 10, ConversationID: 3, At: time.Now()}),
	}
	sk := &fakeSink{failures: 1 << 30}
	c := &Consumer{reader: rd, sink: sk, log: zaptest.NewLogger(t), retry: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Consume(ctx)

	assert.Empty(t, sk.saved)
	assert.Empty(t, rd.committed, "unsaved records are not committed")
}
