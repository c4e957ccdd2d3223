package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	var got []string

	b.Subscribe(func(n Notification) { got = append(got, "first:"+n.PublicationID) })
	b.Subscribe(func(n Notification) { got = append(got, "second:"+n.PublicationID) })

	b.Publish(Notification{Level: LevelWarning, PublicationID: "p1"})

	assert.Equal(t, []string{"first:p1", "second:p1"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0

	unsubscribe := b.Subscribe(func(Notification) { calls++ })
	b.Publish(Notification{})
	unsubscribe()
	unsubscribe()
	b.Publish(Notification{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := LogHandler(zap.New(core))

	h(Notification{Level: LevelWarning, Message: "recovered", PublicationID: "p1"})
	h(Notification{Level: LevelCritical, Message: "gave up", PublicationID: "p2"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "gave up", entries[1].Message)
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink_Send(t *testing.T) {
	ch := &fakeChannel{}
	sink := newAMQPSink(ch, DefaultExchange, nil)

	n := Notification{
		Level:         LevelCritical,
		PublicationID: "p1",
		CampaignID:    "c1",
		Message:       "timeout",
		RetryCount:    2,
		Time:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Send(n))

	assert.Equal(t, DefaultExchange, ch.exchange)
	assert.Equal(t, "generation.critical", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)

	var decoded Notification
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, n, decoded)

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
}

func TestAMQPSink_HandlerLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := newAMQPSink(&fakeChannel{err: errors.New("channel closed")}, "x", zap.New(core))

	sink.Handler()(Notification{Level: LevelWarning})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notification publish failed", logs.All()[0].Message)
}
