package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Publish(ctx context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisherWithWriter(w, zerolog.Nop())

	err := p.Publish(context.Background(), Event{
		Type:     TypeAcknowledged,
		AlertID:  "a1",
		RuleID:   "r1",
		Severity: models.SeverityHigh,
		Actor:    "alice",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "r1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(TypeAcknowledged), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.At.IsZero())
	assert.Equal(t, "alice", decoded.Actor)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{}), ErrPublisherClosed)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisherWithWriter(w, zerolog.Nop())

	err := p.Publish(context.Background(), Event{Type: TypeCreated, RuleID: "r1"})
	require.Error(t, err)
	_, failed := p.Stats()
	assert.Equal(t, uint64(1), failed)

	p.complete([]kafka.Message{{Key: []byte("r1")}, {Key: []byte("r2")}}, errors.New("timeout"))
	p.complete([]kafka.Message{{Key: []byte("r3")}}, nil)
	published, failed := p.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(3), failed)
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestFanout(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("b failed")}
	f := Fanout{a, b, Nop{}}

	err := f.Publish(context.Background(), Event{Type: TypeResolved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.NoError(t, f.Close())
}
