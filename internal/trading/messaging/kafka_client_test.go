package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pincex/tradingcore/internal/trading/events"
	"github.com/pincex/tradingcore/internal/trading/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
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

func testBatch() []events.Event {
	pair := model.NewPair("BTC", "USD")
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []events.Event{
		{
			Type: events.TypeFill, Pair: pair, PairSeq: 7, TenantID: "t1", Timestamp: at,
			Fill: &model.Fill{ID: "f1", Pair: pair, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100)},
		},
		{
			Type: events.TypeBreakerStateChanged, Pair: pair, PairSeq: 8, Timestamp: at,
			BreakerChanged: &events.BreakerStateChanged{Pair: pair, From: "closed", To: "open"},
		},
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(DefaultKafkaConfig(), w, zaptest.NewLogger(t))

	require.NoError(t, p.Publish(context.Background(), testBatch()))
	require.Len(t, w.msgs, 2)

	fill := w.msgs[0]
	assert.Equal(t, "tradingcore.trade", fill.Topic)
	assert.Equal(t, "BTC/USD", string(fill.Key))
	headers := map[string]string{}
	for _, h := range fill.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "fill", headers["type"])
	assert.Equal(t, "7", headers["pair_seq"])
	assert.Equal(t, "t1", headers["tenant_id"])

	var decoded events.Event
	require.NoError(t, json.Unmarshal(fill.Value, &decoded))
	assert.Equal(t, "f1", decoded.Fill.ID)

	assert.Equal(t, "tradingcore.breaker", w.msgs[1].Topic)
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(DefaultKafkaConfig(), w, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), testBatch())
	assert.ErrorIs(t, err, w.err)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(DefaultKafkaConfig(), w, zaptest.NewLogger(t))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), testBatch()), ErrPublisherClosed)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, zaptest.NewLogger(t))
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "trade", p.Topic(events.TypeFill))
	require.NoError(t, p.Close())
}
