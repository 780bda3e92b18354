package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func testEvent() coupon.Event {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return coupon.Event{
		Type:   coupon.EventRedeemed,
		At:     at,
		Coupon: coupon.Coupon{ID: 3, Code: "OFF15-QWERTY", Discount: 15, Status: coupon.StatusUsed, OwnerID: 77, CreatedAt: at},
	}
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &mockWriter{}
	sink := NewKafkaSink(w)
	sink.newID = func() string { return "evt-1" }
	sink.propagator = propagation.TraceContext{}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	require.NoError(t, sink.Publish(ctx, testEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "77", string(msg.Key))
	assert.Contains(t, string(msg.Value), `"type":"coupon.redeemed"`)
	assert.Contains(t, string(msg.Value), `"code":"OFF15-QWERTY"`)

	carrier := headerCarrier{headers: &msg.Headers}
	assert.Equal(t, "evt-1", carrier.Get(HeaderEventID))
	assert.Equal(t, "coupon.redeemed", carrier.Get(HeaderEventType))
	assert.Contains(t, carrier.Get("traceparent"), sc.TraceID().String())
}

func TestKafkaSink_PublishError(t *testing.T) {
	w := &mockWriter{err: errors.New("leader not available")}
	sink := NewKafkaSink(w)

	err := sink.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coupon.redeemed")
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	var headers []kafka.Header
	c := headerCarrier{headers: &headers}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}
