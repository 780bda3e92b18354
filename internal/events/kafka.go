// Package events publishes coupon lifecycle events to Kafka.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/carrykaro/coupon-service/internal/domain/coupon"
	"github.com/carrykaro/coupon-service/internal/wire"
)

// Header keys set on every message.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ coupon.EventSink = (*KafkaSink)(nil)

// KafkaSink implements coupon.EventSink. Messages are keyed by owner, so the
// events of one coupon land on one partition in commit order.
type KafkaSink struct {
	w          MessageWriter
	propagator propagation.TextMapPropagator
	newID      func() string
}

// NewKafkaSink returns a sink writing through w. Trace context is injected
// into message headers with the global propagator.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{
		w:          w,
		propagator: otel.GetTextMapPropagator(),
		newID:      uuid.NewString,
	}
}

// NewWriter creates a writer for topic on brokers.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// Publish writes ev as one message.
func (s *KafkaSink) Publish(ctx context.Context, ev coupon.Event) error {
	id := s.newID()
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.Coupon.OwnerID, 10)),
		Value: wire.Event(id, ev),
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(id)},
			{Key: HeaderEventType, Value: []byte(ev.Type)},
		},
	}
	s.propagator.Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", ev.Type)
	}
	return nil
}

// headerCarrier adapts kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
