// Package notify delivers serialized order events to the outside world.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/segmentio/kafka-go"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultBatchTimeout = 10 * time.Millisecond
	peerKafka           = "kafka"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes each event to "<prefix><event name>".
type KafkaNotifier struct {
	writer MessageWriter
	prefix string

	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           defaultBatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(writer MessageWriter, prefix string, tel observability.Observability) *KafkaNotifier {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &KafkaNotifier{
		writer:       writer,
		prefix:       prefix,
		log:          tel.Logger().With(observability.F("component", "kafka_notifier")),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, topic, key string, payload []byte) error {
	full := n.prefix + topic
	msg := kafka.Message{
		Topic: full,
		Value: payload,
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	start := time.Now()
	err := n.writer.WriteMessages(ctx, msg)
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
	}
	n.extCounter.Add(1,
		observability.L("peer", peerKafka),
		observability.L("endpoint", full),
		observability.L("outcome", outcome),
	)
	n.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerKafka),
		observability.L("endpoint", full),
	)
	if err != nil {
		return fmt.Errorf("notify: write %s: %w", full, err)
	}
	logctx.FromOr(ctx, n.log).Debug("notification_published",
		observability.F("topic", full),
		observability.F("key", key),
	)
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs notifications. It stands in when no broker is
// configured.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(tel observability.Observability) *LogNotifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &LogNotifier{log: tel.Logger().With(observability.F("component", "log_notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, topic, key string, payload []byte) error {
	logctx.FromOr(ctx, n.log).Info("notification",
		observability.F("topic", topic),
		observability.F("key", key),
		observability.F("bytes", len(payload)),
	)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
