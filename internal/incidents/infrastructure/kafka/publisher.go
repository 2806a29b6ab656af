package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"safety-cloud/internal/eventing"
	incidentapp "safety-cloud/internal/incidents/application"
	"safety-cloud/internal/observability/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultBatchTimeout = 10 * time.Millisecond
	eventTypePrefix     = "incident."
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes incident lifecycle events to a Kafka topic, keyed by
// stream so events of one stream stay ordered on a partition.
type Publisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	logger       *zap.Logger
}

// Option configures the publisher.
type Option func(*Publisher)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.writeTimeout = timeout
		}
	}
}

// NewPublisher constructs a publisher for a comma separated broker list.
func NewPublisher(brokers, topic string, opts ...Option) (*Publisher, error) {
	var brokerList []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}
	if len(brokerList) == 0 {
		return nil, errors.New("kafka publisher: no brokers")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: empty topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: defaultWriteTimeout,
		BatchTimeout: defaultBatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, topic, opts...), nil
}

func newPublisher(writer messageWriter, topic string, opts ...Option) *Publisher {
	publisher := &Publisher{
		writer:       writer,
		topic:        topic,
		writeTimeout: defaultWriteTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(publisher)
	}
	return publisher
}

// Notify implements IncidentNotifier. Failures are logged and counted.
func (p *Publisher) Notify(ctx context.Context, event incidentapp.IncidentEvent) {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		metrics.IncEventPublishError("kafka")
		p.logger.Warn("incident event publish failed",
			zap.String("topic", p.topic),
			zap.String("event", event.Type),
			zap.Int64("accident_id", event.Incident.ID),
			zap.Error(err),
		)
	}
}

// Publish writes one event and waits for the leader ack.
func (p *Publisher) Publish(ctx context.Context, event incidentapp.IncidentEvent) error {
	meta := eventing.MetaFromContext(ctx)
	meta.StreamKey = event.Incident.StreamKey
	meta.OccurredAt = event.Incident.UpdatedAt
	env, err := eventing.BuildEnvelope(eventTypePrefix+event.Type, event.Incident, meta)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.Incident.StreamKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(env.SchemaVersion))},
			{Key: "accident_id", Value: []byte(strconv.FormatInt(event.Incident.ID, 10))},
		},
		Time: env.OccurredAt,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
