package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autosat/beacon-map/internal/config"
	"github.com/autosat/beacon-map/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes ping frames to a Kafka topic. The feed simulator uses it
// to mirror its websocket feed into Kafka.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured source topic.
// Messages are keyed by device id with a hash balancer, so one device's
// pings stay ordered within a partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSourceTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes multiple pings in a single
// WriteMessages call for efficiency.
func (w *Writer) PublishBatch(ctx context.Context, pings []domain.Ping) error {
	if len(pings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(pings))
	for i := range pings {
		msg, err := serializeToMessage(pings[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ping into a Kafka message.
func serializeToMessage(p domain.Ping) (kafkago.Message, error) {
	data, err := domain.EncodePing(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize ping: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(p.DeviceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(string(p.Mode))},
			{Key: "sent_at", Value: []byte(p.Timestamp.UTC().Format(time.RFC3339))},
		},
	}, nil
}
