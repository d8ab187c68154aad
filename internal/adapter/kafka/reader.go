package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/autosat/beacon-map/internal/config"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes ping frames from a Kafka topic.
// It implements ingest.Transport, so a Kafka-fronted feed looks exactly like
// a websocket one to the classifier.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the configured source topic.
// A fresh group starts from the earliest retained frame so a restarted map
// can rebuild its history window.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, logger: logger}
}

// ReadMessage returns the value of the next message on the topic. Kafka
// metadata stays here: the classifier only ever sees the frame bytes.
// kafka-go reports a closed reader as io.EOF, which already matches the
// transport contract for a clean end of feed.
func (r *Reader) ReadMessage(ctx context.Context) ([]byte, error) {
	msg, err := r.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read kafka frame: %w", err)
	}

	r.logger.Debug("kafka frame",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"size", len(msg.Value),
	)
	return msg.Value, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}
