//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaadapter "github.com/autosat/beacon-map/internal/adapter/kafka"
	"github.com/autosat/beacon-map/internal/adapter/leaflet"
	"github.com/autosat/beacon-map/internal/config"
	"github.com/autosat/beacon-map/internal/domain"
	"github.com/autosat/beacon-map/internal/ingest"
	"github.com/autosat/beacon-map/internal/maphost"
	"github.com/autosat/beacon-map/internal/observability"
)

const testSourceTopic = "test-beacon-pings"

func testKafkaConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaSourceTopic: testSourceTopic,
		KafkaGroupID:     fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		HistoryCapacity:  500,
		MapCenterLat:     43.7315,
		MapCenterLon:     -79.7624,
		MapZoom:          13,
	}
}

// TestKafkaWriterReaderRoundTrip verifies the adapter layer: a ping published
// by kafka.Writer comes back through kafka.Reader as a classifiable frame
// with its key and headers intact.
func TestKafkaWriterReaderRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	cfg := testKafkaConfig(broker, "test-roundtrip")

	p := domain.Ping{
		DeviceID:      "autosat-07",
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Lat:           43.7315,
		Lon:           -79.7624,
		Mode:          domain.ModeDistress,
		SignalQuality: 2.9,
		Answers:       json.RawMessage(`[{"q":"in_danger","a":"yes"},{"q":"injured","a":"no"}]`),
	}

	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.PublishBatch(ctx, []domain.Ping{p}))

	// Read back through the transport and classify like the live map does.
	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancelRead := context.WithTimeout(ctx, 60*time.Second)
	defer cancelRead()
	frame, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "read from source topic")

	got, kind, cerr := domain.ClassifyMessage(frame)
	require.NoError(t, cerr)
	require.Equal(t, domain.KindPing, kind)
	assert.Equal(t, "autosat-07", got.DeviceID)
	assert.True(t, got.Timestamp.Equal(p.Timestamp), "ts should survive the round trip")
	assert.Equal(t, domain.ModeDistress, got.Mode)
	assert.InDelta(t, p.Lat, got.Lat, 1e-9)
	assert.InDelta(t, p.Lon, got.Lon, 1e-9)
	assert.True(t, domain.NormalizeAnswers(got.Answers).Danger)

	// Inspect the raw message with a separate consumer to verify key and headers.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSourceTopic,
		GroupID:     fmt.Sprintf("test-headers-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	msgCtx, cancelMsg := context.WithTimeout(ctx, 30*time.Second)
	defer cancelMsg()
	msg, err := consumer.ReadMessage(msgCtx)
	require.NoError(t, err, "read raw message")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "autosat-07", string(msg.Key), "messages are keyed by device id")
	assert.Equal(t, "SOS", headers["mode"])
	sentAt, err := time.Parse(time.RFC3339, headers["sent_at"])
	assert.NoError(t, err, "sent_at should be valid RFC3339")
	assert.True(t, sentAt.Equal(p.Timestamp))
}

// TestFeedToMapPipeline wires the full path with real Kafka: reader → ingest
// channel → map host → leaflet bridge, and verifies every published ping ends
// up in the history store with a live marker.
func TestFeedToMapPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	cfg := testKafkaConfig(broker, "test-map")

	// A small fleet: three devices, nine pings, one device in distress.
	base := time.Now().UTC().Truncate(time.Second)
	pings := make([]domain.Ping, 0, 9)
	for i := 0; i < 9; i++ {
		p := domain.Ping{
			DeviceID:      fmt.Sprintf("autosat-%02d", i%3+1),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Lat:           43.7 + float64(i)*0.001,
			Lon:           -79.76,
			Mode:          domain.ModeNormal,
			SignalQuality: 2.5,
		}
		if p.DeviceID == "autosat-03" {
			p.Mode = domain.ModeDistress
			p.Answers = json.RawMessage(`[{"q":"in_danger","a":"yes"},{"q":"alone","a":"yes"}]`)
		}
		pings = append(pings, p)
	}

	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.PublishBatch(ctx, pings))

	metrics := observability.NewMetricsForTesting()
	bridge := leaflet.NewBridge(discardLogger())
	host := maphost.New(bridge, cfg, discardLogger(), metrics)
	require.NoError(t, host.Mount())

	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	inbox := make(chan ingest.Event, 16)
	go host.Run(runCtx, inbox)
	go func() { _ = ingest.New(reader, inbox, discardLogger(), metrics).Run(runCtx) }()

	require.Eventually(t, func() bool {
		return host.Stats().HistoryLength == len(pings)
	}, 90*time.Second, 250*time.Millisecond, "pings should reach the history store")

	stats := host.Stats()
	assert.Equal(t, len(pings), stats.LiveMarkers, "one marker per stored ping")
	assert.True(t, host.HasMarker("autosat-03", base.Add(2*time.Second)), "distress ping should have a marker")
	assert.True(t, host.HasMarker("autosat-01", base), "first ping should have a marker")
}

// TestMalformedFrameSkipped publishes a poison frame ahead of a valid ping
// and verifies the pipeline drops the poison and keeps consuming.
func TestMalformedFrameSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)

	cfg := testKafkaConfig(broker, "test-poison")

	valid, err := domain.EncodePing(domain.Ping{
		DeviceID:      "autosat-01",
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Lat:           43.73,
		Lon:           -79.76,
		Mode:          domain.ModeNormal,
		SignalQuality: 3.1,
	})
	require.NoError(t, err)

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte("good"), Value: valid},
	))

	metrics := observability.NewMetricsForTesting()
	bridge := leaflet.NewBridge(discardLogger())
	host := maphost.New(bridge, cfg, discardLogger(), metrics)
	require.NoError(t, host.Mount())

	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	inbox := make(chan ingest.Event, 16)
	go host.Run(runCtx, inbox)
	go func() { _ = ingest.New(reader, inbox, discardLogger(), metrics).Run(runCtx) }()

	require.Eventually(t, func() bool {
		return host.Stats().HistoryLength == 1
	}, 60*time.Second, 250*time.Millisecond, "the valid ping should land")

	stats := host.Stats()
	assert.Equal(t, 1, stats.HistoryLength, "poison frame must not be stored")
	assert.Equal(t, 1, stats.LiveMarkers)
}
