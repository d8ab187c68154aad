// Command feedsim runs a beacon fleet simulator behind a websocket feed
// gateway. Simulated devices wander around a center point and report pings on
// a fixed cadence, occasionally dropping into distress; real devices can be
// mixed in by POSTing their wire frames to /api/pings. With -kafka set, every
// ping is also mirrored into the source topic so the Kafka feed path can be
// exercised without hardware.
//
// Usage:
//
//	go run ./cmd/feedsim -addr :8765 -devices 5 -interval 2s -sos 0.05
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	kafkaadapter "github.com/autosat/beacon-map/internal/adapter/kafka"
	"github.com/autosat/beacon-map/internal/config"
	"github.com/autosat/beacon-map/internal/domain"
)

func main() {
	if err := run(); err != nil {
		slog.Error("feedsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8765", "listen address for the feed gateway")
	devices := flag.Int("devices", 5, "number of simulated beacons")
	interval := flag.Duration("interval", 2*time.Second, "delay between simulated pings")
	sosProb := flag.Float64("sos", 0.05, "per-ping probability of a beacon entering distress")
	chaos := flag.Float64("chaos", 0, "per-ping probability of emitting a malformed frame")
	centerLat := flag.Float64("lat", 43.7315, "fleet center latitude")
	centerLon := flag.Float64("lon", -79.7624, "fleet center longitude")
	brokers := flag.String("kafka", "", "comma-separated brokers to mirror pings into (optional)")
	topic := flag.String("kafka-topic", "beacon-pings", "topic for mirrored pings")
	seed := flag.Int64("seed", 0, "random seed, 0 seeds from the clock")
	flag.Parse()

	if *devices < 1 {
		return fmt.Errorf("-devices must be at least 1")
	}
	if *interval <= 0 {
		return fmt.Errorf("-interval must be positive")
	}
	if *sosProb < 0 || *sosProb > 1 || *chaos < 0 || *chaos > 1 {
		return fmt.Errorf("-sos and -chaos must be within [0, 1]")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	rng := rand.New(rand.NewSource(*seed))

	var mirror *kafkaadapter.Writer
	if *brokers != "" {
		mirrorCfg := &config.Config{
			KafkaBrokers:     splitBrokers(*brokers),
			KafkaSourceTopic: *topic,
		}
		mirror = kafkaadapter.NewWriter(mirrorCfg, logger)
		logger.Info("kafka mirroring enabled", "brokers", mirrorCfg.KafkaBrokers, "topic", *topic)
	}

	gw := &gateway{
		hub:    newHub(),
		mirror: mirror,
		logger: logger,
	}
	sim := newSimulator(gw, rng, *devices, *centerLat, *centerLon, *sosProb, *chaos)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /feed", gw.handleFeed)
	mux.HandleFunc("POST /api/pings", gw.handleIngest)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server error", "error", err)
		}
	}()
	go sim.run(ctx, *interval)

	logger.Info("feed gateway listening",
		"addr", *addr, "devices", *devices, "interval", *interval, "seed", *seed)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gw.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", "error", err)
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Error("kafka mirror close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// gateway serves the websocket feed and the HTTP ingest endpoint, fanning
// every accepted frame out to all connected feed clients.
type gateway struct {
	upgrader websocket.Upgrader
	hub      *hub
	mirror   *kafkaadapter.Writer
	logger   *slog.Logger
}

func (g *gateway) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("feed upgrade failed", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, domain.EncodeHello()); err != nil {
		conn.Close()
		return
	}
	g.hub.add(conn)
	g.logger.Info("feed client connected", "remote", r.RemoteAddr)

	// Drain the client side so close frames are processed.
	go func() {
		defer g.hub.remove(conn)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				g.logger.Info("feed client disconnected", "remote", r.RemoteAddr)
				return
			}
		}
	}()
}

// handleIngest accepts a wire frame from a real device and feeds it into the
// broadcast stream. Only frames that classify as pings are accepted.
func (g *gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}

	p, kind, cerr := domain.ClassifyMessage(body)
	if kind != domain.KindPing {
		msg := "frame is not a ping"
		if cerr != nil {
			msg = cerr.Error()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	g.publish(r.Context(), p, body)
	g.logger.Info("ingested device ping", "device", p.DeviceID, "mode", p.Mode)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// publish fans one ping frame out to feed clients and, when mirroring is on,
// to Kafka. The raw frame goes to the websocket clients untouched.
func (g *gateway) publish(ctx context.Context, p domain.Ping, frame []byte) {
	g.hub.broadcast(frame)
	if g.mirror != nil {
		if err := g.mirror.PublishBatch(ctx, []domain.Ping{p}); err != nil {
			g.logger.Warn("kafka mirror failed", "device", p.DeviceID, "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort gateway response
}

// hub tracks connected feed clients. Writes are serialized under the lock
// because gorilla connections allow only one concurrent writer.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{conns: map[*websocket.Conn]struct{}{}}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			delete(h.conns, conn)
			conn.Close()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // closing anyway
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down"), deadline)
		conn.Close()
	}
	h.conns = map[*websocket.Conn]struct{}{}
}

// simulator owns the beacon fleet and emits one ping per tick, cycling
// through devices round-robin.
type simulator struct {
	gw      *gateway
	rng     *rand.Rand
	fleet   []*beacon
	sosProb float64
	chaos   float64
	next    int
}

func newSimulator(gw *gateway, rng *rand.Rand, devices int, centerLat, centerLon, sosProb, chaos float64) *simulator {
	fleet := make([]*beacon, devices)
	for i := range fleet {
		fleet[i] = &beacon{
			id:  fmt.Sprintf("autosat-%02d", i+1),
			lat: centerLat + (rng.Float64()-0.5)*0.02,
			lon: centerLon + (rng.Float64()-0.5)*0.02,
		}
	}
	return &simulator{gw: gw, rng: rng, fleet: fleet, sosProb: sosProb, chaos: chaos}
}

func (s *simulator) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *simulator) tick(ctx context.Context) {
	if s.chaos > 0 && s.rng.Float64() < s.chaos {
		s.gw.hub.broadcast([]byte(`{"deviceId":"autosat-`))
		s.gw.logger.Debug("emitted malformed frame")
		return
	}

	b := s.fleet[s.next%len(s.fleet)]
	s.next++

	p := b.step(s.rng, s.sosProb)
	frame, err := domain.EncodePing(p)
	if err != nil {
		s.gw.logger.Error("encode ping", "device", p.DeviceID, "error", err)
		return
	}
	s.gw.publish(ctx, p, frame)
	s.gw.logger.Debug("ping", "device", p.DeviceID, "mode", p.Mode, "lat", p.Lat, "lon", p.Lon)
}

// beacon is one simulated device. Position follows a random walk; distress
// counts down over a few pings before the device recovers.
type beacon struct {
	id       string
	lat, lon float64
	distress int
}

func (b *beacon) step(rng *rand.Rand, sosProb float64) domain.Ping {
	b.lat += (rng.Float64() - 0.5) * 0.003
	b.lon += (rng.Float64() - 0.5) * 0.003

	if b.distress == 0 && rng.Float64() < sosProb {
		b.distress = 3 + rng.Intn(5)
	}

	mode := domain.ModeNormal
	var answers json.RawMessage
	if b.distress > 0 {
		b.distress--
		mode = domain.ModeDistress
		answers = distressAnswers(rng)
	} else if rng.Float64() > 0.15 {
		// Most routine pings carry the questionnaire; some devices skip it.
		answers = routineAnswers()
	}

	return domain.Ping{
		DeviceID:      b.id,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Lat:           b.lat,
		Lon:           b.lon,
		Mode:          mode,
		SignalQuality: math.Round((1.2+rng.Float64()*5)*10) / 10,
		Answers:       answers,
	}
}

// wireAnswer is the on-wire questionnaire row shape.
type wireAnswer struct {
	Q string `json:"q"`
	A string `json:"a"`
}

func distressAnswers(rng *rand.Rand) json.RawMessage {
	yn := func(p float64) string {
		if rng.Float64() < p {
			return "yes"
		}
		return "no"
	}
	rows := []wireAnswer{
		{Q: "in_danger", A: "yes"},
		{Q: "injured", A: yn(0.4)},
		{Q: "alone", A: yn(0.6)},
		{Q: "threat_active", A: yn(0.5)},
	}
	data, _ := json.Marshal(rows)
	return data
}

func routineAnswers() json.RawMessage {
	rows := []wireAnswer{
		{Q: "in_danger", A: "no"},
		{Q: "status", A: "ok"},
	}
	data, _ := json.Marshal(rows)
	return data
}
