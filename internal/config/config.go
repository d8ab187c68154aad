package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all console settings, populated from environment variables.
type Config struct {
	FeedURL    string
	FeedSource string // "ws" or "kafka"

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaGroupID     string

	HTTPAddr        string
	HistoryCapacity int

	// Initial map view.
	MapCenterLat float64
	MapCenterLon float64
	MapZoom      int

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Cap on the backoff between feed reconnection attempts.
	ReconnectMaxInterval time.Duration

	// Mapbox place lookup configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	reconnectMax, err := parseDuration("RECONNECT_MAX_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}

	capacity, err := parseInt("HISTORY_CAPACITY", 500)
	if err != nil {
		return nil, err
	}

	centerLat, err := parseFloat("MAP_CENTER_LAT", 43.7315)
	if err != nil {
		return nil, err
	}

	centerLon, err := parseFloat("MAP_CENTER_LON", -79.7624)
	if err != nil {
		return nil, err
	}

	zoom, err := parseInt("MAP_ZOOM", 13)
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	mapboxCacheSize, err := parseInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	// Place lookup is on whenever a token is present, unless explicitly
	// overridden.
	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		FeedURL:    envOrDefault("FEED_URL", "ws://localhost:8765/feed"),
		FeedSource: envOrDefault("FEED_SOURCE", "ws"),

		KafkaBrokers:     parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "beacon-pings"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "beacon-map"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		HistoryCapacity: capacity,

		MapCenterLat: centerLat,
		MapCenterLon: centerLon,
		MapZoom:      zoom,

		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ReconnectMaxInterval: reconnectMax,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	switch cfg.FeedSource {
	case "ws":
		if cfg.FeedURL == "" {
			return nil, errors.New("FEED_URL is required when FEED_SOURCE is ws")
		}
		if !strings.HasPrefix(cfg.FeedURL, "ws://") && !strings.HasPrefix(cfg.FeedURL, "wss://") {
			return nil, fmt.Errorf("FEED_URL must use a ws:// or wss:// scheme, got %q", cfg.FeedURL)
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when FEED_SOURCE is kafka")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required when FEED_SOURCE is kafka")
		}
	default:
		return nil, fmt.Errorf("FEED_SOURCE must be ws or kafka, got %q", cfg.FeedSource)
	}

	if cfg.HistoryCapacity <= 0 {
		return nil, errors.New("HISTORY_CAPACITY must be positive")
	}
	if cfg.MapCenterLat < -90 || cfg.MapCenterLat > 90 {
		return nil, errors.New("MAP_CENTER_LAT must be between -90 and 90")
	}
	if cfg.MapCenterLon < -180 || cfg.MapCenterLon > 180 {
		return nil, errors.New("MAP_CENTER_LON must be between -180 and 180")
	}
	if cfg.MapZoom < 1 || cfg.MapZoom > 19 {
		return nil, errors.New("MAP_ZOOM must be between 1 and 19")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.MapboxCacheSize <= 0 {
		return nil, errors.New("MAPBOX_CACHE_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
