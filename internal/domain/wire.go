package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the classification of one feed message.
type Kind int

const (
	// KindMalformed marks a message that could not be decoded as either a
	// ping or a control message. Malformed messages are dropped and logged;
	// they never terminate the connection.
	KindMalformed Kind = iota
	// KindControl marks a protocol message (the gateway hello) that carries
	// no ping data.
	KindControl
	// KindPing marks a decoded beacon report.
	KindPing
)

// String returns the kind as a short lowercase label, suitable for logs
// and metric label values.
func (k Kind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindPing:
		return "ping"
	default:
		return "malformed"
	}
}

// controlHello is the only control message type the gateway sends today.
const controlHello = "hello"

// wireMessage is the flat JSON shape shared by pings and control messages.
type wireMessage struct {
	Type     string          `json:"type,omitempty"`
	DeviceID string          `json:"deviceId"`
	TS       string          `json:"ts"`
	Lat      float64         `json:"lat"`
	Lon      float64         `json:"lon"`
	Mode     string          `json:"mode"`
	PDOP     float64         `json:"pdop"`
	Answers  json.RawMessage `json:"answers,omitempty"`
}

// ClassifyMessage decodes one raw feed message. The returned error is
// non-nil only for KindMalformed and describes the decode failure for
// logging; the Ping is meaningful only for KindPing.
//
// Decoding is deliberately lenient about content (missing deviceId, odd
// mode tokens, junk answers all produce a usable Ping) and strict about
// structure: non-JSON input, non-object input, and an unparseable ts are
// malformed, because ts is the ordering source of truth and cannot be
// guessed.
func ClassifyMessage(raw []byte) (Ping, Kind, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Ping{}, KindMalformed, fmt.Errorf("decode feed message: %w", err)
	}

	if msg.Type == controlHello {
		return Ping{}, KindControl, nil
	}

	ts, err := time.Parse(time.RFC3339, msg.TS)
	if err != nil {
		return Ping{}, KindMalformed, fmt.Errorf("parse ping ts %q: %w", msg.TS, err)
	}

	return Ping{
		DeviceID:      msg.DeviceID,
		Timestamp:     ts,
		Lat:           msg.Lat,
		Lon:           msg.Lon,
		Mode:          parseMode(msg.Mode),
		SignalQuality: msg.PDOP,
		Answers:       msg.Answers,
		ReceivedAt:    clock.Now(),
	}, KindPing, nil
}

// parseMode maps the wire mode token to a Mode. Only the exact "SOS" token
// reads as distress; unknown tokens degrade to normal rather than to an
// error so a future firmware cannot take down rendering.
func parseMode(s string) Mode {
	if s == string(ModeDistress) {
		return ModeDistress
	}
	return ModeNormal
}

// EncodePing serializes a ping back to its wire form. Used by the feed
// simulator and by tests; the live map itself only decodes.
func EncodePing(p Ping) ([]byte, error) {
	msg := wireMessage{
		DeviceID: p.DeviceID,
		TS:       p.Timestamp.Format(time.RFC3339),
		Lat:      p.Lat,
		Lon:      p.Lon,
		Mode:     string(p.Mode),
		PDOP:     p.SignalQuality,
		Answers:  p.Answers,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode ping: %w", err)
	}
	return data, nil
}

// EncodeHello serializes the gateway hello control message.
func EncodeHello() []byte {
	return []byte(`{"type":"hello"}`)
}
