package domain

import (
	"encoding/json"
	"time"
)

// Mode is the urgency a beacon reported with a ping.
type Mode string

const (
	// ModeDistress is the wire "SOS" token: the holder asked for help.
	ModeDistress Mode = "SOS"
	// ModeNormal is every other mode, including the wire "OK" token.
	ModeNormal Mode = "OK"
)

// Ping is one beacon report. It is immutable once constructed: nothing in
// this repository mutates a Ping after ClassifyMessage returns it.
type Ping struct {
	DeviceID  string
	Timestamp time.Time // device-reported, the ordering source of truth
	Lat       float64   // WGS-84 degrees
	Lon       float64

	Mode          Mode
	SignalQuality float64 // PDOP, lower is better; display only

	// Answers is the raw questionnaire list exactly as sent. It is kept
	// undecoded because devices do not guarantee well-formed entries;
	// NormalizeAnswers interprets it without ever failing.
	Answers json.RawMessage

	ReceivedAt time.Time // stamped from the package clock on classification
}

// Identity returns the best-effort display identity (deviceId, ts).
// Gateways may resend a ping verbatim, so two live pings can share an
// identity; the history sequence number is the only unique key.
func (p Ping) Identity() string {
	return p.DeviceID + "@" + p.Timestamp.UTC().Format(time.RFC3339Nano)
}
