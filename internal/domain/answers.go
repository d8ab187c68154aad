package domain

import (
	"encoding/json"
	"strings"
)

// answerUnknown is the placeholder rendered for a triage key the device
// never answered.
const answerUnknown = "unknown"

// dangerKey is the questionnaire key that switches the triage card to the
// distress row set when answered "yes".
const dangerKey = "in_danger"

// Row orders are fixed: the operator console always shows the same triage
// card shape so rows can be compared across pings at a glance.
var (
	dangerRowKeys = []string{"in_danger", "injured", "alone", "threat_active"}
	normalRowKeys = []string{"in_danger", "status"}
)

// AnswerRow is one label/value line of the normalized triage card.
type AnswerRow struct {
	Label string
	Value string
}

// AnswerView is the normalized, display-ready form of a ping's raw
// questionnaire. It is derived, never stored: the marker layer recomputes
// it when a marker is created and the ping's immutability keeps it stable
// for that marker's lifetime.
type AnswerView struct {
	Danger bool
	Rows   []AnswerRow
}

// NormalizeAnswers converts a raw answers payload into an AnswerView. It is
// total: nil input, truncated JSON, and non-list payloads all degrade to
// "no answers" instead of failing, so a malformed questionnaire can never
// break rendering.
//
// Questions and answers are trimmed and lower-cased; non-string values
// coerce to empty text. When a key repeats, the last occurrence wins.
func NormalizeAnswers(raw json.RawMessage) AnswerView {
	lookup := answerLookup(raw)

	danger := lookup[dangerKey] == "yes"
	keys := normalRowKeys
	if danger {
		keys = dangerRowKeys
	}

	rows := make([]AnswerRow, len(keys))
	for i, key := range keys {
		value, ok := lookup[key]
		if !ok {
			value = answerUnknown
		}
		rows[i] = AnswerRow{Label: key, Value: value}
	}
	return AnswerView{Danger: danger, Rows: rows}
}

// answerLookup builds the normalized question→answer map. Only a JSON list
// is treated as data; list elements that are not objects are skipped.
func answerLookup(raw json.RawMessage) map[string]string {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}

	lookup := make(map[string]string, len(items))
	for _, item := range items {
		var pair struct {
			Q any `json:"q"`
			A any `json:"a"`
		}
		if err := json.Unmarshal(item, &pair); err != nil {
			continue
		}
		lookup[coerceText(pair.Q)] = coerceText(pair.A)
	}
	return lookup
}

// coerceText normalizes a decoded JSON value for lookup: strings are
// trimmed and lower-cased, everything else becomes empty text.
func coerceText(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}
