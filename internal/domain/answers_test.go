package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAnswers_EmptyList(t *testing.T) {
	view := NormalizeAnswers(json.RawMessage(`[]`))

	assert.False(t, view.Danger)
	assert.Equal(t, []AnswerRow{
		{Label: "in_danger", Value: "unknown"},
		{Label: "status", Value: "unknown"},
	}, view.Rows)
}

func TestNormalizeAnswers_DangerRowSet(t *testing.T) {
	raw := json.RawMessage(`[{"q":"IN_DANGER","a":"Yes"},{"q":"injured","a":"no"}]`)
	view := NormalizeAnswers(raw)

	assert.True(t, view.Danger)
	assert.Equal(t, []AnswerRow{
		{Label: "in_danger", Value: "yes"},
		{Label: "injured", Value: "no"},
		{Label: "alone", Value: "unknown"},
		{Label: "threat_active", Value: "unknown"},
	}, view.Rows)
}

func TestNormalizeAnswers_MalformedInputDegrades(t *testing.T) {
	cases := []struct {
		name string
		raw  json.RawMessage
	}{
		{name: "nil", raw: nil},
		{name: "empty", raw: json.RawMessage(``)},
		{name: "truncated JSON", raw: json.RawMessage(`[{"q":`)},
		{name: "object instead of list", raw: json.RawMessage(`{"q":"in_danger","a":"yes"}`)},
		{name: "bare string", raw: json.RawMessage(`"in_danger"`)},
		{name: "number", raw: json.RawMessage(`42`)},
		{name: "null", raw: json.RawMessage(`null`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view := NormalizeAnswers(tc.raw)

			assert.False(t, view.Danger)
			require.Len(t, view.Rows, 2)
			assert.Equal(t, AnswerRow{Label: "in_danger", Value: "unknown"}, view.Rows[0])
			assert.Equal(t, AnswerRow{Label: "status", Value: "unknown"}, view.Rows[1])
		})
	}
}

func TestNormalizeAnswers_LastDuplicateWins(t *testing.T) {
	raw := json.RawMessage(`[{"q":"in_danger","a":"yes"},{"q":"in_danger","a":"no"}]`)
	view := NormalizeAnswers(raw)

	assert.False(t, view.Danger)
	assert.Equal(t, "no", view.Rows[0].Value)
}

func TestNormalizeAnswers_TrimsAndLowercases(t *testing.T) {
	raw := json.RawMessage(`[{"q":"  In_Danger  ","a":"  YES "},{"q":"STATUS","a":" Sheltering "}]`)
	view := NormalizeAnswers(raw)

	assert.True(t, view.Danger)
	assert.Equal(t, "yes", view.Rows[0].Value)
}

func TestNormalizeAnswers_NonStringValuesCoerceEmpty(t *testing.T) {
	// A numeric answer is an answered key with empty text, not an absent key,
	// so it renders as empty rather than "unknown".
	raw := json.RawMessage(`[{"q":"in_danger","a":123},{"q":"status","a":null}]`)
	view := NormalizeAnswers(raw)

	assert.False(t, view.Danger)
	assert.Equal(t, []AnswerRow{
		{Label: "in_danger", Value: ""},
		{Label: "status", Value: ""},
	}, view.Rows)
}

func TestNormalizeAnswers_SkipsNonObjectElements(t *testing.T) {
	raw := json.RawMessage(`[5, "noise", {"q":"in_danger","a":"yes"}, [1,2]]`)
	view := NormalizeAnswers(raw)

	assert.True(t, view.Danger)
	assert.Equal(t, "yes", view.Rows[0].Value)
}

func TestNormalizeAnswers_StatusAnswered(t *testing.T) {
	raw := json.RawMessage(`[{"q":"status","a":"OK"}]`)
	view := NormalizeAnswers(raw)

	assert.False(t, view.Danger)
	assert.Equal(t, []AnswerRow{
		{Label: "in_danger", Value: "unknown"},
		{Label: "status", Value: "ok"},
	}, view.Rows)
}
