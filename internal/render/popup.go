package render

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/autosat/beacon-map/internal/domain"
)

// popupTimeFormat renders the device timestamp in the operator's local zone.
const popupTimeFormat = "2006-01-02 15:04:05 MST"

// Device-controlled strings flow through html/template so a hostile device
// id or answer text cannot inject markup into the console.
var popupTmpl = template.Must(template.New("popup").Parse(`<div class="ping-popup{{if .Alert}} ping-popup-alert{{end}}">
<div class="ping-device">{{.DeviceID}}</div>
<div class="ping-mode">{{.Mode}}</div>
<table class="ping-fix">
<tr><th>position</th><td>{{.Position}}</td></tr>
<tr><th>pdop</th><td>{{.Signal}}</td></tr>
<tr><th>time</th><td>{{.Timestamp}}</td></tr>
</table>
<table class="ping-answers">
{{range .Rows}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
{{end}}</table>
</div>`))

type popupData struct {
	DeviceID  string
	Mode      string
	Position  string
	Signal    string
	Timestamp string
	Rows      []domain.AnswerRow
	Alert     bool
}

// alerting reports whether a ping warrants distress styling: the device
// either sent SOS or answered the questionnaire as in danger.
func alerting(p domain.Ping, view domain.AnswerView) bool {
	return p.Mode == domain.ModeDistress || view.Danger
}

// PopupHTML renders the popup body for one ping. view must be the normalized
// form of p.Answers so the popup styling matches the marker color.
func PopupHTML(p domain.Ping, view domain.AnswerView) (string, error) {
	data := popupData{
		DeviceID:  p.DeviceID,
		Mode:      string(p.Mode),
		Position:  fmt.Sprintf("%.6f, %.6f", p.Lat, p.Lon),
		Signal:    fmt.Sprintf("%.1f", p.SignalQuality),
		Timestamp: p.Timestamp.Local().Format(popupTimeFormat),
		Rows:      view.Rows,
		Alert:     alerting(p, view),
	}
	if data.DeviceID == "" {
		data.DeviceID = "(unknown device)"
	}

	var b strings.Builder
	if err := popupTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("execute popup template: %w", err)
	}
	return b.String(), nil
}
