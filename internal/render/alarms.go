package render

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// AlarmHeaders are the columns of a rendered alarm list
var AlarmHeaders = []string{"Time", "Device", "Type", "Severity", "Status"}

// Alarm is one entry of an alarm list as the IoT cloud reports it. Older
// payloads use the short field names.
type Alarm struct {
	CreatedTime    json.RawMessage `json:"createdTime"`
	Time           json.RawMessage `json:"time"`
	OriginatorName string          `json:"originatorName"`
	Device         string          `json:"device"`
	Type           string          `json:"type"`
	Name           string          `json:"name"`
	Severity       string          `json:"severity"`
	Status         string          `json:"status"`
	State          string          `json:"state"`
}

// ParseAlarms decodes text as a JSON alarm array. It only succeeds when the
// first element carries a severity.
func ParseAlarms(text string) ([]Alarm, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return nil, false
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	if _, ok := raw[0]["severity"]; !ok {
		return nil, false
	}

	var alarms []Alarm
	if err := json.Unmarshal([]byte(text), &alarms); err != nil {
		return nil, false
	}
	return alarms, true
}

// AlarmTable lays alarms out under AlarmHeaders
func AlarmTable(alarms []Alarm) *Table {
	table := &Table{
		Headers: append([]string{}, AlarmHeaders...),
		Rows:    make([][]string, 0, len(alarms)),
	}
	for _, a := range alarms {
		table.Rows = append(table.Rows, []string{
			orPlaceholder(timestamp(a.CreatedTime), timestamp(a.Time)),
			orPlaceholder(a.OriginatorName, a.Device),
			orPlaceholder(a.Type, a.Name),
			orPlaceholder(a.Severity),
			orPlaceholder(a.Status, a.State),
		})
	}
	return table
}

// timestamp renders epoch milliseconds as UTC time and passes strings through
func timestamp(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
	}
	return string(raw)
}

func orPlaceholder(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return Placeholder
}
