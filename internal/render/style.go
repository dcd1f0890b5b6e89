package render

import "strings"

// CellClass is the display class of a table cell
type CellClass string

const (
	ClassDefault           CellClass = "default"
	ClassMuted             CellClass = "muted"
	ClassSeverityCritical  CellClass = "severity-critical"
	ClassSeverityMajor     CellClass = "severity-major"
	ClassSeverityMinor     CellClass = "severity-minor"
	ClassSeverityWarning   CellClass = "severity-warning"
	ClassStatusActive      CellClass = "status-active"
	ClassStatusUnreachable CellClass = "status-unreachable"
)

// CellStyle classifies a cell from its column header and value
func CellStyle(header, value string) CellClass {
	if value == Placeholder || value == "" || value == "N/A" {
		return ClassMuted
	}

	h := strings.ToLower(header)
	v := strings.ToLower(value)

	if strings.Contains(h, "severity") {
		switch v {
		case "critical":
			return ClassSeverityCritical
		case "major":
			return ClassSeverityMajor
		case "minor":
			return ClassSeverityMinor
		case "warning":
			return ClassSeverityWarning
		}
	}

	if strings.Contains(h, "status") {
		switch {
		case strings.Contains(v, "active"):
			return ClassStatusActive
		case strings.Contains(v, "unreachable"):
			return ClassStatusUnreachable
		}
	}

	return ClassDefault
}

// Tone is the visual treatment of a whole message
type Tone string

const (
	TonePlain   Tone = "plain"
	ToneWeather Tone = "weather"
	ToneRisk    Tone = "risk"
)

// ToneOf picks the tone from the leading weather glyph, if any
func ToneOf(text string) Tone {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "🌤"):
		return ToneWeather
	case strings.HasPrefix(text, "🌦"):
		return ToneRisk
	default:
		return TonePlain
	}
}
