package normalize

import (
	"os"
	"path/filepath"
	"testing"
)

func defaultNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultTable())
	if err != nil {
		t.Fatalf("Failed to compile default table: %v", err)
	}
	return n
}

func TestMinerBecomesMinor(t *testing.T) {
	n := defaultNormalizer(t)

	if got := n.Normalize("show miner alarms"); got != "show minor alarms" {
		t.Errorf("Expected %q, got %q", "show minor alarms", got)
	}
}

func TestNormalize(t *testing.T) {
	n := defaultNormalizer(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "case insensitive", input: "Show MINER alarms", want: "Show minor alarms"},
		{name: "whole words only", input: "determiner", want: "determiner"},
		{name: "phrase with extra spaces", input: "set the thermo   stat to 22", want: "set the thermostat to 22"},
		{name: "severity", input: "list mayor alarms", want: "list major alarms"},
		{name: "ordinal", input: "temperature on third floor", want: "temperature on 3rd floor"},
		{name: "mis-hearing", input: "show humanity in lobby", want: "show humidity in lobby"},
		{name: "fillers", input: "um show uh critical alarms please", want: "show critical alarms"},
		{name: "hedging", input: "can you basically show, you know, battery level", want: "show, battery level"},
		{name: "punctuation spacing", input: "show   alarms ,  please .", want: "show alarms."},
		{name: "leading separator", input: "um, show alarms", want: "show alarms"},
		{name: "only fillers", input: "um uh hmm", want: ""},
		{name: "empty", input: "   ", want: ""},
		{name: "near miss left alone", input: "show humidty", want: "show humidty"},
		{name: "short words untouched", input: "show tower a", want: "show tower a"},
		{name: "multi-word correction", input: "energy in kilowatt hours for tour a", want: "energy in kWh for tower A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q): expected %q, got %q", tt.input, tt.want, got)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := defaultNormalizer(t)

	inputs := []string{
		"show minor alarms for tower A",
		"list devices with low battery",
		"what is the temperature on 3rd floor?",
		"check if device is online",
		"Show me all critical alarms, sorted by time.",
		"acknowledge the high temperature alarm for Device X",
		"um show miner alarms please",
		"show   humidity ,  today",
	}

	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(once)
		if once != twice {
			t.Errorf("Not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCorrectionsRunBeforeFillers(t *testing.T) {
	table := &Table{
		Name: "order",
		Corrections: []Correction{
			{From: "basically", To: "fundamentally"},
			{From: "ummm", To: "um"},
		},
		Fillers: []string{"basically", "um"},
	}
	n, err := New(table)
	if err != nil {
		t.Fatalf("Failed to compile table: %v", err)
	}

	if got := n.Normalize("basically show alarms"); got != "fundamentally show alarms" {
		t.Errorf("Expected correction to win over filler removal, got %q", got)
	}
	if got := n.Normalize("ummm show alarms"); got != "show alarms" {
		t.Errorf("Expected corrected filler to be removed, got %q", got)
	}
}

func TestCorrectionsApplyInTableOrder(t *testing.T) {
	table := &Table{
		Name: "chain",
		Corrections: []Correction{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	}
	n := MustNew(table)

	if got := n.Normalize("a b"); got != "c c" {
		t.Errorf("Expected ordered application to give %q, got %q", "c c", got)
	}
}

func TestOrdinaryWordsSurviveByDefault(t *testing.T) {
	n := defaultNormalizer(t)

	inputs := []string{
		"is the chiller warming up",
		"show lightning protection alarms",
		"which devices are critically low",
		"what is the compression ratio",
	}
	for _, in := range inputs {
		if got := n.Normalize(in); got != in {
			t.Errorf("Normalize(%q): expected it unchanged, got %q", in, got)
		}
	}
}

func TestFuzzySnappingWhenEnabled(t *testing.T) {
	n, err := New(DefaultTable(), WithFuzzyThreshold(SuggestedFuzzyThreshold))
	if err != nil {
		t.Fatalf("Failed to compile table: %v", err)
	}

	if got := n.Normalize("show humidty"); got != "show humidity" {
		t.Errorf("Expected %q, got %q", "show humidity", got)
	}
	if got := n.Normalize("show tower a"); got != "show tower a" {
		t.Errorf("Expected short words untouched, got %q", got)
	}

	off := MustNew(DefaultTable(), WithFuzzyThreshold(0))
	if got := off.Normalize("show humidty"); got != "show humidty" {
		t.Errorf("Expected no snapping, got %q", got)
	}
}

func TestHinglishLayer(t *testing.T) {
	n := MustNew(DefaultTable().Layer(HinglishTable()))

	tests := map[string]string{
		"taapman dikhao":          "temperature show",
		"tapmaan kya hai":         "temperature what is",
		"तापमान दिखाओ":            "temperature show",
		"कमरा 101 का तापमान":      "room 101 का temperature",
		"matlab miner alarms":     "minor alarms",
		"fan speed कम करो":        "fan speed low set",
		"accha show battery level": "show battery level",
	}
	for in, want := range tests {
		if got := n.Normalize(in); got != want {
			t.Errorf("Normalize(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestLayerPrecedence(t *testing.T) {
	overlay := &Table{Name: "site", Corrections: []Correction{{From: "temp", To: "temporary"}}}
	n := MustNew(DefaultTable().Layer(overlay), WithFuzzyThreshold(0))

	if got := n.Normalize("temp badge"); got != "temporary badge" {
		t.Errorf("Expected overlay correction to win, got %q", got)
	}
}

func TestTableValidation(t *testing.T) {
	if _, err := ParseTable([]byte("name: bad\ncorrections:\n  - {from: miner, to: minor}\n  - {from: MINER, to: major}\n")); err == nil {
		t.Error("Expected duplicate correction to be rejected")
	}
	if _, err := ParseTable([]byte("name: bad\ncorrections:\n  - {from: '', to: x}\n")); err == nil {
		t.Error("Expected empty from to be rejected")
	}
	if _, err := ParseTable([]byte("name: bad\nsynonyms: []\n")); err == nil {
		t.Error("Expected unknown field to be rejected")
	}
	if _, err := New(nil); err == nil {
		t.Error("Expected nil table to be rejected")
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	content := []byte("name: site\ncorrections:\n  - {from: chiller won, to: chiller 1}\nfillers:\n  - so\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}
	n := MustNew(table)
	if got := n.Normalize("so chiller won status"); got != "chiller 1 status" {
		t.Errorf("Expected %q, got %q", "chiller 1 status", got)
	}

	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLocalization(t *testing.T) {
	if table, err := Localization(""); err != nil || table != nil {
		t.Errorf("Expected no table for empty localization, got %v, %v", table, err)
	}
	if table, err := Localization("hinglish"); err != nil || table == nil || table.Name != "hinglish" {
		t.Errorf("Expected hinglish table, got %v, %v", table, err)
	}
	if _, err := Localization("klingon"); err == nil {
		t.Error("Expected error for unknown localization")
	}
}
