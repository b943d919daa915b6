package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestComponentLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.ReconstructionLogger("B1", "preserve_margin").Info("start").Send()
	l.SessionLogger("B1", "ana").Debug("locked").Send()

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["service"] != "budgetstore" {
		t.Errorf("Expected service budgetstore, got %v", lines[0]["service"])
	}
	if lines[0]["component"] != "reconstruction" || lines[0]["strategy"] != "preserve_margin" {
		t.Errorf("Unexpected reconstruction fields: %v", lines[0])
	}
	if lines[1]["seller_id"] != "ana" {
		t.Errorf("Expected seller_id ana, got %v", lines[1]["seller_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("hidden").Send()
	l.LogMerge("B1_v2", "B1_v3", "ours", 1, "", errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected only the error line, got %d", len(lines))
	}
	if lines[0]["level"] != "error" || lines[0]["error"] != "boom" {
		t.Errorf("Unexpected merge error line: %v", lines[0])
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "chatty", Output: &buf})

	l.Debug("hidden").Send()
	l.LogReconstruction("B1", "best_alternative", "B1_v4", 2, 0, time.Millisecond, nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["version_id"] != "B1_v4" {
		t.Errorf("Expected one info line for the reconstruction, got %v", lines)
	}
}
