package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"Warning", WarnLevel},
		{"warn", WarnLevel},
		{"ERROR", ErrorLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestDomainFields(t *testing.T) {
	tests := []struct {
		got, want Field
	}{
		{EntityID(7), Field{Key: "entity_id", Value: int64(7)}},
		{Pair(3, 9), Field{Key: "pair", Value: "3->9"}},
		{Latency(5 * time.Millisecond), Field{Key: "latency", Value: "5ms"}},
		{Error(errors.New("boom")), Field{Key: "error", Value: "boom"}},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Field = %+v, want %+v", tt.got, tt.want)
		}
	}
	if v := Error(nil).Value; v != nil {
		t.Errorf("Error(nil).Value = %v, want nil", v)
	}
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message", EntityID(4))
	logger.Error("error message")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[0].Fields["entity_id"] != float64(4) {
		t.Errorf("First entry = %+v", entries[0])
	}
	if entries[1].Level != "ERROR" || entries[1].Fields != nil {
		t.Errorf("Second entry = %+v", entries[1])
	}
}

func TestJSONLogger_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)
	child := logger.With(Component("factory"))

	logger.SetLevel(ErrorLevel)
	child.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("Child logged below the shared level: %s", buf.String())
	}
	if child.GetLevel() != ErrorLevel {
		t.Errorf("Child level = %v, want ERROR", child.GetLevel())
	}

	child.Error("kept", Kind("node"))
	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Fields["component"] != "factory" || entries[0].Fields["kind"] != "node" {
		t.Errorf("Fields = %v", entries[0].Fields)
	}
}

func TestJSONLogger_ConcurrentChildrenDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			child := logger.With(EntityID(id))
			for j := 0; j < 20; j++ {
				child.Debug("tick", Int("j", j))
			}
		}(int64(i))
	}
	wg.Wait()

	if n := len(decodeLines(t, &buf)); n != 16*20 {
		t.Errorf("Decoded %d lines, want %d", n, 16*20)
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	op := StartTimer(logger, "batch complete", Batch(2))
	if elapsed := op.EndWithLevel(WarnLevel, Count(10)); elapsed < 0 {
		t.Errorf("Negative elapsed time %v", elapsed)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != "WARN" || e.Fields["batch"] != float64(2) || e.Fields["count"] != float64(10) {
		t.Errorf("Entry = %+v", e)
	}
	if _, ok := e.Fields["latency"]; !ok {
		t.Error("Latency field missing")
	}
}

func TestDefaultLoggerReplacement(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultLogger(NewJSONLogger(&buf, DebugLevel))
	defer SetDefaultLogger(nil)

	Debug("d")
	Info("i")
	Warn("w")
	ErrorLog("e")
	With(Session("abc")).Info("scoped")

	entries := decodeLines(t, &buf)
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(entries))
	}
	if entries[4].Fields["session"] != "abc" {
		t.Errorf("Scoped entry fields = %v", entries[4].Fields)
	}
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) returned nil")
	}
}
