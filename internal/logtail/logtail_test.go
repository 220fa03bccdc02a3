package logtail

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRead(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	var content strings.Builder
	var expectedAll []string
	for i := 1; i <= 10; i++ {
		line := fmt.Sprintf("Line %d", i)
		content.WriteString(line + "\n")
		expectedAll = append(expectedAll, line)
	}

	if err := os.WriteFile(logPath, []byte(content.String()), 0644); err != nil {
		t.Fatalf("failed to create test log file: %v", err)
	}

	tests := []struct {
		name     string
		maxLines int
		expected []string
	}{
		{name: "zero reads nothing", maxLines: 0, expected: nil},
		{name: "negative reads nothing", maxLines: -1, expected: nil},
		{name: "read partial (5)", maxLines: 5, expected: expectedAll[5:]},
		{name: "read exactly all (10)", maxLines: 10, expected: expectedAll},
		{name: "read more than exists (20)", maxLines: 20, expected: expectedAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(logPath, tt.maxLines)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Read() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRead_MissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "nope.log"), 10)
	if err != nil || got != nil {
		t.Fatalf("Read() = %v, %v; want nil, nil", got, err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Entry
	}{
		{
			name:  "plain text",
			input: "panic: boom",
			want:  Entry{Raw: "panic: boom"},
		},
		{
			name:  "broken json",
			input: `{"level":"info"`,
			want:  Entry{Raw: `{"level":"info"`},
		},
		{
			name:  "iso timestamp",
			input: `{"level":"warn","ts":"2025-03-01T12:00:00.000Z","logger":"order","caller":"x.go:1","msg":"order poll failed","order_id":"o-1"}`,
			want: Entry{
				Time:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
				Level:   "WARN",
				Logger:  "order",
				Message: "order poll failed",
				Fields:  map[string]any{"order_id": "o-1"},
			},
		},
		{
			name:  "epoch timestamp",
			input: `{"level":"info","ts":1740830400,"msg":"session started"}`,
			want: Entry{
				Time:    time.Unix(1740830400, 0),
				Level:   "INFO",
				Message: "session started",
				Fields:  map[string]any{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if !got.Time.Equal(tt.want.Time) {
				t.Fatalf("Time = %v, want %v", got.Time, tt.want.Time)
			}
			got.Time, tt.want.Time = time.Time{}, time.Time{}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEntryString(t *testing.T) {
	e := Entry{
		Level:   "INFO",
		Logger:  "cache",
		Message: "cache invalidated",
		Fields:  map[string]any{"key": "menu/items", "entries": float64(2)},
	}
	want := "INFO  [cache] cache invalidated entries=2 key=menu/items"
	if got := e.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got := (Entry{Raw: "panic: boom"}).String(); got != "panic: boom" {
		t.Fatalf("raw String() = %q", got)
	}
}

func TestTail_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platter.log")
	data := `{"level":"info","msg":"one"}` + "\n\n" + `{"level":"error","msg":"two"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Message != "one" || entries[1].Level != "ERROR" {
		t.Fatalf("Tail() = %+v", entries)
	}
}
