// Package jsonl 输出模块测试
package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"odds-feed-reconciler/internal/core/model"
)

func TestChangeEntry_OutputCompleteness_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("changes JSON 必含必需字段", prop.ForAll(
		func(prevPx, currPx float64, detectedNs int64, direction string) bool {
			entry := &ChangeEntry{
				TsUnixMs: 1700000000000,
				Change: &model.ChangeRecord{
					StableKey:        "nba:evt1:Jayson Tatum:player_points:over",
					PrevPrice:        prevPx,
					CurrPrice:        currPx,
					PrevBook:         "draftkings",
					CurrBook:         "fanduel",
					Direction:        model.Direction(direction),
					DetectedAtUnixNs: detectedNs,
					ExpiresAtUnixNs:  detectedNs + 5_000_000_000,
				},
			}

			b, err := json.Marshal(entry)
			if err != nil {
				return false
			}

			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return false
			}
			if _, ok := m["ts_unix_ms"]; !ok {
				return false
			}
			change, ok := m["change"].(map[string]any)
			if !ok {
				return false
			}

			required := []string{
				"stable_key",
				"prev_price",
				"curr_price",
				"prev_book",
				"curr_book",
				"direction",
				"detected_at_unix_ns",
				"expires_at_unix_ns",
			}
			for _, k := range required {
				if _, ok := change[k]; !ok {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-10000, 10000),
		gen.Float64Range(-10000, 10000),
		gen.Int64(),
		gen.OneConstOf("up", "down"),
	))

	properties.TestingRun(t)
}

func TestWriter_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changes.jsonl")

	w, err := NewWriter(path, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.Write(&ChangeEntry{TsUnixMs: int64(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		var entry ChangeEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("第 %d 行不是合法 JSON: %v", lines, err)
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if lines != 10 {
		t.Fatalf("lines=%d, want 10", lines)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	w, err := NewWriter(path, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(&MetricsSnapshot{TsUnixMs: 1}); err == nil {
		t.Fatalf("已关闭的 writer 不应再接受写入")
	}
}
