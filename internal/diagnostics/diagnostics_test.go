// File: internal/diagnostics/diagnostics_test.go
package diagnostics

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFileSink(t *testing.T) {
	ctx := context.Background()

	newSink := func(t *testing.T) (*FileSink, string) {
		dir := t.TempDir()
		sink, err := NewFileSink(dir, zaptest.NewLogger(t))
		require.NoError(t, err)
		return sink, dir
	}

	t.Run("persists artifacts and index line", func(t *testing.T) {
		sink, dir := newSink(t)

		sink.Record(ctx, Record{
			ID:         "rec-1",
			Timestamp:  time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
			Operation:  "click",
			Attempts:   3,
			LastError:  `no element matching "#buy"`,
			PageURL:    "https://example.com/shop",
			Screenshot: []byte{0x89, 'P', 'N', 'G'},
			PageSource: "<html><body>shop</body></html>",
		})

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)

		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.Contains(t, names, "20260801_123000_rec-1.png")
		assert.Contains(t, names, "20260801_123000_rec-1.html")
		assert.Contains(t, names, "failures.jsonl")

		index, err := os.Open(filepath.Join(dir, "failures.jsonl"))
		require.NoError(t, err)
		defer index.Close()

		scanner := bufio.NewScanner(index)
		require.True(t, scanner.Scan())
		line := scanner.Text()
		assert.Contains(t, line, `"operation":"click"`)
		assert.Contains(t, line, "rec-1.png")
		assert.False(t, scanner.Scan(), "exactly one record expected")
	})

	t.Run("record without artifacts still indexed", func(t *testing.T) {
		sink, dir := newSink(t)

		sink.Record(ctx, Record{
			ID:        "rec-2",
			Timestamp: time.Now(),
			Operation: "navigate",
			Attempts:  2,
			LastError: "navigation timed out",
		})

		data, err := os.ReadFile(filepath.Join(dir, "failures.jsonl"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"operation":"navigate"`)
		assert.NotContains(t, string(data), "screenshot_ref")
	})

	t.Run("unwritable directory never panics", func(t *testing.T) {
		sink, dir := newSink(t)
		require.NoError(t, os.RemoveAll(dir))
		if strings.HasPrefix(dir, "/") {
			// Sink must degrade to logging only.
			assert.NotPanics(t, func() {
				sink.Record(ctx, Record{ID: "rec-3", Timestamp: time.Now(), Operation: "type"})
			})
		}
	})
}
