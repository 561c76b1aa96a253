// File: internal/diagnostics/diagnostics.go
//
// Package diagnostics receives failure artifacts from the resilience layer.
// Everything here is best effort: a sink that cannot persist a record logs
// the problem and swallows it, because diagnostics must never mask the
// error that triggered them.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record captures the state around a failed operation after its retries are
// exhausted. The core hands it off and retains nothing.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	PageURL   string    `json:"page_url,omitempty"`

	// Raw artifacts; sinks persist them and record the references.
	Screenshot []byte `json:"-"`
	PageSource string `json:"-"`

	// References filled in by the sink that persisted the artifacts.
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
	PageSourceRef string `json:"page_source_ref,omitempty"`
}

// Sink consumes diagnostic records. Implementations must not panic and must
// not return errors into the core.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Record(context.Context, Record) {}

// FileSink writes each record's artifacts under a directory: the screenshot
// as PNG, the page source as HTML, and one JSON line per record in an index
// file.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates the artifact directory if needed.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory %q: %w", dir, err)
	}
	return &FileSink{dir: dir, logger: logger.Named("diagnostics")}, nil
}

// Record persists the artifacts. Failures are logged, never propagated.
func (s *FileSink) Record(ctx context.Context, rec Record) {
	stamp := rec.Timestamp.Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", stamp, rec.ID)

	if len(rec.Screenshot) > 0 {
		path := filepath.Join(s.dir, base+".png")
		if err := os.WriteFile(path, rec.Screenshot, 0o644); err != nil {
			s.logger.Warn("Failed to write failure screenshot", zap.Error(err))
		} else {
			rec.ScreenshotRef = path
		}
	}

	if rec.PageSource != "" {
		path := filepath.Join(s.dir, base+".html")
		if err := os.WriteFile(path, []byte(rec.PageSource), 0o644); err != nil {
			s.logger.Warn("Failed to write failure page source", zap.Error(err))
		} else {
			rec.PageSourceRef = path
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("Failed to encode diagnostic record", zap.Error(err))
		return
	}

	index, err := os.OpenFile(filepath.Join(s.dir, "failures.jsonl"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("Failed to open diagnostics index", zap.Error(err))
		return
	}
	defer index.Close()

	if _, err := index.Write(append(line, '\n')); err != nil {
		s.logger.Warn("Failed to append diagnostic record", zap.Error(err))
		return
	}

	s.logger.Info("Failure diagnostics captured",
		zap.String("operation", rec.Operation),
		zap.String("screenshot", rec.ScreenshotRef),
		zap.String("page_source", rec.PageSourceRef))
}
