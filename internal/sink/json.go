// Package sink persists crawl results as structured JSON records.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rufuslabs/rufus/internal/crawler"
)

// JSONSink writes one result document per run. Writing then reading a file
// reproduces the same ordered sequence of {url, text, score} fragments.
type JSONSink struct {
	logger *zap.Logger
}

// NewJSONSink returns a sink logging through logger.
func NewJSONSink(logger *zap.Logger) *JSONSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONSink{logger: logger}
}

// Write persists the result to path, creating parent directories as needed.
func (s *JSONSink) Write(path string, result crawler.Result) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write result %s: %w", path, err)
	}
	s.logger.Info("Results written",
		zap.String("path", path),
		zap.Int("fragments", len(result.Fragments)),
	)
	return nil
}

// Read loads a previously written result document.
func (s *JSONSink) Read(path string) (crawler.Result, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return crawler.Result{}, fmt.Errorf("read result %s: %w", path, err)
	}
	var result crawler.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return crawler.Result{}, fmt.Errorf("unmarshal result %s: %w", path, err)
	}
	return result, nil
}
