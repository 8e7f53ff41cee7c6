// Package annlog provides the append-only JSONL annotation log used for
// replication audits. One logical record per line; appends are safe for
// concurrent use and never interleave within a line.
package annlog

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
)

// Sink appends one logical record per line.
type Sink interface {
	Append(line string) error
}

// Entry is the reference log line format: everything needed to replay or
// audit a single gateway call.
type Entry struct {
	Timestamp    time.Time               `json:"timestamp"`
	Text         string                  `json:"text"`
	Model        string                  `json:"model"`
	Provider     string                  `json:"provider,omitempty"`
	Options      model.GenOptions        `json:"options"`
	Prompt       string                  `json:"prompt"`
	Record       *model.AnnotationRecord `json:"record,omitempty"`
	RawExcerpt   string                  `json:"raw_excerpt,omitempty"`
	Usage        model.TokenUsage        `json:"usage"`
	FinishReason string                  `json:"finish_reason,omitempty"`
	Attempt      int                     `json:"attempt"`
}

// Line serializes the entry to a single JSON line.
func (e Entry) Line() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", eris.Wrap(err, "annlog: marshal entry")
	}
	return string(b), nil
}

// FileSink is a file-backed Sink. Appends are serialized by a mutex so
// concurrent ensemble calls cannot interleave lines.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the log file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "annlog: open %s", path)
	}
	return &FileSink{f: f}, nil
}

// Append writes one line followed by a newline.
func (s *FileSink) Append(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		return eris.Wrap(err, "annlog: append")
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
