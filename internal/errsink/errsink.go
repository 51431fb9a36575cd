// Package errsink records credentials whose processing failed so they can be
// handled manually.
package errsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink receives failed credentials.
type Sink interface {
	Record(secret string) error
}

// FileSink appends one credential per line to a file.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to path. The file and its directory are
// created on first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the sink file.
func (s *FileSink) Path() string {
	return s.path
}

// Record appends secret followed by a newline.
func (s *FileSink) Record(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create error sink dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open error sink: %w", err)
	}
	if _, err := f.WriteString(secret + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write error sink: %w", err)
	}
	return f.Close()
}

// Memory collects credentials in memory.
type Memory struct {
	mu      sync.Mutex
	secrets []string
}

// Record stores secret.
func (m *Memory) Record(secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, secret)
	return nil
}

// Secrets returns the recorded credentials in order.
func (m *Memory) Secrets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.secrets...)
}
