// Package sink provides a disk-backed protocol.Sink: the default local
// destination for a received file when the embedder has no fancier storage
// of its own.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// DiskSink writes received chunk payloads directly to an offset-addressed
// file, pre-allocated to the declared transfer size so resume can write
// anywhere in the file without extending it chunk by chunk.
type DiskSink struct {
	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
	size   int64
	closed bool
}

// New creates (or reopens, for a resumed transfer) the file at path,
// truncated/extended to size so any offset within [0, size) is writable
// from the first call.
func New(path string, size int64, logger *slog.Logger) (*DiskSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink.create: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sink.preallocate: %w", err)
	}
	return &DiskSink{f: f, logger: logger, size: size}, nil
}

// Write persists p at the given absolute offset. Safe to call concurrently
// with itself (os.File.WriteAt is), though the protocol package never does
// so — each Receiver drives one DiskSink from a single goroutine.
func (s *DiskSink) Write(ctx context.Context, offset int64, p []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("sink.write: already closed")
	}
	if _, err := s.f.WriteAt(p, offset); err != nil {
		s.logger.Error("sink write failed", "offset", offset, "size", len(p), "error", err)
		return fmt.Errorf("sink.write: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying file.
func (s *DiskSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("sink.sync: %w", err)
	}
	return s.f.Close()
}

// DiskSource is the counterpart protocol.Source reading the declared file
// for the sending side.
type DiskSource struct {
	f *os.File
}

// OpenSource opens path read-only for use as a protocol.Source.
func OpenSource(path string) (*DiskSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source.open: %w", err)
	}
	return &DiskSource{f: f}, nil
}

// ReadAt mirrors io.ReaderAt, satisfying protocol.Source directly.
func (s *DiskSource) ReadAt(p []byte, offset int64) (int, error) {
	return s.f.ReadAt(p, offset)
}

// Close releases the underlying file.
func (s *DiskSource) Close() error {
	return s.f.Close()
}
