package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/renameio"

	"github.com/zsiec/hwcodec/internal/media"
)

// fileSink writes the Annex B elementary stream to a temporary file that
// replaces the destination only when the session completes.
type fileSink struct {
	mu sync.Mutex
	f  *renameio.PendingFile
	n  int64
}

func newFileSink(path string) (*fileSink, error) {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) WriteFrame(_ context.Context, frame *media.CodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.Write(frame.Data)
	s.n += int64(n)
	return err
}

// commit atomically replaces the destination with the written stream.
func (s *fileSink) commit() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.CloseAtomicallyReplace(); err != nil {
		return s.n, err
	}
	return s.n, nil
}

// discard removes the temporary file. It is a no-op after commit.
func (s *fileSink) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.f.Cleanup()
}
