package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink: closed")

// FileSink appends one line per write to a file that stays open for the
// life of the process. Writes are serialised so lines never interleave.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenFile opens (or creates) path for appending, creating parent
// directories as needed.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access log: %w", err)
	}
	return &FileSink{file: f, path: path}, nil
}

// Path returns the file location.
func (s *FileSink) Path() string {
	return s.path
}

// WriteLine appends line followed by a newline in a single write.
func (s *FileSink) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	_, err := s.file.Write(buf)
	return err
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
