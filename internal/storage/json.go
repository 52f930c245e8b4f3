package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/masahif/wikitadoru/internal/crawler"
)

// ErrSinkClosed is returned when emitting to a closed sink
var ErrSinkClosed = errors.New("sink is closed")

const jsonIndent = "    "

// JSONSink streams documents into a single JSON array
type JSONSink struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	count  int
	closed bool
}

// NewJSONSink creates (or truncates) the file at path
func NewJSONSink(path string) (*JSONSink, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &JSONSink{file: file, w: bufio.NewWriter(file)}, nil
}

// Emit appends one document to the array
func (s *JSONSink) Emit(_ context.Context, record *crawler.Record) error {
	data, err := encodeDocument(NewDocument(record), jsonIndent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	sep := ",\n"
	if s.count == 0 {
		sep = "[\n"
	}
	if _, err := s.w.WriteString(sep + jsonIndent); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}
	s.count++
	return nil
}

// Close terminates the array and closes the file
func (s *JSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	tail := "\n]\n"
	if s.count == 0 {
		tail = "[]\n"
	}
	_, writeErr := s.w.WriteString(tail)
	return errors.Join(writeErr, s.w.Flush(), s.file.Close())
}

// JSONLSink writes one compact document per line
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// NewJSONLSink creates (or truncates) the file at path
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &JSONLSink{file: file, w: bufio.NewWriter(file)}, nil
}

// Emit appends one line
func (s *JSONLSink) Emit(_ context.Context, record *crawler.Record) error {
	data, err := encodeDocument(NewDocument(record), "")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}
	// Keep the file usable while a long crawl is running
	return s.w.Flush()
}

// Close flushes and closes the file
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.w.Flush(), s.file.Close())
}

// encodeDocument marshals doc without HTML escaping. A non-empty indent
// produces output meant to sit one level deep inside an array.
func encodeDocument(doc Document, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent(indent, indent)
	}
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", doc.ID, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
