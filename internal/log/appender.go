package log

import (
	"errors"
	"io"
)

// MultiWriter fans a log line out to every appender. A failing appender
// does not stop the others; all failures are joined in the result.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 2)}
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	if writer != nil {
		m.writers = append(m.writers, writer)
	}
	return m
}

func (m *MultiWriter) Len() int { return len(m.writers) }

func (m *MultiWriter) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}
