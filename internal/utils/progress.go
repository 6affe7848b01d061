// Package utils provides utility functions for the backup service.
package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressInterval is how many bytes pass between two progress callbacks.
const ProgressInterval = 10 * 1024 * 1024

// ProgressFunc receives the running byte count and the time since the stream started.
type ProgressFunc func(total int64, elapsed time.Duration)

// meter counts bytes flowing through a stream and reports every ProgressInterval.
type meter struct {
	total  atomic.Int64
	start  time.Time
	notify ProgressFunc
}

func newMeter(notify ProgressFunc) meter {
	return meter{start: time.Now(), notify: notify}
}

func (m *meter) add(n int) {
	if n <= 0 {
		return
	}
	total := m.total.Add(int64(n))
	if m.notify != nil && total/ProgressInterval != (total-int64(n))/ProgressInterval {
		m.notify(total, time.Since(m.start))
	}
}

// ProgressReader counts the bytes read from the wrapped reader.
type ProgressReader struct {
	reader io.Reader
	meter
}

// NewProgressReader wraps reader. notify may be nil.
func NewProgressReader(reader io.Reader, notify ProgressFunc) *ProgressReader {
	return &ProgressReader{reader: reader, meter: newMeter(notify)}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.add(n)
	return n, err
}

// BytesRead returns the total number of bytes read.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.total.Load()
}

// ProgressWriter counts the bytes written to the wrapped writer.
type ProgressWriter struct {
	writer io.Writer
	meter
}

// NewProgressWriter wraps writer. notify may be nil.
func NewProgressWriter(writer io.Writer, notify ProgressFunc) *ProgressWriter {
	return &ProgressWriter{writer: writer, meter: newMeter(notify)}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.add(n)
	return n, err
}

// BytesWritten returns the total number of bytes written.
func (pw *ProgressWriter) BytesWritten() int64 {
	return pw.total.Load()
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats transfer rate in human-readable format.
func FormatRate(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatBytes(int64(bytesPerSecond)))
}
