package log

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/pcap-analyser/internal/config"
)

// MultiWriter fans a formatted entry out to every appender. A failing
// appender does not stop the others; the last error is returned.
type MultiWriter struct {
	appenders []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Add(w io.Writer) *MultiWriter {
	m.appenders = append(m.appenders, w)
	return m
}

// AddRotatingFile appends the diagnostic log file, rotated by size and age.
func (m *MultiWriter) AddRotatingFile(file config.FileOutputConfig) *MultiWriter {
	return m.Add(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.Rotation.MaxSizeMB,
		MaxBackups: file.Rotation.MaxBackups,
		MaxAge:     file.Rotation.MaxAgeDays,
		Compress:   file.Rotation.Compress,
	})
}

// Len returns the number of appenders.
func (m *MultiWriter) Len() int { return len(m.appenders) }

func (m *MultiWriter) Write(p []byte) (int, error) {
	var err error
	for _, w := range m.appenders {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}
