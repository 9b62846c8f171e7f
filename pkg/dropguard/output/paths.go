package output

import (
	"bytes"
)

// PathsFormatter writes each alert's current file path on its own line.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, a := range r.Alerts {
		w.WriteString(a.File)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

// Ensure PathsFormatter implements Formatter.
var _ Formatter = (*PathsFormatter)(nil)

// NullFormatter writes null-delimited paths for xargs -0.
type NullFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *NullFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, a := range r.Alerts {
		w.WriteString(a.File)
		w.WriteByte(0)
	}
	return nil
}

func init() {
	Register("null", func() Formatter {
		return &NullFormatter{}
	})
}

// Ensure NullFormatter implements Formatter.
var _ Formatter = (*NullFormatter)(nil)
