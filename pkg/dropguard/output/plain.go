package output

import (
	"bytes"
	"text/tabwriter"
)

// PlainFormatter formats alerts as an aligned table without colours, for
// scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := tw.Write([]byte("ID\tSTATUS\tRULE\tSIZE\tTIME\tFILE\n")); err != nil {
		return err
	}
	for _, a := range r.Alerts {
		line := shortID(a.ID) + "\t" + string(a.Status) + "\t" + a.Rule + "\t" +
			a.HumanSize() + "\t" + formatTime(a.Timestamp) + "\t" + a.File + "\n"
		if _, err := tw.Write([]byte(line)); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// shortID trims a UUID to its first block, which is what users type.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
