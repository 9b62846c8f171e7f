package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// TSVFormatter formats alerts as tab-separated values.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(strings.Join(ExportHeader, "\t"))
	w.WriteByte('\n')

	for _, a := range r.Alerts {
		row := exportRow(a)
		for i := range row {
			row[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(row[i])
		}
		w.WriteString(strings.Join(row, "\t"))
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

// Ensure TSVFormatter implements Formatter.
var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter formats alerts as comma-separated values with proper quoting.
// It uses encoding/csv for RFC 4180 compliant output.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(ExportHeader); err != nil {
		return err
	}
	for _, a := range r.Alerts {
		if err := writer.Write(exportRow(a)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

// Ensure CSVFormatter implements Formatter.
var _ Formatter = (*CSVFormatter)(nil)

// MarkdownFormatter formats alerts as a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	fmt.Fprintf(w, "| %s |\n", strings.Join(ExportHeader, " | "))
	w.WriteString(strings.Repeat("|---", len(ExportHeader)) + "|\n")

	for _, a := range r.Alerts {
		row := exportRow(a)
		for i := range row {
			row[i] = escapeMarkdownPipe(row[i])
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(row, " | "))
	}
	return nil
}

// escapeMarkdownPipe escapes pipe characters in a string for Markdown tables.
func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

// Ensure MarkdownFormatter implements Formatter.
var _ Formatter = (*MarkdownFormatter)(nil)
