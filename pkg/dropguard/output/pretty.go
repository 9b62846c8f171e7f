package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// PrettyFormatter formats alerts with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	var parts []string

	if r.Mode != "" {
		parts = append(parts, LabelStyle.Render("Policy:")+" "+
			ModeStyle(r.Mode == types.ModeBlock).Render(string(r.Mode)))
	}

	scan := MutedStyle.Render("never")
	if r.LastScan != nil {
		scan = ValueStyle.Render(humanize.Time(*r.LastScan))
	}
	parts = append(parts, LabelStyle.Render("Last scan:")+" "+scan)

	if r.DaemonUp {
		parts = append(parts, SuccessStyle.Render("daemon: up"))
	} else {
		parts = append(parts, MutedStyle.Render("daemon: off"))
	}

	return HeaderBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	if len(r.Alerts) == 0 {
		return MutedStyle.Render("  No alerts") + "\n"
	}

	ruleWidth, sizeWidth := len("RULE"), len("SIZE")
	for _, a := range r.Alerts {
		ruleWidth = max(ruleWidth, len(a.Rule))
		sizeWidth = max(sizeWidth, len(a.HumanSize()))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("ID", 8)),
		TableHeaderStyle.Render(padRight("STATUS", 5)),
		TableHeaderStyle.Render(padRight("RULE", ruleWidth)),
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth)),
		TableHeaderStyle.Render(padRight("WHEN", 14)),
		TableHeaderStyle.Render("FILE")))

	for _, a := range r.Alerts {
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s  %s  %s\n",
			MutedStyle.Render(padRight(shortID(a.ID), 8)),
			ModeStyle(a.Status == types.ModeBlock).Render(padRight(string(a.Status), 5)),
			RuleStyle.Render(padRight(a.Rule, ruleWidth)),
			ValueStyle.Render(padLeft(a.HumanSize(), sizeWidth)),
			MutedStyle.Render(padRight(relTime(a.Timestamp), 14)),
			PathStyle.Render(a.File)))
		if a.OriginalPath != "" && a.OriginalPath != a.File {
			sb.WriteString(MutedStyle.Render(fmt.Sprintf("  %s  from %s", strings.Repeat(" ", 8), a.OriginalPath)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	parts := []string{
		LabelStyle.Render("Alerts:") + " " + ValueStyle.Render(fmt.Sprintf("%d", len(r.Alerts))),
		LabelStyle.Render("Quarantined:") + " " + ErrorStyle.Render(fmt.Sprintf("%d", r.Quarantined())),
		LabelStyle.Render("Total:") + " " + ValueStyle.Render(types.FormatSize(r.TotalSize())),
		MutedStyle.Render("Use -o csv to export"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

// padLeft pads a string with spaces on the left to achieve the desired width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
