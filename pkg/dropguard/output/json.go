package output

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// jsonOutput represents the full JSON output structure.
type jsonOutput struct {
	Alerts []jsonAlert `json:"alerts"`
	Meta   jsonMeta    `json:"meta"`
}

// jsonAlert represents an alert in JSON output.
type jsonAlert struct {
	ID           string    `json:"id"`
	File         string    `json:"file"`
	Rule         string    `json:"rule"`
	Time         time.Time `json:"time"`
	Status       string    `json:"status"`
	Origin       string    `json:"origin,omitempty"`
	OriginalPath string    `json:"original_path,omitempty"`
	Size         int64     `json:"file_size"`
	SizeHuman    string    `json:"file_size_human"`
}

// jsonMeta represents metadata in JSON output.
type jsonMeta struct {
	PolicyMode  string     `json:"policy_mode,omitempty"`
	LastScan    *time.Time `json:"last_scan_time,omitempty"`
	DaemonUp    bool       `json:"daemon_up"`
	TotalAlerts int        `json:"total_alerts"`
	Quarantined int        `json:"quarantined"`
	TotalSize   int64      `json:"total_size"`
	Warnings    []string   `json:"warnings,omitempty"`
}

func toJSONAlert(a types.Alert) jsonAlert {
	return jsonAlert{
		ID:           a.ID,
		File:         a.File,
		Rule:         a.Rule,
		Time:         a.Timestamp,
		Status:       string(a.Status),
		Origin:       a.Origin,
		OriginalPath: a.OriginalPath,
		Size:         a.Size,
		SizeHuman:    a.HumanSize(),
	}
}

// JSONFormatter formats output as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	alerts := make([]jsonAlert, len(r.Alerts))
	for i, a := range r.Alerts {
		alerts[i] = toJSONAlert(a)
	}

	out := jsonOutput{
		Alerts: alerts,
		Meta: jsonMeta{
			PolicyMode:  string(r.Mode),
			LastScan:    r.LastScan,
			DaemonUp:    r.DaemonUp,
			TotalAlerts: len(r.Alerts),
			Quarantined: r.Quarantined(),
			TotalSize:   r.TotalSize(),
			Warnings:    r.Warnings,
		},
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter writes one compact JSON object per alert, for jq and
// streaming consumers such as `dropguard watch`.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, a := range r.Alerts {
		data, err := json.Marshal(toJSONAlert(a))
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

// Ensure JSONLFormatter implements Formatter.
var _ Formatter = (*JSONLFormatter)(nil)
