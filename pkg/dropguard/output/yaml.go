package output

import (
	"bytes"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlOutput represents the full YAML output structure.
type yamlOutput struct {
	Alerts []yamlAlert `yaml:"alerts"`
	Meta   yamlMeta    `yaml:"meta"`
}

type yamlAlert struct {
	ID           string    `yaml:"id"`
	File         string    `yaml:"file"`
	Rule         string    `yaml:"rule"`
	Time         time.Time `yaml:"time"`
	Status       string    `yaml:"status"`
	Origin       string    `yaml:"origin,omitempty"`
	OriginalPath string    `yaml:"original_path,omitempty"`
	Size         int64     `yaml:"file_size"`
	SizeHuman    string    `yaml:"file_size_human"`
}

type yamlMeta struct {
	PolicyMode  string     `yaml:"policy_mode,omitempty"`
	LastScan    *time.Time `yaml:"last_scan_time,omitempty"`
	DaemonUp    bool       `yaml:"daemon_up"`
	TotalAlerts int        `yaml:"total_alerts"`
	Quarantined int        `yaml:"quarantined"`
	TotalSize   int64      `yaml:"total_size"`
	Warnings    []string   `yaml:"warnings,omitempty"`
}

// YAMLFormatter formats output as YAML with the same structure as
// JSONFormatter.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	alerts := make([]yamlAlert, len(r.Alerts))
	for i, a := range r.Alerts {
		alerts[i] = yamlAlert{
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

	out := yamlOutput{
		Alerts: alerts,
		Meta: yamlMeta{
			PolicyMode:  string(r.Mode),
			LastScan:    r.LastScan,
			DaemonUp:    r.DaemonUp,
			TotalAlerts: len(r.Alerts),
			Quarantined: r.Quarantined(),
			TotalSize:   r.TotalSize(),
			Warnings:    r.Warnings,
		},
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
