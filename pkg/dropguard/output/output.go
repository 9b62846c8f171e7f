// Package output provides formatters for displaying and exporting dropguard
// alerts in various formats (pretty, plain, csv, tsv, json, yaml, etc.).
//
// The package uses a registry pattern to allow registration of multiple
// formatter implementations that can be selected at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// TimeLayout is how alert times are rendered in tabular output.
const TimeLayout = "2006-01-02 15:04:05"

// ExportHeader is the column order of CSV and TSV exports.
var ExportHeader = []string{"File", "File Size", "Rule", "Time", "Status", "Origin", "Original Path"}

// Result contains the complete output data for formatting.
type Result struct {
	// Alerts are listed newest first.
	Alerts []types.Alert

	// Mode is the current policy mode, if known.
	Mode types.PolicyMode

	// LastScan is when existing files were last scanned.
	LastScan *time.Time

	// DaemonUp indicates if the dropguard daemon answered.
	DaemonUp bool

	// Warnings contains any warning messages to show alongside the alerts.
	Warnings []string
}

// TotalSize returns the sum of all alert file sizes.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, a := range r.Alerts {
		total += a.Size
	}
	return total
}

// Quarantined counts block-mode alerts.
func (r *Result) Quarantined() int {
	n := 0
	for _, a := range r.Alerts {
		if a.Status == types.ModeBlock {
			n++
		}
	}
	return n
}

// exportRow renders an alert in ExportHeader order.
func exportRow(a types.Alert) []string {
	return []string{
		a.File,
		a.HumanSize(),
		a.Rule,
		formatTime(a.Timestamp),
		string(a.Status),
		a.Origin,
		a.OriginalPath,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimeLayout)
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	// It returns an error if formatting fails.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
// It returns an error if the formatter is not found.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
