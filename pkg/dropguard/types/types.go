// Package types holds the data shared between dropguard's pipeline, its
// persisted state and the admin surface, plus size parsing and formatting.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// PolicyMode selects what happens to a file that matches a rule.
type PolicyMode string

const (
	// ModeBlock records an alert and moves the file into quarantine.
	ModeBlock PolicyMode = "block"
	// ModeWarn records an alert and leaves the file in place.
	ModeWarn PolicyMode = "warn"
)

// ErrInvalidMode is returned by ParseMode for unknown mode names.
var ErrInvalidMode = errors.New("invalid policy mode")

// ParseMode parses "block" or "warn", case-insensitively.
func ParseMode(s string) (PolicyMode, error) {
	switch PolicyMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBlock:
		return ModeBlock, nil
	case ModeWarn:
		return ModeWarn, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Toggle returns the other mode. Anything unrecognised toggles to block.
func (m PolicyMode) Toggle() PolicyMode {
	if m == ModeBlock {
		return ModeWarn
	}
	return ModeBlock
}

func (m PolicyMode) String() string { return string(m) }

// EventKind is the kind of change reported by an event source.
type EventKind int

const (
	Created EventKind = iota + 1
	Modified
	Renamed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent is a raw change notification for a regular file.
//
// For Renamed, From is the old path and Path the new one. Path is empty when
// the source could not pair the rename with its destination.
type FileEvent struct {
	Path string
	Kind EventKind
	From string
	// Root is the watched root the subscription was made for.
	Root string
}

// Alert records one detection. File starts equal to OriginalPath and is
// rewritten once, to the quarantine destination, when the file is moved.
type Alert struct {
	ID           string     `json:"id"`
	File         string     `json:"file"`
	Rule         string     `json:"rule"`
	Timestamp    time.Time  `json:"time"`
	Status       PolicyMode `json:"status"`
	Origin       string     `json:"origin"`
	OriginalPath string     `json:"original_path"`
	Size         int64      `json:"file_size"`
}

// HumanSize returns Size in IEC units.
func (a Alert) HumanSize() string {
	return FormatSize(a.Size)
}

// Matches reports whether ref names this alert, by ID or by current path.
func (a Alert) Matches(ref string) bool {
	return ref != "" && (a.ID == ref || a.File == ref)
}

// AlertAction describes what happened to an alert in an AlertEvent.
type AlertAction string

const (
	AlertRaised      AlertAction = "raised"
	AlertQuarantined AlertAction = "quarantined"
	AlertRestored    AlertAction = "restored"
	AlertDismissed   AlertAction = "dismissed"
)

// AlertEvent is pushed to subscribers when the alert list changes.
type AlertEvent struct {
	Action AlertAction
	Alert  Alert
}

// ScanSummary is the result of a scan over existing files.
type ScanSummary struct {
	Scanned  int64 `json:"scanned"`
	Detected int64 `json:"detected"`
}

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
	TiB       = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses sizes such as "512", "5M", "1.5 GiB" or "12.3 KB". Units
// are binary regardless of the "i".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(m[2]), "IB"), "B")
	multiplier := map[string]int64{"": 1, "K": KiB, "M": MiB, "G": GiB, "T": TiB}[unit]
	if multiplier == 0 {
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}
	return int64(value * float64(multiplier)), nil
}

// FormatSize renders bytes in IEC units, e.g. "1.5 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
