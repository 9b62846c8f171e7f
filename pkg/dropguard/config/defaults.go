// Package config provides configuration management for dropguard.
package config

import "time"

// Default configuration values for dropguard.
const (
	// DefaultPolicyMode is the policy applied when none is persisted.
	DefaultPolicyMode = "block"

	// DefaultMaxBytes is how much of each file is classified.
	DefaultMaxBytes = "5MiB"

	// DefaultInterval, DefaultTimeout and DefaultRequired tune the stability
	// detector.
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 8 * time.Second
	DefaultRequired = 3

	// DefaultDedupTTL is how long a handled path is suppressed.
	DefaultDedupTTL = 20 * time.Second

	// DefaultWorkers bounds concurrent pipelines.
	DefaultWorkers = 8

	// DefaultSettledAge lets scans skip the stability wait for older files.
	DefaultSettledAge = 30 * time.Second

	// DefaultMaxAlerts caps the alert list.
	DefaultMaxAlerts = 200
)

// DefaultIgnore contains patterns for editor and download temp files that are
// never complete documents.
var DefaultIgnore = []string{
	"*.swp",
	"*.crdownload",
	"*.part",
	".DS_Store",
}
