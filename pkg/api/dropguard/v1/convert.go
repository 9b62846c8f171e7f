package dropguardv1

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// Struct field names shared by server and client.
const (
	FieldID              = "id"
	FieldFile            = "file"
	FieldRule            = "rule"
	FieldTime            = "time"
	FieldStatus          = "status"
	FieldOrigin          = "origin"
	FieldOriginalPath    = "original_path"
	FieldSize            = "file_size"
	FieldAction          = "action"
	FieldAlert           = "alert"
	FieldPath            = "path"
	FieldAlreadyRestored = "already_restored"
	FieldScanned         = "scanned"
	FieldDetected        = "detected"
)

// Status is the wire form of the daemon status.
type Status struct {
	Mode          types.PolicyMode
	Roots         []string
	QuarantineDir string
	Alerts        int
	Whitelist     int
	Tracked       int
	LastScan      *time.Time
	PID           int
	Uptime        time.Duration
}

// RestoreResult is the wire form of a restore outcome.
type RestoreResult struct {
	Alert           types.Alert
	Path            string
	AlreadyRestored bool
}

// AlertToStruct encodes an alert. Times are RFC 3339 with nanoseconds.
func AlertToStruct(a types.Alert) *structpb.Struct {
	return &structpb.Struct{Fields: alertFields(a)}
}

func alertFields(a types.Alert) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		FieldID:           structpb.NewStringValue(a.ID),
		FieldFile:         structpb.NewStringValue(a.File),
		FieldRule:         structpb.NewStringValue(a.Rule),
		FieldTime:         structpb.NewStringValue(formatTime(a.Timestamp)),
		FieldStatus:       structpb.NewStringValue(string(a.Status)),
		FieldOrigin:       structpb.NewStringValue(a.Origin),
		FieldOriginalPath: structpb.NewStringValue(a.OriginalPath),
		FieldSize:         structpb.NewNumberValue(float64(a.Size)),
	}
}

// AlertFromStruct decodes an alert written by AlertToStruct.
func AlertFromStruct(s *structpb.Struct) (types.Alert, error) {
	if s == nil {
		return types.Alert{}, fmt.Errorf("alert: empty struct")
	}
	f := s.GetFields()
	ts, err := parseTime(f[FieldTime].GetStringValue())
	if err != nil {
		return types.Alert{}, fmt.Errorf("alert %s: %w", f[FieldID].GetStringValue(), err)
	}
	return types.Alert{
		ID:           f[FieldID].GetStringValue(),
		File:         f[FieldFile].GetStringValue(),
		Rule:         f[FieldRule].GetStringValue(),
		Timestamp:    ts,
		Status:       types.PolicyMode(f[FieldStatus].GetStringValue()),
		Origin:       f[FieldOrigin].GetStringValue(),
		OriginalPath: f[FieldOriginalPath].GetStringValue(),
		Size:         int64(f[FieldSize].GetNumberValue()),
	}, nil
}

// AlertsToList encodes alerts in order.
func AlertsToList(alerts []types.Alert) *structpb.ListValue {
	values := make([]*structpb.Value, len(alerts))
	for i, a := range alerts {
		values[i] = structpb.NewStructValue(AlertToStruct(a))
	}
	return &structpb.ListValue{Values: values}
}

// AlertsFromList decodes a list written by AlertsToList.
func AlertsFromList(l *structpb.ListValue) ([]types.Alert, error) {
	alerts := make([]types.Alert, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		a, err := AlertFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// StringsToList encodes a string slice.
func StringsToList(items []string) *structpb.ListValue {
	values := make([]*structpb.Value, len(items))
	for i, s := range items {
		values[i] = structpb.NewStringValue(s)
	}
	return &structpb.ListValue{Values: values}
}

// StringsFromList decodes a list of strings. Non-string entries are skipped.
func StringsFromList(l *structpb.ListValue) []string {
	out := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

// EventToStruct encodes an alert event as {action, alert}.
func EventToStruct(ev types.AlertEvent) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAction: structpb.NewStringValue(string(ev.Action)),
		FieldAlert:  structpb.NewStructValue(AlertToStruct(ev.Alert)),
	}}
}

// EventFromStruct decodes an event written by EventToStruct.
func EventFromStruct(s *structpb.Struct) (types.AlertEvent, error) {
	f := s.GetFields()
	a, err := AlertFromStruct(f[FieldAlert].GetStructValue())
	if err != nil {
		return types.AlertEvent{}, err
	}
	return types.AlertEvent{
		Action: types.AlertAction(f[FieldAction].GetStringValue()),
		Alert:  a,
	}, nil
}

// RestoreToStruct encodes a restore result.
func RestoreToStruct(r RestoreResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAlert:           structpb.NewStructValue(AlertToStruct(r.Alert)),
		FieldPath:            structpb.NewStringValue(r.Path),
		FieldAlreadyRestored: structpb.NewBoolValue(r.AlreadyRestored),
	}}
}

// RestoreFromStruct decodes a restore result. An already-restored result
// may carry an empty alert.
func RestoreFromStruct(s *structpb.Struct) (RestoreResult, error) {
	f := s.GetFields()
	res := RestoreResult{
		Path:            f[FieldPath].GetStringValue(),
		AlreadyRestored: f[FieldAlreadyRestored].GetBoolValue(),
	}
	if as := f[FieldAlert].GetStructValue(); as != nil && as.GetFields()[FieldID].GetStringValue() != "" {
		a, err := AlertFromStruct(as)
		if err != nil {
			return RestoreResult{}, err
		}
		res.Alert = a
	}
	return res, nil
}

// SummaryToStruct encodes a scan summary.
func SummaryToStruct(sum types.ScanSummary) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldScanned:  structpb.NewNumberValue(float64(sum.Scanned)),
		FieldDetected: structpb.NewNumberValue(float64(sum.Detected)),
	}}
}

// SummaryFromStruct decodes a scan summary.
func SummaryFromStruct(s *structpb.Struct) types.ScanSummary {
	f := s.GetFields()
	return types.ScanSummary{
		Scanned:  int64(f[FieldScanned].GetNumberValue()),
		Detected: int64(f[FieldDetected].GetNumberValue()),
	}
}

// StatusToStruct encodes a daemon status.
func StatusToStruct(st Status) *structpb.Struct {
	roots := make([]*structpb.Value, len(st.Roots))
	for i, r := range st.Roots {
		roots[i] = structpb.NewStringValue(r)
	}
	lastScan := ""
	if st.LastScan != nil {
		lastScan = formatTime(*st.LastScan)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"policy_mode":    structpb.NewStringValue(string(st.Mode)),
		"roots":          structpb.NewListValue(&structpb.ListValue{Values: roots}),
		"quarantine_dir": structpb.NewStringValue(st.QuarantineDir),
		"alerts":         structpb.NewNumberValue(float64(st.Alerts)),
		"whitelist":      structpb.NewNumberValue(float64(st.Whitelist)),
		"tracked":        structpb.NewNumberValue(float64(st.Tracked)),
		"last_scan_time": structpb.NewStringValue(lastScan),
		"pid":            structpb.NewNumberValue(float64(st.PID)),
		"uptime_seconds": structpb.NewNumberValue(st.Uptime.Seconds()),
	}}
}

// StatusFromStruct decodes a daemon status.
func StatusFromStruct(s *structpb.Struct) (Status, error) {
	f := s.GetFields()
	st := Status{
		Mode:          types.PolicyMode(f["policy_mode"].GetStringValue()),
		Roots:         StringsFromList(f["roots"].GetListValue()),
		QuarantineDir: f["quarantine_dir"].GetStringValue(),
		Alerts:        int(f["alerts"].GetNumberValue()),
		Whitelist:     int(f["whitelist"].GetNumberValue()),
		Tracked:       int(f["tracked"].GetNumberValue()),
		PID:           int(f["pid"].GetNumberValue()),
		Uptime:        time.Duration(f["uptime_seconds"].GetNumberValue() * float64(time.Second)),
	}
	if raw := f["last_scan_time"].GetStringValue(); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return Status{}, fmt.Errorf("status last scan: %w", err)
		}
		st.LastScan = &ts
	}
	return st, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
