package dropguardv1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

func TestAlertFromStruct_BadTime(t *testing.T) {
	s := AlertToStruct(testAlert)
	s.Fields[FieldTime] = structpb.NewStringValue("yesterday")

	_, err := AlertFromStruct(s)
	assert.Error(t, err)

	_, err = AlertFromStruct(nil)
	assert.Error(t, err)
}

func TestAlertToStruct_ZeroTime(t *testing.T) {
	a := testAlert
	a.Timestamp = time.Time{}

	got, err := AlertFromStruct(AlertToStruct(a))
	require.NoError(t, err)
	assert.True(t, got.Timestamp.IsZero())
}

func TestStringsFromList_SkipsNonStrings(t *testing.T) {
	l := StringsToList([]string{"/a", "/b"})
	l.Values = append(l.Values, structpb.NewNumberValue(3))

	assert.Equal(t, []string{"/a", "/b"}, StringsFromList(l))
	assert.Empty(t, StringsFromList(nil))
}

func TestRestoreFromStruct(t *testing.T) {
	got, err := RestoreFromStruct(RestoreToStruct(RestoreResult{Alert: testAlert, Path: "/home/u/Downloads/a.txt"}))
	require.NoError(t, err)
	assert.Equal(t, testAlert, got.Alert)
	assert.Equal(t, "/home/u/Downloads/a.txt", got.Path)
	assert.False(t, got.AlreadyRestored)

	got, err = RestoreFromStruct(RestoreToStruct(RestoreResult{Path: "/p", AlreadyRestored: true}))
	require.NoError(t, err)
	assert.True(t, got.AlreadyRestored)
	assert.Empty(t, got.Alert.ID)
}

func TestStatusFromStruct(t *testing.T) {
	scan := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := Status{
		Mode:          types.ModeWarn,
		Roots:         []string{"/r1", "/r2"},
		QuarantineDir: "/q",
		Alerts:        4,
		Whitelist:     1,
		Tracked:       2,
		LastScan:      &scan,
		PID:           1234,
		Uptime:        90 * time.Second,
	}

	got, err := StatusFromStruct(StatusToStruct(in))
	require.NoError(t, err)
	assert.Equal(t, in, got)

	in.LastScan = nil
	got, err = StatusFromStruct(StatusToStruct(in))
	require.NoError(t, err)
	assert.Nil(t, got.LastScan)
}

func TestSummaryFromStruct(t *testing.T) {
	sum := types.ScanSummary{Scanned: 12, Detected: 3}
	assert.Equal(t, sum, SummaryFromStruct(SummaryToStruct(sum)))
}
