package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

func sampleResult() *Result {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return &Result{
		Alerts: []types.Alert{
			{
				ID:           "0c2f5e8a-1111-2222-3333-444455556666",
				File:         "/q/1709285400_report.txt",
				Rule:         "email",
				Timestamp:    ts,
				Status:       types.ModeBlock,
				Origin:       "created",
				OriginalPath: "/home/user/Downloads/report.txt",
				Size:         2048,
			},
			{
				ID:           "9a1b2c3d-aaaa-bbbb-cccc-ddddeeeeffff",
				File:         "/home/user/Downloads/notes, final.txt",
				Rule:         "ssn",
				Timestamp:    ts.Add(time.Minute),
				Status:       types.ModeWarn,
				Origin:       "scan",
				OriginalPath: "/home/user/Downloads/notes, final.txt",
				Size:         100,
			},
		},
		Mode:     types.ModeBlock,
		LastScan: &ts,
		DaemonUp: true,
	}
}

func TestResult_Totals(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, int64(2148), r.TotalSize())
	assert.Equal(t, 1, r.Quarantined())
}

func TestRegistry_Available(t *testing.T) {
	names := Available()
	for _, want := range []string{"pretty", "plain", "csv", "tsv", "markdown", "json", "jsonl", "yaml", "template", "paths", "null"} {
		assert.Contains(t, names, want)
	}

	_, err := Get("nope")
	assert.Error(t, err)
}

func TestCSVFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&CSVFormatter{}).Format(&buf, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, ExportHeader, records[0])
	assert.Equal(t, "/q/1709285400_report.txt", records[1][0])
	assert.Equal(t, "2.0 KiB", records[1][1])
	assert.Equal(t, "email", records[1][2])
	assert.Equal(t, "block", records[1][4])
	assert.Equal(t, "/home/user/Downloads/report.txt", records[1][6])
	assert.Equal(t, "/home/user/Downloads/notes, final.txt", records[2][0])
}

func TestTSVFormatter_Format(t *testing.T) {
	r := sampleResult()
	r.Alerts[1].File = "/tmp/with\ttab.txt"

	var buf bytes.Buffer
	require.NoError(t, (&TSVFormatter{}).Format(&buf, r))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(ExportHeader, "\t"), lines[0])
	for _, line := range lines {
		assert.Len(t, strings.Split(line, "\t"), len(ExportHeader))
	}
	assert.True(t, strings.HasPrefix(lines[2], "/tmp/with tab.txt\t"))
}

func TestTSVFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TSVFormatter{}).Format(&buf, &Result{}))
	assert.Equal(t, strings.Join(ExportHeader, "\t")+"\n", buf.String())
}

func TestMarkdownFormatter_EscapesPipes(t *testing.T) {
	r := sampleResult()
	r.Alerts[0].File = "/tmp/a|b.txt"

	var buf bytes.Buffer
	require.NoError(t, (&MarkdownFormatter{}).Format(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "| File | File Size |")
	assert.Contains(t, out, `/tmp/a\|b.txt`)
}

func TestPlainFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "0c2f5e8a "))
	assert.Contains(t, lines[2], "warn")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0c2f5e8a", shortID("0c2f5e8a-1111-2222-3333-444455556666"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestPrettyFormatter_Format(t *testing.T) {
	r := sampleResult()
	r.Warnings = []string{"daemon is not running"}

	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "Policy:")
	assert.Contains(t, out, "report.txt")
	assert.Contains(t, out, "from /home/user/Downloads/report.txt")
	assert.Contains(t, out, "daemon is not running")
}

func TestPrettyFormatter_NoAlerts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Result{}))
	assert.Contains(t, buf.String(), "No alerts")
	assert.Contains(t, buf.String(), "never")
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleResult()))

	var out jsonOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Alerts, 2)
	assert.Equal(t, "email", out.Alerts[0].Rule)
	assert.Equal(t, "2.0 KiB", out.Alerts[0].SizeHuman)
	assert.Equal(t, "block", out.Meta.PolicyMode)
	assert.Equal(t, 2, out.Meta.TotalAlerts)
	assert.Equal(t, 1, out.Meta.Quarantined)
	assert.True(t, out.Meta.DaemonUp)
}

func TestJSONLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONLFormatter{}).Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var a jsonAlert
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &a))
	assert.Equal(t, "ssn", a.Rule)
	assert.Equal(t, "warn", a.Status)
}

func TestYAMLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, sampleResult()))

	var out yamlOutput
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Alerts, 2)
	assert.Equal(t, "/home/user/Downloads/report.txt", out.Alerts[0].OriginalPath)
	assert.Equal(t, int64(2148), out.Meta.TotalSize)
}

func TestTemplateFormatter_Format(t *testing.T) {
	f := NewTemplateFormatter(`{{range .Alerts}}{{.Rule}} {{bytes .Size}} {{date .Timestamp "2006-01-02"}}
{{end}}`)

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "email 2.0 KiB 2026-03-01\nssn 100 B 2026-03-01\n", buf.String())

	f.SetTemplate("{{.Mode}}")
	buf.Reset()
	require.NoError(t, f.Format(&buf, sampleResult()))
	assert.Equal(t, "block", buf.String())
}

func TestTemplateFormatter_ParseError(t *testing.T) {
	var buf bytes.Buffer
	err := NewTemplateFormatter("{{range}").Format(&buf, sampleResult())
	assert.Error(t, err)
}

func TestPathsFormatters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PathsFormatter{}).Format(&buf, sampleResult()))
	assert.Equal(t, "/q/1709285400_report.txt\n/home/user/Downloads/notes, final.txt\n", buf.String())

	buf.Reset()
	require.NoError(t, (&NullFormatter{}).Format(&buf, sampleResult()))
	assert.Equal(t, "/q/1709285400_report.txt\x00/home/user/Downloads/notes, final.txt\x00", buf.String())
}
