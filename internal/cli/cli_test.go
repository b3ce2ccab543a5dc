package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
	"github.com/JonMunkholm/docmigrate/internal/source"
)

const exportJSON = `{
  "__collections__": {
    "customers": {
      "C1": {
        "name": "Acme",
        "__collections__": {
          "jobs": {"J7": {"title": "paint"}}
        }
      },
      "C2": {"name": "Globex"}
    },
    "invoices": {
      "I1": {"customer_ref": "C1", "amount": 1250},
      "I2": {"customer_ref": "C9", "amount": 80}
    },
    "audit_log": {
      "A1": {"msg": "x"}
    }
  }
}`

const modelYAML = `
entity_types:
  - name: customer
    table: customers
    source: customers
    attributes:
      - column: name
  - name: job
    table: jobs
    source: customers/*/jobs
    attributes:
      - column: title
    foreign_keys:
      - column: customer_id
        references: customer
        candidates: [$parent]
  - name: invoice
    table: invoices
    source: invoices
    attributes:
      - column: amount
        type: bigint
    foreign_keys:
      - column: customer_id
        references: customer
        candidates: [customer_ref]
`

func init() {
	color.NoColor = true
}

var envKeys = []string{
	"DATABASE_URL", "TARGET", "SQLITE_PATH", "SOURCE", "EXPORT_FILE", "MODEL_FILE",
	"WORKERS", "REPORT_FILE", "METRICS_FILE", "LOG_LEVEL", "MONGO_DATABASE",
}

// workspace writes the fixture files into a fresh working directory.
func workspace(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, os.WriteFile("export.json", []byte(exportJSON), 0o600))
	require.NoError(t, os.WriteFile("model.yaml", []byte(modelYAML), 0o600))
	return dir
}

func TestMigrateCmd_SQLite(t *testing.T) {
	dir := workspace(t)

	var out bytes.Buffer
	cmd := MigrateCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--target", "sqlite", "--sqlite-path", filepath.Join(dir, "out.db"), "--metrics-file", "metrics.prom"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "invoice")
	assert.Contains(t, out.String(), "1 integrity anomalies")
	assert.Contains(t, out.String(), "unresolved_reference")

	r, err := readReport(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"customer", "job", "invoice"}, r.Order)
	assert.Equal(t, 2, r.Counts("invoice").RowsWritten)
	require.Len(t, r.Unresolved, 1)
	assert.Equal(t, "C9", r.Unresolved[0].LegacyValue)

	metrics, err := os.ReadFile("metrics.prom")
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `docmigrate_rows_written_total{entity_type="customer"} 2`)
}

func TestMigrateCmd_FailOnAnomaly(t *testing.T) {
	dir := workspace(t)

	cmd := MigrateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--target", "sqlite", "--sqlite-path", filepath.Join(dir, "out.db"), "--fail-on-anomaly"})
	err := cmd.Execute()
	assert.True(t, errors.Is(err, ErrAnomalies))
}

func TestMigrateCmd_CycleIsFatal(t *testing.T) {
	dir := workspace(t)
	require.NoError(t, os.WriteFile("model.yaml", []byte(`
entity_types:
  - name: a
    source: customers
    foreign_keys:
      - column: a_id
        references: a
`), 0o600))

	cmd := MigrateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--target", "sqlite", "--sqlite-path", filepath.Join(dir, "out.db")})
	err := cmd.Execute()
	assert.ErrorIs(t, err, model.ErrConfig)
	assert.NoFileExists(t, filepath.Join(dir, "report.json"))
}

func TestVerifyAndEvolveCmds(t *testing.T) {
	dir := workspace(t)
	db := filepath.Join(dir, "out.db")

	migrate := MigrateCmd()
	migrate.SetOut(&bytes.Buffer{})
	migrate.SetArgs([]string{"--target", "sqlite", "--sqlite-path", db})
	require.NoError(t, migrate.Execute())

	var out bytes.Buffer
	verify := VerifyCmd()
	verify.SetOut(&out)
	verify.SetArgs([]string{"--target", "sqlite", "--sqlite-path", db, "--report", "verify.json"})
	require.NoError(t, verify.Execute())
	assert.Contains(t, out.String(), "No integrity anomalies")
	assert.FileExists(t, "verify.json")

	out.Reset()
	evolve := EvolveCmd()
	evolve.SetOut(&out)
	evolve.SetArgs([]string{"--target", "sqlite", "--sqlite-path", db})
	require.NoError(t, evolve.Execute())
	assert.Equal(t, "Schema is up to date\n", out.String())
}

func TestPlanCmd(t *testing.T) {
	workspace(t)

	var out bytes.Buffer
	cmd := PlanCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--model", "model.yaml"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[2], "customer")
	assert.Contains(t, lines[3], "job")
	assert.Contains(t, lines[3], "customer_id -> customer")
	assert.Contains(t, lines[4], "invoice")
}

func TestPrintPaths_MarksUnbound(t *testing.T) {
	docs, err := source.LoadExport(strings.NewReader(exportJSON))
	require.NoError(t, err)
	m, err := model.Parse([]byte(modelYAML))
	require.NoError(t, err)

	paths, err := source.NewReader(docs).Discover(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printPaths(&out, paths, m.EntityTypes))

	for _, line := range strings.Split(out.String(), "\n") {
		switch {
		case strings.HasPrefix(line, "audit_log"):
			assert.Contains(t, line, "unbound")
		case strings.HasPrefix(line, "customers"), strings.HasPrefix(line, "invoices"):
			assert.NotContains(t, line, "unbound")
		}
	}
}

func TestPrintSummary_Clean(t *testing.T) {
	r := &report.Report{
		RunID:    "run-1",
		Order:    []string{"customer"},
		Entities: map[string]*report.EntityCounts{"customer": {RowsRead: 3, RowsWritten: 3}},
	}
	var out bytes.Buffer
	printSummary(&out, r)
	assert.Contains(t, out.String(), "Run run-1")
	assert.Contains(t, out.String(), "No integrity anomalies")
}
