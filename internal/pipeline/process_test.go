package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"addrclean/internal"
	"addrclean/internal/config"
	"addrclean/internal/storage"
)

func writeFixture(t *testing.T, dir string) (string, string) {
	t.Helper()
	input := filepath.Join(dir, "notices.xlsx")
	require.NoError(t, os.WriteFile(input, mkXLSX([][]any{
		{"LAN", "APPLICANT NAME", "FATHER NAME", "ADDRESS 1", "ADDRESS 2", "CO-APPLICANT NAME", "CO ADDRESS"},
		{"L1", "ravi kumar", "mohan kumar", "12 mg road", "pune 411001", "asha rao", "4 lake view mysuru"},
		{"L2", "-", nil, "nowhere", nil, "deepa n", "kochi"},
	}), 0o644))

	mapping := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(mapping, []byte(`
respondents:
  - name: APPLICANT NAME
    address_start: FATHER NAME
    address_count: 3
  - name: CO-APPLICANT NAME
    address: [CO ADDRESS]
`), 0o644))
	return input, mapping
}

func TestSmokeCleanToXLSX(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	input, mapping := writeFixture(t, tmp)
	cfg := config.Config{BatchSize: 50, Workers: 2, MinNameLength: 2, ServiceRetryAttempts: 1, GeminiTimeoutMs: 1000}
	svc := NewProcessingService(db, cfg, &fakeNormalizer{}, zaptest.NewLogger(t))

	res, err := svc.Clean(context.Background(), input, mapping, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "notices - Cleaned.xlsx"), res.OutputPath)
	assert.Equal(t, internal.RunOK, res.Status)
	assert.Equal(t, 3, res.Stats.RecordsExtracted)

	f, err := excelize.OpenFile(res.OutputPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "LAN", rows[0][0])
	assert.Equal(t, "Respondent 1 Name", rows[0][1])
	assert.Equal(t, "Respondent 2 Name", rows[0][8])
	assert.Equal(t, "RAVI KUMAR", rows[1][1])
	assert.True(t, strings.HasPrefix(rows[1][2], "ravi kumar, mohan kumar, 12 mg road"))
	assert.Equal(t, "ASHA RAO", rows[1][8])
	assert.Equal(t, "", rows[2][1], "single-character name is not normalized")
	assert.Equal(t, "DEEPA N", rows[2][8])

	runs, err := db.ListRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, 3, runs[0].Counts["normalized"])
}

func TestCleanRecordsPartialRun(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	input, mapping := writeFixture(t, tmp)
	fake := &fakeNormalizer{respond: func(_ int, lines []string) ([]internal.NormalizedRecord, error) {
		if strings.HasPrefix(lines[0], "asha") {
			return echo(lines)[:1], nil
		}
		return echo(lines), nil
	}}
	cfg := config.Config{BatchSize: 50, Workers: 1, MinNameLength: 2, ServiceRetryAttempts: 1}
	out := filepath.Join(tmp, "out", "cleaned.xlsx")

	res, err := NewProcessingService(db, cfg, fake, nil).Clean(context.Background(), input, mapping, out)
	require.NoError(t, err)
	assert.Equal(t, internal.RunPartial, res.Status)
	assert.Equal(t, out, res.OutputPath)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Slot)
	assert.FileExists(t, out)

	failures, err := db.ListBatchFailures(res.RunID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "count_mismatch", failures[0].Kind)
}

func TestCleanFatalErrorsWriteNothing(t *testing.T) {
	tmp := t.TempDir()
	input, _ := writeFixture(t, tmp)
	bad := filepath.Join(tmp, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("respondents:\n  - name: NOPE\n    address: [ADDRESS 1]\n"), 0o644))

	svc := NewProcessingService(nil, config.Config{}, &fakeNormalizer{}, nil)
	out := filepath.Join(tmp, "never.xlsx")

	_, err := svc.Clean(context.Background(), input, bad, out)
	var invalid *internal.InvalidMappingError
	require.ErrorAs(t, err, &invalid)
	assert.NoFileExists(t, out)

	_, err = svc.Clean(context.Background(), filepath.Join(tmp, "missing.xlsx"), bad, out)
	var loadErr *internal.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.NoFileExists(t, out)
}
