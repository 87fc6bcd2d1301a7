package pipeline

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"addrclean/internal"
)

func mkXLSX(rows [][]any) []byte {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	buf := bytes.NewBuffer(nil)
	_, _ = f.WriteTo(buf)
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	blob := mkXLSX([][]any{
		{"Case No", "Borrower", "Address"},
		{1001, "Ravi Kumar", "12 MG Road, Pune"},
		{1002, "Asha Rao", nil},
	})
	ds, err := parseXLSX(blob)
	require.NoError(t, err)

	assert.Equal(t, []string{"Case No", "Borrower", "Address"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, 0, ds.Rows[0].ID)
	assert.Equal(t, int64(1001), ds.Rows[0].Cells["Case No"])
	assert.Equal(t, "12 MG Road, Pune", ds.Rows[0].Cells["Address"])
	_, ok := ds.Rows[1].Cells["Address"]
	assert.False(t, ok)
}

func TestXLSXNumbersSurviveExport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "accounts.xlsx")
	require.NoError(t, os.WriteFile(input, mkXLSX([][]any{
		{"Account", "Amount", "Pin", "Ref", "Name", "Addr"},
		{int64(123456789012345678), 150000.5, 411001, "00123", "Ravi Kumar", "Pune"},
	}), 0o644))

	ds, err := LoadDataset(input)
	require.NoError(t, err)
	cells := ds.Rows[0].Cells
	assert.Equal(t, int64(123456789012345678), cells["Account"])
	assert.Equal(t, 150000.5, cells["Amount"])
	assert.Equal(t, int64(411001), cells["Pin"])
	assert.Equal(t, "00123", cells["Ref"], "text cells stay text")

	mapping := internal.ColumnMapping{Slots: []internal.SlotSpec{{NameColumn: "Name", AddressColumns: []string{"Addr"}}}}
	table := NewOutputTable(ds, 1)
	table.CopyPassthrough(ds, PassthroughColumns(ds, mapping))
	out := filepath.Join(dir, "out.xlsx")
	require.NoError(t, ExportTable(table, out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	sheet := f.GetSheetName(0)

	for cell, want := range map[string]string{"A2": "123456789012345678", "B2": "150000.5", "C2": "411001"} {
		typ, err := f.GetCellType(sheet, cell)
		require.NoError(t, err)
		assert.NotEqual(t, excelize.CellTypeSharedString, typ, cell)
		got, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		assert.Equal(t, want, got, cell)
	}
	typ, err := f.GetCellType(sheet, "D2")
	require.NoError(t, err)
	assert.Equal(t, excelize.CellTypeSharedString, typ)
}

func TestParseCSV(t *testing.T) {
	blob := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Name,Addr 1,Addr 2\n\"Kumar, Ravi\",12 MG Road\nAsha Rao,4 Lake View,Mysuru,extra\n")...)
	ds, err := parseCSV(blob)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Addr 1", "Addr 2"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "Kumar, Ravi", ds.Rows[0].Cells["Name"])
	assert.Equal(t, "Mysuru", ds.Rows[1].Cells["Addr 2"])
	assert.Len(t, ds.Rows[1].Cells, 3)
}

func TestParseHTMLTableDisguisedAsXLS(t *testing.T) {
	html := `<html><body><table>
<tr><th>Name</th><th>Address</th></tr>
<tr><td>Ravi   Kumar</td><td>12 MG Road</td></tr>
</table></body></html>`
	ds, err := parseDataset("export.xls", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Address"}, ds.Columns)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "Ravi Kumar", ds.Rows[0].Cells["Name"])
}

func TestParseBinaryXLSRejected(t *testing.T) {
	_, err := parseDataset("legacy.xls", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".xlsx")
}

func TestParseEmailAttachment(t *testing.T) {
	csvBody := base64.StdEncoding.EncodeToString([]byte("Name,Address\nRavi Kumar,Pune\n"))
	raw := strings.Join([]string{
		"From: ops@example.com",
		"To: cleaner@example.com",
		"Subject: notice list",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"List attached.",
		"--b1",
		`Content-Type: text/csv; name="list.csv"`,
		`Content-Disposition: attachment; filename="list.csv"`,
		"Content-Transfer-Encoding: base64",
		"",
		csvBody,
		"--b1--",
		"",
	}, "\r\n")

	ds, err := parseDataset("mail.eml", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Address"}, ds.Columns)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "Pune", ds.Rows[0].Cells["Address"])
}

func TestLoadDatasetErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDataset(filepath.Join(dir, "missing.xlsx"))
	var loadErr *internal.LoadError
	require.ErrorAs(t, err, &loadErr)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadDataset(empty)
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, empty, loadErr.Path)

	odd := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(odd, []byte("a,b"), 0o644))
	_, err = LoadDataset(odd)
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadDatasetSetsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.xlsx")
	require.NoError(t, os.WriteFile(path, mkXLSX([][]any{{"Name"}, {"Ravi"}}), 0o644))
	ds, err := LoadDataset(path)
	require.NoError(t, err)
	assert.Equal(t, path, ds.Source)
	assert.Len(t, ds.Rows, 1)
}

func TestHeaderNames(t *testing.T) {
	got := headerNames([]string{"Name", "", "Name", " Address ", "Name.1", "Name"})
	assert.Equal(t, []string{"Name", "Unnamed: 1", "Name.2", "Address", "Name.1", "Name.3"}, got)
}
