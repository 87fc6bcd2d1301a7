package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"addrclean/internal"
	"addrclean/internal/util"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadDataset reads a tabular file into a Dataset. The first row is the header.
// Every failure is returned as *internal.LoadError.
func LoadDataset(path string) (*internal.Dataset, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, &internal.LoadError{Path: path, Err: eris.Wrap(err, "read file")}
	}
	ds, err := parseDataset(filepath.Base(path), blob)
	if err != nil {
		return nil, &internal.LoadError{Path: path, Err: err}
	}
	ds.Source = path
	return ds, nil
}

func parseDataset(name string, blob []byte) (*internal.Dataset, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return parseXLSX(blob)
	case ".csv":
		return parseCSV(blob)
	case ".html", ".htm":
		return parseHTMLTable(blob)
	case ".xls":
		if looksLikeHTML(blob) {
			return parseHTMLTable(blob)
		}
		return nil, eris.New("legacy binary .xls is not supported, save the sheet as .xlsx")
	case ".eml":
		return parseEmailAttachment(blob)
	default:
		return nil, eris.Errorf("unsupported file type %q", filepath.Ext(name))
	}
}

func parseXLSX(content []byte) (*internal.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, eris.Wrap(err, "open workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, eris.New("workbook has no sheets")
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, eris.Wrapf(err, "read sheet %q", sheet)
	}
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, eris.Wrapf(err, "read sheet %q", sheet)
	}
	ds, err := buildDataset(rows)
	if err != nil {
		return nil, err
	}
	restoreNumbers(f, sheet, ds, raw)
	return ds, nil
}

// restoreNumbers swaps the display text of plain numeric cells for the stored
// number so long ids and amounts survive export unchanged. Dates, percentages
// and text cells that merely look numeric keep their display text.
func restoreNumbers(f *excelize.File, sheet string, ds *internal.Dataset, raw [][]string) {
	for i, row := range ds.Rows {
		r := i + 1
		if r >= len(raw) {
			break
		}
		for c, col := range ds.Columns {
			shown, ok := row.Cells[col].(string)
			if !ok || c >= len(raw[r]) {
				continue
			}
			if _, err := strconv.ParseFloat(strings.ReplaceAll(shown, ",", ""), 64); err != nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			typ, err := f.GetCellType(sheet, cell)
			if err != nil || (typ != excelize.CellTypeUnset && typ != excelize.CellTypeNumber) {
				continue
			}
			if v, ok := parseNumber(raw[r][c]); ok {
				row.Cells[col] = v
			}
		}
	}
}

func parseNumber(s string) (any, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return v, true
}

func parseCSV(content []byte) (*internal.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "parse csv")
		}
		rows = append(rows, record)
	}
	return buildDataset(rows)
}

func parseHTMLTable(content []byte) (*internal.Dataset, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, eris.New("no <table> found")
	}

	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := []string{}
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, util.NormalizeSpaces(cell.Text()))
		})
		rows = append(rows, cells)
	})
	return buildDataset(rows)
}

func parseEmailAttachment(raw []byte) (*internal.Dataset, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "read email")
	}

	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".xlsx", ".xlsm", ".csv":
			ds, err := parseDataset(filename, att.Content)
			if err != nil {
				return nil, eris.Wrapf(err, "attachment %q", filename)
			}
			return ds, nil
		}
	}
	return nil, eris.New("email has no .xlsx or .csv attachment")
}

func looksLikeHTML(blob []byte) bool {
	head := blob
	if len(head) > 2048 {
		head = head[:2048]
	}
	lower := strings.ToLower(string(bytes.TrimSpace(bytes.TrimPrefix(head, utf8BOM))))
	return strings.HasPrefix(lower, "<") || strings.Contains(lower, "<table")
}

func buildDataset(rows [][]string) (*internal.Dataset, error) {
	if len(rows) == 0 {
		return nil, eris.New("sheet is empty, a header row is required")
	}

	columns := headerNames(rows[0])
	ds := &internal.Dataset{Columns: columns, Rows: make([]internal.Row, 0, len(rows)-1)}
	for i, raw := range rows[1:] {
		row := internal.Row{ID: i, Cells: map[string]any{}}
		for c, value := range raw {
			if c >= len(columns) || value == "" {
				continue
			}
			row.Cells[columns[c]] = value
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// headerNames names blank headers "Unnamed: i" and suffixes duplicates with
// ".1", ".2" and so on, skipping suffixes that collide with a real header.
func headerNames(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := map[string]int{}
	taken := map[string]struct{}{}
	for _, h := range raw {
		taken[strings.TrimSpace(h)] = struct{}{}
	}
	for i, h := range raw {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			var candidate string
			for {
				n++
				candidate = fmt.Sprintf("%s.%d", name, n)
				if _, clash := taken[candidate]; !clash {
					break
				}
			}
			seen[name] = n
			taken[candidate] = struct{}{}
			out = append(out, candidate)
			continue
		}
		seen[name] = 0
		out = append(out, name)
	}
	return out
}
