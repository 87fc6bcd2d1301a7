package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

const cleanedSuffix = " - Cleaned.xlsx"

// OutputPath derives "<stem> - Cleaned.xlsx" next to the input, or inside
// outputDir when one is given.
func OutputPath(inputPath, outputDir string) string {
	dir := filepath.Dir(inputPath)
	if strings.TrimSpace(outputDir) != "" {
		dir = outputDir
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+cleanedSuffix)
}

// ExportTable writes the header row and one row per input row. Cells the table
// does not hold are left blank.
func ExportTable(table *OutputTable, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := table.Columns()
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return eris.Wrapf(err, "write header %q", h)
		}
	}
	if len(headers) > 0 {
		if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
			last, _ := excelize.CoordinatesToCellName(len(headers), 1)
			_ = f.SetCellStyle(sheet, "A1", last, style)
		}
		_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}

	for i, rowID := range table.RowIDs() {
		r := i + 2
		for c, col := range headers {
			v, ok := table.Get(rowID, col)
			if !ok {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return eris.Wrapf(err, "write cell %s", cell)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return eris.Wrap(err, "create output dir")
	}
	if err := f.SaveAs(outputPath); err != nil {
		return eris.Wrapf(err, "save %s", outputPath)
	}
	return nil
}
