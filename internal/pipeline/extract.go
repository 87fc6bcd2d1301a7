package pipeline

import (
	"strings"

	"addrclean/internal"
	"addrclean/internal/util"
)

const addressSeparator = ", "

// ExtractRecords builds the raw records of one slot in row order. Rows whose name
// is absent or shorter than minNameLength runes are skipped for this slot only.
// Inner whitespace is collapsed so each record stays on one prompt line.
func ExtractRecords(ds *internal.Dataset, slot int, spec internal.SlotSpec, minNameLength int) []internal.RawRecord {
	if minNameLength < 1 {
		minNameLength = 1
	}

	out := make([]internal.RawRecord, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		name := util.NormalizeSpaces(util.CleanCell(row.Cells[spec.NameColumn]))
		if name == "" || util.RuneLen(name) < minNameLength {
			continue
		}

		parts := []string{name}
		for _, col := range spec.AddressColumns {
			if addr := util.NormalizeSpaces(util.CleanCell(row.Cells[col])); addr != "" {
				parts = append(parts, addr)
			}
		}

		out = append(out, internal.RawRecord{
			RowID: row.ID,
			Slot:  slot,
			Text:  strings.Join(parts, addressSeparator),
		})
	}
	return out
}
