package pipeline

import "addrclean/internal"

// OutputTable is sparse: a cell is present only if something was written to it.
type OutputTable struct {
	passthrough []string
	slotColumns [][]string
	rowIDs      []int
	cells       map[int]map[string]any
}

func NewOutputTable(ds *internal.Dataset, slots int) *OutputTable {
	t := &OutputTable{
		slotColumns: make([][]string, slots),
		rowIDs:      make([]int, 0, len(ds.Rows)),
		cells:       make(map[int]map[string]any, len(ds.Rows)),
	}
	for i := range t.slotColumns {
		t.slotColumns[i] = internal.SlotColumns(i)
	}
	for _, row := range ds.Rows {
		t.rowIDs = append(t.rowIDs, row.ID)
	}
	return t
}

// Columns lists passthrough columns first, then each slot's seven columns.
func (t *OutputTable) Columns() []string {
	out := append([]string(nil), t.passthrough...)
	for _, cols := range t.slotColumns {
		out = append(out, cols...)
	}
	return out
}

func (t *OutputTable) PassthroughColumns() []string {
	return append([]string(nil), t.passthrough...)
}

func (t *OutputTable) RowIDs() []int {
	return append([]int(nil), t.rowIDs...)
}

func (t *OutputTable) Get(rowID int, column string) (any, bool) {
	row, ok := t.cells[rowID]
	if !ok {
		return nil, false
	}
	v, ok := row[column]
	return v, ok
}

func (t *OutputTable) set(rowID int, column string, value any) {
	row, ok := t.cells[rowID]
	if !ok {
		row = map[string]any{}
		t.cells[rowID] = row
	}
	row[column] = value
}

// MergeSlot writes each validated pair's seven fields at the pair's row.
func (t *OutputTable) MergeSlot(slot int, pairs []internal.Pair) {
	cols := t.slotColumns[slot]
	for _, p := range pairs {
		for i, v := range p.Normalized.Values() {
			t.set(p.Raw.RowID, cols[i], v)
		}
	}
}

// PassthroughColumns returns, in dataset order, the columns no slot reads.
// Input columns named like a generated respondent column are replaced by it.
func PassthroughColumns(ds *internal.Dataset, mapping internal.ColumnMapping) []string {
	used := map[string]struct{}{}
	for i, slot := range mapping.Slots {
		for _, col := range internal.SlotColumns(i) {
			used[col] = struct{}{}
		}
		used[slot.NameColumn] = struct{}{}
		for _, col := range slot.AddressColumns {
			used[col] = struct{}{}
		}
	}

	out := make([]string, 0, len(ds.Columns))
	for _, col := range ds.Columns {
		if _, ok := used[col]; !ok {
			out = append(out, col)
		}
	}
	return out
}

// CopyPassthrough copies columns verbatim for every row. Called once per run.
func (t *OutputTable) CopyPassthrough(ds *internal.Dataset, columns []string) {
	t.passthrough = append([]string(nil), columns...)
	for _, row := range ds.Rows {
		for _, col := range columns {
			if v, ok := row.Cells[col]; ok && v != nil {
				t.set(row.ID, col, v)
			}
		}
	}
}
