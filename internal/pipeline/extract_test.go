package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"addrclean/internal"
)

func TestExtractRecords(t *testing.T) {
	ds := &internal.Dataset{
		Columns: []string{"Name", "A1", "A2", "A3"},
		Rows: []internal.Row{
			{ID: 0, Cells: map[string]any{"Name": "  Ravi Kumar ", "A1": "12 MG Road", "A2": 411001.0, "A3": "nan"}},
			{ID: 1, Cells: map[string]any{"Name": "R", "A1": "skipped"}},
			{ID: 2, Cells: map[string]any{"A1": "no name"}},
			{ID: 3, Cells: map[string]any{"Name": "None", "A1": "null-like name"}},
			{ID: 4, Cells: map[string]any{"Name": "Asha\nRao", "A2": "Flat 4,\n Lake View"}},
			{ID: 5, Cells: map[string]any{"Name": "Jo"}},
		},
	}
	spec := internal.SlotSpec{NameColumn: "Name", AddressColumns: []string{"A1", "A2", "A3"}}

	got := ExtractRecords(ds, 3, spec, 2)
	require.Len(t, got, 3)
	assert.Equal(t, internal.RawRecord{RowID: 0, Slot: 3, Text: "Ravi Kumar, 12 MG Road, 411001"}, got[0])
	assert.Equal(t, "Asha Rao, Flat 4, Lake View", got[1].Text)
	assert.Equal(t, 4, got[1].RowID)
	assert.Equal(t, "Jo", got[2].Text)
}

func TestExtractRecordsNameThresholdCountsRunes(t *testing.T) {
	ds := &internal.Dataset{
		Columns: []string{"Name", "A1"},
		Rows: []internal.Row{
			{ID: 0, Cells: map[string]any{"Name": "अ", "A1": "x"}},
			{ID: 1, Cells: map[string]any{"Name": "अब", "A1": "x"}},
		},
	}
	spec := internal.SlotSpec{NameColumn: "Name", AddressColumns: []string{"A1"}}
	got := ExtractRecords(ds, 0, spec, 2)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].RowID)

	assert.Len(t, ExtractRecords(ds, 0, spec, 0), 2)
}

func TestSplitBatches(t *testing.T) {
	records := make([]internal.RawRecord, 5)
	for i := range records {
		records[i] = internal.RawRecord{RowID: i * 2, Slot: 1}
	}

	batches := SplitBatches(1, records, 2)
	require.Len(t, batches, 3)
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, 1, b.Slot)
	}
	assert.Len(t, batches[2].Records, 1)
	assert.Equal(t, 2, batches[1].FirstRowID())
	assert.Equal(t, 6, batches[1].LastRowID())

	assert.Empty(t, SplitBatches(0, nil, 50))
	assert.Len(t, SplitBatches(0, records, 0), 1, "non-positive capacity falls back to the default")

	batches[0].Records = append(batches[0].Records, internal.RawRecord{RowID: 99})
	assert.Equal(t, 4, records[2].RowID, "appending to a batch must not clobber the next one")
}

func TestValidateResponse(t *testing.T) {
	batch := internal.Batch{Slot: 1, Index: 2, Records: []internal.RawRecord{{RowID: 7}, {RowID: 9}}}

	pairs, err := ValidateResponse(batch, []internal.NormalizedRecord{{Name: "A"}, {Name: "B"}})
	require.NoError(t, err)
	assert.Equal(t, 9, pairs[1].Raw.RowID)
	assert.Equal(t, "B", pairs[1].Normalized.Name)

	_, err = ValidateResponse(batch, []internal.NormalizedRecord{{Name: "A"}})
	var mismatch *internal.CountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.Submitted)
	assert.Equal(t, 1, mismatch.Returned)
	assert.Equal(t, 2, mismatch.BatchIndex)
}
