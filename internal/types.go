package internal

import (
	"fmt"
	"time"
)

const (
	MaxRespondentCount    = 20
	MaxAddressColumnCount = 10
	DefaultBatchSize      = 50
	DefaultMinNameLength  = 2
)

type Row struct {
	ID    int
	Cells map[string]any
}

// Dataset is the loaded input table. Row IDs are 0-based data-row positions.
type Dataset struct {
	Source  string
	Columns []string
	Rows    []Row
}

func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

type SlotSpec struct {
	NameColumn     string
	AddressColumns []string
}

type ColumnMapping struct {
	Slots []SlotSpec
}

// RunContext carries the read-only inputs of one run through the pipeline.
type RunContext struct {
	Dataset *Dataset
	Mapping ColumnMapping
}

type RawRecord struct {
	RowID int
	Slot  int
	Text  string
}

type NormalizedRecord struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	AddressLine3 string `json:"address_line_3"`
	District     string `json:"district"`
	State        string `json:"state"`
	PinCode      string `json:"pin_code"`
}

// Values returns the fields in output column order.
func (r NormalizedRecord) Values() []string {
	return []string{r.Name, r.AddressLine1, r.AddressLine2, r.AddressLine3, r.District, r.State, r.PinCode}
}

var NormalizedFieldLabels = []string{
	"Name", "Address Line 1", "Address Line 2", "Address Line 3", "District", "State", "PIN Code",
}

// SlotColumns returns the seven output column names of a 0-based slot.
func SlotColumns(slot int) []string {
	out := make([]string, 0, len(NormalizedFieldLabels))
	for _, label := range NormalizedFieldLabels {
		out = append(out, fmt.Sprintf("Respondent %d %s", slot+1, label))
	}
	return out
}

type Batch struct {
	Slot    int
	Index   int
	Records []RawRecord
}

func (b Batch) FirstRowID() int {
	if len(b.Records) == 0 {
		return -1
	}
	return b.Records[0].RowID
}

func (b Batch) LastRowID() int {
	if len(b.Records) == 0 {
		return -1
	}
	return b.Records[len(b.Records)-1].RowID
}

type BatchFailure struct {
	Slot       int
	BatchIndex int
	FirstRowID int
	LastRowID  int
	Records    int
	Cause      error
}

func (f BatchFailure) String() string {
	return fmt.Sprintf("respondent %d batch %d rows %d-%d (%d records): %v",
		f.Slot+1, f.BatchIndex+1, f.FirstRowID+1, f.LastRowID+1, f.Records, f.Cause)
}

type Pair struct {
	Raw        RawRecord
	Normalized NormalizedRecord
}

type RunStats struct {
	Slots             int
	RecordsExtracted  int
	RowsSkipped       map[int]int
	Batches           int
	FailedBatches     int
	RecordsNormalized int
	DurationMs        int64
}

type RunStatus string

const (
	RunOK        RunStatus = "ok"
	RunPartial   RunStatus = "partial"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is one audited run as stored in the runs table.
type RunRecord struct {
	ID         string
	InputPath  string
	OutputPath string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Counts     map[string]int
	Timings    map[string]int64
}

type FailureRecord struct {
	RunID      string
	Slot       int
	BatchIndex int
	FirstRowID int
	LastRowID  int
	Records    int
	Kind       string
	Message    string
}
