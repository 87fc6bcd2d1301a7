package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"addrclean/internal"
)

// MappingFile is the operator-authored column selection. JSON files parse too.
type MappingFile struct {
	Respondents []RespondentSpec `yaml:"respondents" json:"respondents"`
}

// RespondentSpec selects the name column and either an explicit address list or
// a run of consecutive columns starting at AddressStart.
type RespondentSpec struct {
	Name         string   `yaml:"name" json:"name"`
	Address      []string `yaml:"address" json:"address"`
	AddressStart string   `yaml:"address_start" json:"address_start"`
	AddressCount int      `yaml:"address_count" json:"address_count"`
}

func LoadMappingFile(path string) (MappingFile, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return MappingFile{}, &internal.InvalidMappingError{Slot: -1, Reason: "cannot read mapping file", Err: eris.Wrap(err, path)}
	}
	return ParseMapping(blob)
}

func ParseMapping(blob []byte) (MappingFile, error) {
	var m MappingFile
	if err := yaml.Unmarshal(blob, &m); err != nil {
		return MappingFile{}, &internal.InvalidMappingError{Slot: -1, Reason: "cannot parse mapping file", Err: eris.Wrap(err, "yaml")}
	}
	return m, nil
}

// Resolve expands address ranges against ds and validates the result.
func (m MappingFile) Resolve(ds *internal.Dataset) (internal.ColumnMapping, error) {
	if err := checkSlotCount(len(m.Respondents)); err != nil {
		return internal.ColumnMapping{}, err
	}

	mapping := internal.ColumnMapping{Slots: make([]internal.SlotSpec, 0, len(m.Respondents))}
	for i, r := range m.Respondents {
		address := trimAll(r.Address)
		start := strings.TrimSpace(r.AddressStart)
		switch {
		case len(address) > 0 && start != "":
			return internal.ColumnMapping{}, &internal.InvalidMappingError{Slot: i, Reason: "give either address or address_start, not both"}
		case start != "":
			if err := checkAddressCount(i, r.AddressCount); err != nil {
				return internal.ColumnMapping{}, err
			}
			if !ds.HasColumn(start) {
				return internal.ColumnMapping{}, &internal.InvalidMappingError{Slot: i, Column: start, Reason: "column not found in dataset"}
			}
			address = ConsecutiveColumns(ds, start, r.AddressCount)
		}
		mapping.Slots = append(mapping.Slots, internal.SlotSpec{
			NameColumn:     strings.TrimSpace(r.Name),
			AddressColumns: address,
		})
	}

	if err := ValidateMapping(ds, mapping); err != nil {
		return internal.ColumnMapping{}, err
	}
	return mapping, nil
}

// ConsecutiveColumns returns count columns beginning at start. Positions past the
// last column repeat the last column; repeats are dropped.
func ConsecutiveColumns(ds *internal.Dataset, start string, count int) []string {
	idx := ds.ColumnIndex(start)
	if idx < 0 || count <= 0 {
		return nil
	}
	last := len(ds.Columns) - 1
	out := make([]string, 0, count)
	seen := map[string]struct{}{}
	for i := 0; i < count; i++ {
		col := ds.Columns[min(idx+i, last)]
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	return out
}

// ValidateMapping checks slot and address counts and that every referenced
// column exists in ds.
func ValidateMapping(ds *internal.Dataset, mapping internal.ColumnMapping) error {
	if err := checkSlotCount(len(mapping.Slots)); err != nil {
		return err
	}

	for i, slot := range mapping.Slots {
		if slot.NameColumn == "" {
			return &internal.InvalidMappingError{Slot: i, Reason: "name column is required"}
		}
		if !ds.HasColumn(slot.NameColumn) {
			return &internal.InvalidMappingError{Slot: i, Column: slot.NameColumn, Reason: "column not found in dataset"}
		}
		if err := checkAddressCount(i, len(slot.AddressColumns)); err != nil {
			return err
		}
		for _, col := range slot.AddressColumns {
			if !ds.HasColumn(col) {
				return &internal.InvalidMappingError{Slot: i, Column: col, Reason: "column not found in dataset"}
			}
			if col == slot.NameColumn {
				return &internal.InvalidMappingError{Slot: i, Column: col, Reason: "name column is also listed as an address column"}
			}
		}
	}
	return nil
}

func checkSlotCount(n int) error {
	if n < 1 || n > internal.MaxRespondentCount {
		return &internal.InvalidMappingError{
			Slot:   -1,
			Reason: fmt.Sprintf("respondent count %d outside 1..%d", n, internal.MaxRespondentCount),
		}
	}
	return nil
}

func checkAddressCount(slot, n int) error {
	if n < 1 || n > internal.MaxAddressColumnCount {
		return &internal.InvalidMappingError{
			Slot:   slot,
			Reason: fmt.Sprintf("address column count %d outside 1..%d", n, internal.MaxAddressColumnCount),
		}
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
