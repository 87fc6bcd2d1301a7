package pipeline

import "addrclean/internal"

// SplitBatches chunks records in order; only the last batch may be short.
func SplitBatches(slot int, records []internal.RawRecord, capacity int) []internal.Batch {
	if capacity <= 0 {
		capacity = internal.DefaultBatchSize
	}
	out := make([]internal.Batch, 0, (len(records)+capacity-1)/capacity)
	for start := 0; start < len(records); start += capacity {
		end := min(start+capacity, len(records))
		out = append(out, internal.Batch{
			Slot:    slot,
			Index:   len(out),
			Records: records[start:end:end],
		})
	}
	return out
}
