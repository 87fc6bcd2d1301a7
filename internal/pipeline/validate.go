package pipeline

import "addrclean/internal"

// ValidateResponse pairs returned records with the batch positionally. A count
// mismatch rejects the whole batch since no safe correspondence exists.
func ValidateResponse(batch internal.Batch, returned []internal.NormalizedRecord) ([]internal.Pair, error) {
	if len(returned) != len(batch.Records) {
		return nil, &internal.CountMismatchError{
			Slot:       batch.Slot,
			BatchIndex: batch.Index,
			Submitted:  len(batch.Records),
			Returned:   len(returned),
		}
	}

	pairs := make([]internal.Pair, len(returned))
	for i := range returned {
		pairs[i] = internal.Pair{Raw: batch.Records[i], Normalized: returned[i]}
	}
	return pairs, nil
}
