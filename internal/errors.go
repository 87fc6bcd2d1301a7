package internal

import (
	"errors"
	"fmt"
)

var ErrRunCancelled = errors.New("run cancelled before batch was scheduled")

type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InvalidMappingError names the offending 0-based slot (-1 when the mapping as a
// whole is wrong) and column, if any. Err holds the read or parse failure of a
// mapping file.
type InvalidMappingError struct {
	Slot   int
	Column string
	Reason string
	Err    error
}

func (e *InvalidMappingError) Error() string {
	var msg string
	switch {
	case e.Slot < 0:
		msg = "invalid column mapping: " + e.Reason
	case e.Column != "":
		msg = fmt.Sprintf("invalid column mapping: respondent %d column %q: %s", e.Slot+1, e.Column, e.Reason)
	default:
		msg = fmt.Sprintf("invalid column mapping: respondent %d: %s", e.Slot+1, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidMappingError) Unwrap() error { return e.Err }

type ServiceErrorKind string

const (
	ServiceNetwork   ServiceErrorKind = "network"
	ServiceTimeout   ServiceErrorKind = "timeout"
	ServiceStatus    ServiceErrorKind = "status"
	ServiceMalformed ServiceErrorKind = "malformed"
)

type ServiceError struct {
	Kind       ServiceErrorKind
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("normalization service %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("normalization service %s error: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

type CountMismatchError struct {
	Slot       int
	BatchIndex int
	Submitted  int
	Returned   int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("respondent %d batch %d: submitted %d records, service returned %d",
		e.Slot+1, e.BatchIndex+1, e.Submitted, e.Returned)
}

// FailureKind classifies a batch failure cause for reporting.
func FailureKind(err error) string {
	var svcErr *ServiceError
	var mismatch *CountMismatchError
	switch {
	case errors.Is(err, ErrRunCancelled):
		return "cancelled"
	case errors.As(err, &mismatch):
		return "count_mismatch"
	case errors.As(err, &svcErr):
		return "service_" + string(svcErr.Kind)
	default:
		return "unknown"
	}
}
