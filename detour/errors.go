package detour

import (
	"errors"
	"fmt"
)

var (
	ErrConfig         = errors.New("detour: invalid configuration")
	ErrVersion        = errors.New("detour: incompatible data version")
	ErrWrongMagic     = errors.New("detour: wrong magic number")
	ErrStaleReference = errors.New("detour: stale reference")
	ErrSlotOccupied   = errors.New("detour: tile slot occupied")
	ErrInvalidParam   = errors.New("detour: invalid parameter")
	ErrUnknownElement = errors.New("detour: unknown element")
	ErrOutOfNodes     = errors.New("detour: out of search nodes")
)

// ConfigError reports a rejected area or filter setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("detour: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// AttachError reports why a tile could not be attached.
type AttachError struct {
	Key TileKey
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("detour: attach tile %v: %v", e.Key, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// VersionError reports data written by an incompatible format version.
type VersionError struct {
	Got uint32
	Min uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("detour: data version %d, need at least %d", e.Got, e.Min)
}

func (e *VersionError) Unwrap() error { return ErrVersion }

type DtStatus uint32

// High level status.
const (
	DT_FAILURE     DtStatus = 1 << 31 // Operation failed.
	DT_SUCCESS     DtStatus = 1 << 30 // Operation succeed.
	DT_IN_PROGRESS DtStatus = 1 << 29 // Operation still in progress.

	// Detail information for status.
	DT_STATUS_DETAIL_MASK DtStatus = 0x0ffffff
	DT_WRONG_MAGIC        DtStatus = 1 << 0 // Input data is not recognized.
	DT_WRONG_VERSION      DtStatus = 1 << 1 // Input data is in wrong version.
	DT_OUT_OF_MEMORY      DtStatus = 1 << 2 // Operation ran out of memory.
	DT_INVALID_PARAM      DtStatus = 1 << 3 // An input parameter was invalid.
	DT_BUFFER_TOO_SMALL   DtStatus = 1 << 4 // Result buffer for the query was too small to store all results.
	DT_OUT_OF_NODES       DtStatus = 1 << 5 // Query ran out of nodes during search.
	DT_PARTIAL_RESULT     DtStatus = 1 << 6 // Query did not reach the end location, returning best guess.
	DT_ALREADY_OCCUPIED   DtStatus = 1 << 7 // A tile has already been assigned to the given x,y coordinate
)

// Returns true of status is success.
func (s DtStatus) DtStatusSucceed() bool {
	return (s & DT_SUCCESS) != 0
}

// Returns true of status is failure.
func (s DtStatus) DtStatusFailed() bool {
	return (s & DT_FAILURE) != 0
}

// Returns true if specific detail is set.
func (s DtStatus) DtStatusDetail(detail DtStatus) bool {
	return (s & detail) != 0
}

func (s DtStatus) String() string {
	var kind string
	switch {
	case s.DtStatusFailed():
		kind = "failure"
	case s.DtStatusSucceed():
		kind = "success"
	case s&DT_IN_PROGRESS != 0:
		kind = "in-progress"
	default:
		kind = "unknown"
	}
	if d := s & DT_STATUS_DETAIL_MASK; d != 0 {
		return fmt.Sprintf("%s(0x%x)", kind, uint32(d))
	}
	return kind
}
