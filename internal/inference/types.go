package inference

import (
	"errors"
	"time"
)

// ErrInvalidMaxLength is returned when a generation is asked for fewer than
// one step.
var ErrInvalidMaxLength = errors.New("inference: max_length must be at least 1")

// ErrPrefixTooLong is returned when the prefix alone does not fit the
// session capacity.
var ErrPrefixTooLong = errors.New("inference: prefix exceeds session capacity")

// State is the phase of a generation.
type State int

const (
	StatePrimed State = iota
	StateDecoding
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePrimed:
		return "primed"
	case StateDecoding:
		return "decoding"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// StopReason records why decoding ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopEOS
	StopMaxLength
	StopCapacity
)

func (r StopReason) String() string {
	switch r {
	case StopEOS:
		return "eos"
	case StopMaxLength:
		return "max_length"
	case StopCapacity:
		return "capacity"
	}
	return "none"
}

func (r StopReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type Stats struct {
	Steps    int
	Duration time.Duration
	TPS      float64
}

type Result struct {
	// Tokens are the generated ids. A terminating EOS is not included.
	Tokens     []int
	StopReason StopReason
	State      State
	Stats      Stats
}
