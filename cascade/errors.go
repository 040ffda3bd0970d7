package cascade

import (
	"errors"
	"fmt"

	"ingresso-cascade-cli/seats"
)

// Kind classifies fetch failures.
type Kind int

const (
	KindNone Kind = iota
	// KindNetwork is a transport failure.
	KindNetwork
	// KindDataFormat is a response that failed normalisation.
	KindDataFormat
	// KindEmptyResult is a valid call that returned zero records.
	KindEmptyResult
	// KindAuthExpired blocks the whole pipeline.
	KindAuthExpired
	// KindAnomaly is informational and rides along a valid seat map.
	KindAnomaly
)

var (
	ErrNetwork     = errors.New("network error")
	ErrDataFormat  = errors.New("data format error")
	ErrEmptyResult = errors.New("no results")
	ErrAuthExpired = errors.New("authentication expired")
	ErrAnomaly     = seats.ErrAnomaly
)

// Precondition failures returned by controller operations.
var (
	ErrBlocked       = errors.New("pipeline is blocked")
	ErrNotReady      = errors.New("stage is not ready")
	ErrStaleOption   = errors.New("option does not belong to the current option list")
	ErrFinalStage    = errors.New("stage has no successor")
	ErrParentMissing = errors.New("parent stage has no selection")
	ErrUnknownStage  = errors.New("unknown stage")
)

var kindNames = map[Kind]string{
	KindNone:        "none",
	KindNetwork:     "network",
	KindDataFormat:  "data_format",
	KindEmptyResult: "empty_result",
	KindAuthExpired: "auth_expired",
	KindAnomaly:     "anomaly",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindDataFormat:
		return ErrDataFormat
	case KindEmptyResult:
		return ErrEmptyResult
	case KindAuthExpired:
		return ErrAuthExpired
	case KindAnomaly:
		return ErrAnomaly
	}
	return nil
}

// Error is a classified failure of one stage.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

// NewError classifies err as kind for stage.
func NewError(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "cascade error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}

// KindOf classifies err. Unclassified errors count as network failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	for _, kind := range []Kind{KindAuthExpired, KindDataFormat, KindEmptyResult, KindAnomaly, KindNetwork} {
		if errors.Is(err, kind.sentinel()) {
			return kind
		}
	}
	return KindNetwork
}

func stageError(stage Stage, err error) *Error {
	if direct, ok := err.(*Error); ok {
		copied := *direct
		copied.Stage = stage
		return &copied
	}
	var classified *Error
	if errors.As(err, &classified) {
		return &Error{Kind: classified.Kind, Stage: stage, Err: err}
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}
