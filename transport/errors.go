package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy discriminant from spec §7. Inheritance of
// exception types in the source language becomes a tagged variant here
// (spec §9): callers switch on Kind, never on a concrete Go type.
type Kind int

const (
	ErrConfiguration Kind = iota
	ErrProtocol
	ErrEnvironment
	ErrUserInduced
	ErrRemoteInduced
)

func (k Kind) String() string {
	switch k {
	case ErrConfiguration:
		return "configuration"
	case ErrProtocol:
		return "protocol"
	case ErrEnvironment:
		return "environment"
	case ErrUserInduced:
		return "user-induced"
	case ErrRemoteInduced:
		return "remote-induced"
	default:
		return "unknown"
	}
}

// Error is the single exported error type for the package; Kind
// discriminates what in a class hierarchy would otherwise be separate
// exception types.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// newProtoErr and newEnvErr wrap with github.com/pkg/errors for
// stack-trace context, reserved for the two kinds severe enough to be
// logged for diagnosis server-side (§1 AMBIENT STACK / Errors); the
// other kinds stay plain, matching cmn/cos's own ErrQuantity* sentinels.
func newProtoErr(format string, args ...any) error {
	return &Error{Kind: ErrProtocol, Msg: fmt.Sprintf(format, args...), Cause: errors.New(fmt.Sprintf(format, args...))}
}

func newEnvErr(cause error, format string, args ...any) error {
	return &Error{Kind: ErrEnvironment, Msg: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

func newUserErr(format string, args ...any) error {
	return &Error{Kind: ErrUserInduced, Msg: fmt.Sprintf(format, args...)}
}

func newRemoteErr(format string, args ...any) error {
	return &Error{Kind: ErrRemoteInduced, Msg: fmt.Sprintf(format, args...)}
}

// CloseCause enumerates spec §6's close-cause taxonomy.
type CloseCause int

const (
	CauseLocalClose          CloseCause = 0
	CauseLocalServerShutdown CloseCause = 1
	CauseRemoteClose         CloseCause = 2
	CauseRemoteServerShutdown CloseCause = 3
	CauseIrregularSocket     CloseCause = 4
	CauseInternal            CloseCause = 5
	CauseProtocol            CloseCause = 6
	CauseShutdownTimeout     CloseCause = 8
	CauseAliveTimeout        CloseCause = 9
	CauseHardClose           CloseCause = 10
	CauseSerializationFail   CloseCause = 11
)

// File-transmission info codes, spec §6 (subset mirrored both ways).
const (
	InfoRemoteAssignmentError = 101
	InfoLocalAssignmentError  = 102
	InfoConfirmTimeoutOut     = 103
	InfoLocalUserBreakOut     = 105
	InfoRemoteUserBreakOut    = 106
	InfoRemoteUserBreakIn     = 107
	InfoLocalUserBreakIn      = 108
	InfoLocalCloseBreakOut    = 113
	InfoLocalCloseBreakIn     = 114
	InfoRemoteCloseBreakOut   = 115
	InfoRemoteCloseBreakIn    = 116
	InfoCRCFailure            = 118
	InfoParcelOutOfSync       = 119 // spec §4.4: sequence gap on a FILE aggregator
)

// Object-transmission info codes, spec §6.
const (
	InfoObjLocalUserBreak        = 201
	InfoObjLocalError            = 203
	InfoObjHardClosure           = 205
	InfoObjDeserializationFailed = 207
	InfoObjNoReceptionConfigured = 209
	InfoObjParcelOutOfSync       = 211 // spec §3/§4.4: sequence gap on an OBJECT aggregator
)
