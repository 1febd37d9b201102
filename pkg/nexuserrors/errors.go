// Package nexuserrors defines the error taxonomy shared by the RPC front
// end and the core components: sentinel kinds wrapped with context via
// fmt.Errorf("%w", ...), inspected at the boundary with errors.Is/As the
// same way the teacher repo's pkg/driver sentinels are, rather than a
// bespoke error-code type.
package nexuserrors

import "errors"

// Kind classifies an error for the RPC boundary's code translation.
type Kind int

const (
	// KindUnknown is the zero value; never returned intentionally.
	KindUnknown Kind = iota
	// KindInvalidInput covers malformed UUIDs/URIs, bad share protocols,
	// and wrong pre-shared-key lengths.
	KindInvalidInput
	// KindNotFound covers an absent nexus/child/device/subsystem.
	KindNotFound
	// KindConflict covers an NQN that already exists or a device that is
	// already claimed by another subsystem.
	KindConflict
	// KindTransport covers a non-zero completion from a listener-add or
	// subsystem start/stop, wrapping the underlying errno.
	KindTransport
	// KindConfiguration covers a child lacking an error store when
	// monitoring is enabled, or an empty transport table at bring-up.
	KindConfiguration
	// KindTransient covers conditions that are not really errors, such as
	// EALREADY on an NVMe-oF connect.
	KindTransient
)

// Error is a taxonomy-tagged error.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// New builds a tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap tags an existing error with a taxonomy kind.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, msg: msg, err: cause}
}

// KindOf extracts the Kind from err, walking the Unwrap chain, defaulting
// to KindUnknown when neither err nor anything in its chain is a *Error.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}

// Sentinel errors for conditions that do not need per-call context.
var (
	ErrInvalidUUID          = New(KindInvalidInput, "invalid uuid")
	ErrInvalidURI           = New(KindInvalidInput, "invalid uri")
	ErrInvalidShareProtocol = New(KindInvalidInput, "invalid share protocol")
	ErrInvalidKeyLength     = New(KindInvalidInput, "pre-shared key must be 16 bytes")

	ErrNexusNotFound      = New(KindNotFound, "nexus not found")
	ErrChildNotFound      = New(KindNotFound, "child not found")
	ErrDeviceNotFound     = New(KindNotFound, "device not found")
	ErrSubsystemNotFound  = New(KindNotFound, "subsystem not found")

	ErrNexusExists      = New(KindConflict, "nexus already exists")
	ErrSubsystemExists  = New(KindConflict, "subsystem nqn already exists")
	ErrDeviceClaimed    = New(KindConflict, "device already claimed")

	ErrEmptyTransportTable = New(KindConfiguration, "no transports configured at target bring-up")
	ErrMissingErrorStore   = New(KindConfiguration, "child has error monitoring enabled but no error store")
)
