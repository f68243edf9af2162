package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every error the controller returns.
type Kind int

const (
	// KindTransientNetwork is a failed collaborator call; state is untouched.
	KindTransientNetwork Kind = iota + 1
	// KindDuplicateContent is an upload the backend accepted whose content id
	// is already listed.
	KindDuplicateContent
	// KindPartialBulkFailure is a bulk operation where some targets failed or
	// are not owned by the principal.
	KindPartialBulkFailure
	// KindLocalAuthorizationDenied is rejected before any remote call.
	KindLocalAuthorizationDenied
	// KindStaleResult is a response superseded by a newer request. It never
	// produces a notice.
	KindStaleResult
	// KindTargetBusy means another operation is still running on the target.
	KindTargetBusy
	// KindInvalidInput is a request rejected locally (empty name, unknown id...).
	KindInvalidInput
	// KindNoContext means no context is active.
	KindNoContext
)

var kindNames = map[Kind]string{
	KindTransientNetwork:         "transient_network_failure",
	KindDuplicateContent:         "duplicate_content",
	KindPartialBulkFailure:       "partial_bulk_failure",
	KindLocalAuthorizationDenied: "local_authorization_denied",
	KindStaleResult:              "stale_result",
	KindTargetBusy:               "target_busy",
	KindInvalidInput:             "invalid_input",
	KindNoContext:                "no_context",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the only error type returned by Controller methods.
// Message is the text shown to the user.
type Error struct {
	Kind    Kind
	Op      OpKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	var msg strings.Builder
	msg.WriteString(e.Message)
	if e.Err != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Err.Error())
	}
	return msg.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op OpKind, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// AsError returns the *Error inside err, if any.
func AsError(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// KindOf returns the kind of err, or 0 when err is nil or foreign.
func KindOf(err error) Kind {
	if we, ok := AsError(err); ok {
		return we.Kind
	}
	return 0
}

// IsKind reports whether err is a workspace error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// remoteError decodes a collaborator failure. Collaborators are opaque, so
// anything that is not already classified is a transient network failure.
func remoteError(op OpKind, message string, err error) *Error {
	if we, ok := AsError(err); ok {
		return we
	}
	return newError(KindTransientNetwork, op, message, err)
}
