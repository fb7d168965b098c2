package callclient

import (
	"errors"
	"fmt"

	"github.com/akinalp/agroconsult/pkg/i18n"
)

// Media acquisition errors. A MediaSource wraps one of these so the
// controller can tell the user what went wrong.
var (
	ErrMediaPermissionDenied = errors.New("media permission denied")
	ErrNoDevice              = errors.New("no media device found")
	ErrDeviceBusy            = errors.New("media device busy")
)

// Transport errors.
var (
	ErrSocketClosed     = errors.New("signaling socket closed")
	ErrSendBufferFull   = errors.New("signaling send buffer full")
	ErrAttemptCancelled = errors.New("call attempt cancelled")
)

// FailureKind classifies why a call attempt stopped. Each kind has its own
// localized message under the "call." prefix.
type FailureKind string

const (
	FailureAuthorizationRefused  FailureKind = "authorization_refused"
	FailureConsultationNotFound  FailureKind = "consultation_not_found"
	FailureMediaPermissionDenied FailureKind = "media_permission_denied"
	FailureNoDevice              FailureKind = "no_device"
	FailureDeviceBusy            FailureKind = "device_busy"
	FailureConnectionError       FailureKind = "connection_error"
	FailureAlreadyActive         FailureKind = "already_active"
)

// Failure is returned by Start and kept on the controller while it is in
// the error state.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// MessageKey is the i18n key of the user-facing message.
func (f *Failure) MessageKey() string {
	return "call." + string(f.Kind)
}

// Message returns the user-facing message in lang, falling back to English.
func (f *Failure) Message(lang string) string {
	return i18n.NewLocalizer(lang).T(f.MessageKey())
}

// RemoteError is an error event the gateway sent in reply to a request.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s (%s)", e.Op, e.Message, e.Code)
}

// mediaFailure maps a MediaSource error to its failure kind. Unclassified
// errors are reported as a busy device, the closest thing to "hardware
// could not be opened".
func mediaFailure(err error) *Failure {
	switch {
	case errors.Is(err, ErrMediaPermissionDenied):
		return &Failure{Kind: FailureMediaPermissionDenied, Err: err}
	case errors.Is(err, ErrNoDevice):
		return &Failure{Kind: FailureNoDevice, Err: err}
	default:
		return &Failure{Kind: FailureDeviceBusy, Err: err}
	}
}

// joinFailure maps a rejected join to its failure kind.
func joinFailure(err error) *Failure {
	var remote *RemoteError
	if errors.As(err, &remote) {
		switch remote.Code {
		case "forbidden", "unauthorized":
			return &Failure{Kind: FailureAuthorizationRefused, Err: err}
		case "not_found":
			return &Failure{Kind: FailureConsultationNotFound, Err: err}
		}
	}
	return &Failure{Kind: FailureConnectionError, Err: err}
}
