package domain

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("recipient is already in a call")
	ErrNotFound     = errors.New("call not found")
	ErrForbidden    = errors.New("not a participant in this call")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNegotiation  = errors.New("media negotiation failed")
	ErrPermission   = errors.New("capture device permission denied")
	ErrTimeout      = errors.New("call timed out")
	ErrInvalidPhase = errors.New("action not valid in current phase")
)

type ErrorKind string

const (
	KindUnknown      ErrorKind = "unknown"
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNegotiation  ErrorKind = "negotiation"
	KindPermission   ErrorKind = "permission"
	KindTimeout      ErrorKind = "timeout"
	KindInvalidPhase ErrorKind = "invalid_phase"
)

// Kind classifies err against the sentinel taxonomy.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNegotiation):
		return KindNegotiation
	case errors.Is(err, ErrPermission):
		return KindPermission
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidPhase):
		return KindInvalidPhase
	default:
		return KindUnknown
	}
}

// UserMessage renders err for display without leaking internal text.
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindValidation:
		return "invalid request"
	case KindConflict:
		return "user is busy"
	case KindNotFound:
		return "call no longer exists"
	case KindNegotiation:
		return "could not connect"
	case KindPermission:
		return "microphone or camera access denied"
	case KindTimeout:
		return "call timed out"
	case KindInvalidPhase:
		return "not possible right now"
	default:
		return "something went wrong"
	}
}
