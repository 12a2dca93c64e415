// Package coopapi implements the wire-agnostic handler contracts (component
// J, spec §4). Each handler takes a *session.Store plus request fields and
// returns a plain result struct; HTTP, WebSocket, and gRPC adapters parse
// their wire format, call the shared handler, and serialize the result.
// Business logic lives here once so the three transports cannot diverge.
// Ported from original_source transport/handler.rs.
package coopapi

// ErrorCode is a machine-readable error classification shared across
// transports; each adapter maps it to its own status representation
// (HTTP status code, gRPC status code, WS error frame).
type ErrorCode int

const (
	Internal ErrorCode = iota
	NotReady
	NoDriver
	BadRequest
	Exited
	Unauthorized
	NotFound
)

func (c ErrorCode) String() string {
	switch c {
	case NotReady:
		return "not_ready"
	case NoDriver:
		return "no_driver"
	case BadRequest:
		return "bad_request"
	case Exited:
		return "exited"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps an ErrorCode to its HTTP status, for transports that want
// one without depending on net/http here.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case NotReady:
		return 409
	case NoDriver:
		return 501
	case BadRequest:
		return 400
	case Exited:
		return 410
	case Unauthorized:
		return 401
	case NotFound:
		return 404
	default:
		return 500
	}
}

// Error adapts an ErrorCode into a Go error carrying a human message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}
