package gateway

import "errors"

var (
	ErrConnectionUnavailable = errors.New("gateway: no live peer connection")
	ErrSerialization         = errors.New("gateway: request serialization failed")
	ErrWriteFailed           = errors.New("gateway: request write failed")
	ErrCallTimeout           = errors.New("gateway: call timed out")
	ErrConnectionLost        = errors.New("gateway: peer connection lost")
	ErrTooManyInFlight       = errors.New("gateway: too many in-flight requests")
	ErrGatewayClosed         = errors.New("gateway: gateway closed")
)

// IsTransient reports whether err is a transport fault worth retrying.
// Application-level failure responses and protocol errors are not transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnectionUnavailable) ||
		errors.Is(err, ErrCallTimeout) ||
		errors.Is(err, ErrWriteFailed)
}
