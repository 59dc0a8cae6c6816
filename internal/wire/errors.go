package wire

import "errors"

var (
	ErrMalformedFrame = errors.New("wire: malformed frame")
	ErrEmptyData      = errors.New("wire: response data empty")
)
