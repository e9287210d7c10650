package protocol

import "errors"

// errors for parsing
var (
	ErrInvalid    = errors.New("invalid request")
	ErrIncomplete = errors.New("incomplete request")
)

// ParseError is the first syntax violation found in a request.
// It matches ErrInvalid with errors.Is.
type ParseError struct {
	Msg string
	Off int // byte offset of the violation
}

func (e *ParseError) Error() string {
	return "parse request: " + e.Msg
}

func (e *ParseError) Is(target error) bool {
	return target == ErrInvalid
}
