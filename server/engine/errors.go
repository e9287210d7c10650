package engine

import "errors"

var (
	ErrReadRetries  = errors.New("engine: read retries exhausted")
	ErrWriteRetries = errors.New("engine: write retries exhausted")
	ErrTableFull    = errors.New("engine: connection table full")
	ErrTruncated    = errors.New("engine: file shorter than its range")
)
