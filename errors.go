package coord

import (
	"errors"
	"fmt"
)

var (
	// Connection errors.
	ErrConnection   = errors.New("coord: connection error")
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)

	// Reply errors.
	ErrInvalidReply = errors.New("coord: invalid reply from backing store")
	ErrDecode       = errors.New("coord: malformed stored value")

	// Blocking operations that elapsed without data. Not a connection failure.
	ErrTimeout = errors.New("coord: timed out waiting for data")

	// Not found errors.
	ErrNotFound       = errors.New("coord: not found")
	ErrJobNotFound    = fmt.Errorf("%w: job", ErrNotFound)
	ErrTaskNotFound   = fmt.Errorf("%w: task", ErrNotFound)
	ErrWorkerNotFound = fmt.Errorf("%w: worker", ErrNotFound)

	// Conflict errors.
	ErrAlreadyExists = errors.New("coord: already exists")

	// State errors.
	ErrInvalidState    = errors.New("coord: invalid state transition")
	ErrInvalidArgument = errors.New("coord: invalid argument")
)
