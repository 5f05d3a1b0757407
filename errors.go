package dgram

import (
	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by operations on a server that has been shut
	// down. A closed server cannot be reopened.
	ErrClosed = errors.New("dgram: server is closed")

	// ErrNotOpen is returned by sends on a server whose socket is not
	// bound.
	ErrNotOpen = errors.New("dgram: server is not open")

	// ErrSessionClosed is returned by operations on a disposed session.
	ErrSessionClosed = errors.New("dgram: session is closed")
)
