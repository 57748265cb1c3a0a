// Package source feeds raw bytes from non-TCP channels into the gateway.
package source

import (
	"context"
	"errors"
)

// ErrNotOpen is returned by writes before the channel is opened.
var ErrNotOpen = errors.New("source: channel not open")

// Source is a byte channel. Run blocks until ctx ends or the channel is
// exhausted, handing every chunk read to emit in arrival order. emit must
// not retain the slice.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func([]byte)) error
}
