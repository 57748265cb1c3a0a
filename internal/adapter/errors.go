// Package adapter holds the frame extractors: they turn an arbitrarily
// chunked byte stream into whole frames and build outbound frames.
package adapter

import "errors"

var (
	// ErrPayloadTooLarge is returned when content does not fit the length field.
	ErrPayloadTooLarge = errors.New("adapter: payload too large")
	// ErrShortHeader is returned when a frame is too short to carry its header.
	ErrShortHeader = errors.New("adapter: short message header")
)
