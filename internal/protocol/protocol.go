// Package protocol composes a frame extractor with a checksum into an engine
// that turns raw channel chunks into validated frames.
package protocol

// Parser delimits frames out of a chunked byte stream. Implementations keep
// whatever partial frame remains between calls.
type Parser interface {
	// Extract consumes chunk and returns every frame completed by it, oldest first.
	Extract(chunk []byte) [][]byte
}

// Checker decides whether a frame's trailer matches its contents.
type Checker interface {
	Verify(frame []byte) bool
}

// FrameHandler receives each extracted frame with its validity.
type FrameHandler func(frame []byte, valid bool)

// Engine drives one Parser and one Checker. All mutable state lives in the
// Parser, so an Engine must be owned by a single goroutine; give every
// channel its own Engine.
type Engine struct {
	parser  Parser
	checker Checker
}

// NewEngine pairs a parser with a checker.
func NewEngine(parser Parser, checker Checker) *Engine {
	return &Engine{parser: parser, checker: checker}
}

// Process feeds chunk to the parser and calls handler for every frame it
// completes, in extraction order. A checksum mismatch is reported as
// valid=false, never as an error. A nil handler discards the frames.
func (e *Engine) Process(chunk []byte, handler FrameHandler) {
	for _, frame := range e.parser.Extract(chunk) {
		valid := e.checker.Verify(frame)
		if handler != nil {
			handler(frame, valid)
		}
	}
}
