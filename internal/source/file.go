package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// File replays a capture in fixed-size chunks at a fixed pace.
type File struct {
	path        string
	readSize    int
	timeBetween time.Duration
}

// NewFile creates a replay source reading readSize bytes every timeBetween.
func NewFile(path string, readSize int, timeBetween time.Duration) *File {
	if readSize <= 0 {
		readSize = 64
	}
	if timeBetween <= 0 {
		timeBetween = time.Millisecond
	}
	return &File{path: path, readSize: readSize, timeBetween: timeBetween}
}

// Name identifies the capture file.
func (f *File) Name() string { return "replay-" + filepath.Base(f.path) }

// Run returns nil once the whole file has been emitted.
func (f *File) Run(ctx context.Context, emit func([]byte)) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open replay %s: %w", f.path, err)
	}
	defer fh.Close()

	tick := time.NewTicker(f.timeBetween)
	defer tick.Stop()

	buf := make([]byte, f.readSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			n, err := fh.Read(buf)
			if n > 0 {
				emit(buf[:n])
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read replay %s: %w", f.path, err)
			}
		}
	}
}
