package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialOptions mirrors the serial section of the configuration.
type SerialOptions struct {
	Device      string
	BaudRate    int
	DataBits    int
	Parity      string
	StopBits    string
	ReadTimeout time.Duration
	ReadSize    int
}

// Serial reads from a serial port and accepts outbound writes once open.
type Serial struct {
	opts SerialOptions
	mode *serial.Mode

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a serial source. The port is opened by Run.
func NewSerial(opts SerialOptions) (*Serial, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 1024
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	return &Serial{opts: opts, mode: mode}, nil
}

// Mode builds the port settings.
func (o SerialOptions) Mode() (*serial.Mode, error) {
	parity, err := ParseParity(o.Parity)
	if err != nil {
		return nil, err
	}
	stop, err := ParseStopBits(o.StopBits)
	if err != nil {
		return nil, err
	}
	dataBits := o.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	return &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stop,
	}, nil
}

// Name identifies the device.
func (s *Serial) Name() string { return "serial-" + filepath.Base(s.opts.Device) }

// Run opens the port and emits every read until ctx ends or the port fails.
func (s *Serial) Run(ctx context.Context, emit func([]byte)) error {
	port, err := serial.Open(s.opts.Device, s.mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", s.opts.Device, err)
	}
	if err := port.SetReadTimeout(s.opts.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.port = nil
		s.mu.Unlock()
		port.Close()
	}()

	buf := make([]byte, s.opts.ReadSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("serial: read %s: %w", s.opts.Device, err)
		}
		// n == 0 is a read timeout
		if n > 0 {
			emit(buf[:n])
		}
	}
}

// Write sends raw bytes out of the port.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, ErrNotOpen
	}
	return s.port.Write(p)
}

// ParseParity maps none, odd, even, mark or space to a serial parity.
func ParseParity(name string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("serial: unknown parity %q", name)
}

// ParseStopBits maps "1", "1.5" or "2" to serial stop bits.
func ParseStopBits(name string) (serial.StopBits, error) {
	switch strings.TrimSpace(name) {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	}
	return serial.OneStopBit, fmt.Errorf("serial: unknown stop bits %q", name)
}
