package sensor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate      = 115200
	DefaultSerialTimeout = 500 * time.Millisecond
	maxLineLength        = 32
)

// ErrSerialTimeout is returned when the bridge does not answer in time.
var ErrSerialTimeout = errors.New("serial bridge timeout")

// SerialBridge reads channels from a microcontroller ADC bridge. A request
// is "A<channel>\n", the answer one decimal count per line.
type SerialBridge struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	timeout time.Duration
	pending []byte
}

func NewSerialBridge(portName string, baudRate int, timeout time.Duration) (*SerialBridge, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = DefaultSerialTimeout
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	// short polls so the overall deadline is honored
	if err := port.SetReadTimeout(timeout / 10); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return newSerialBridge(port, timeout), nil
}

func newSerialBridge(port io.ReadWriteCloser, timeout time.Duration) *SerialBridge {
	return &SerialBridge{port: port, timeout: timeout}
}

func (s *SerialBridge) ReadRaw(channel int) (uint16, error) {
	if channel < 0 || channel > 9 {
		return 0, fmt.Errorf("invalid channel %d", channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// drop stale answers of earlier timed out requests
	s.pending = s.pending[:0]
	if r, ok := s.port.(interface{ ResetInputBuffer() error }); ok {
		_ = r.ResetInputBuffer()
	}

	if _, err := fmt.Fprintf(s.port, "A%d\n", channel); err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}

	line, err := s.readLine(time.Now().Add(s.timeout))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(bytes.TrimSpace(line)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse answer %q: %w", line, err)
	}
	return uint16(v), nil
}

func (s *SerialBridge) readLine(deadline time.Time) ([]byte, error) {
	buf := make([]byte, maxLineLength)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := append([]byte(nil), s.pending[:i]...)
			s.pending = s.pending[i+1:]
			return line, nil
		}
		if len(s.pending) > maxLineLength {
			return nil, fmt.Errorf("answer too long: %q", s.pending)
		}
		if time.Now().After(deadline) {
			return nil, ErrSerialTimeout
		}
		n, err := s.port.Read(buf)
		s.pending = append(s.pending, buf[:n]...)
		if err != nil {
			return nil, fmt.Errorf("read answer: %w", err)
		}
	}
}

func (s *SerialBridge) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
