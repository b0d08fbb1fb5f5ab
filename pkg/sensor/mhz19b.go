package sensor

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// MH-Z19B commands, the first data byte of a 9 byte frame.
const (
	mhz19bReadCO2        = 0x86
	mhz19bCalibrateZero  = 0x87
	mhz19bAutoCalibrate  = 0x79
	mhz19bSetRange       = 0x99
	mhz19bFrameLen       = 9
	mhz19bBaudRate       = 9600
	mhz19bDefaultRange   = 5000
	mhz19bSettle         = 20 * time.Millisecond
	DefaultMHZ19BTimeout = time.Second
)

var (
	ErrMHZ19BTimeout  = errors.New("mh-z19b timeout")
	ErrMHZ19BResponse = errors.New("mh-z19b invalid response")
)

// MHZ19B is a Winsen MH-Z19B NDIR CO2 sensor on a UART.
type MHZ19B struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	timeout time.Duration
	sleep   func(time.Duration)
}

// NewMHZ19B opens portName at 9600 8N1, sets the 0..5000 ppm range and
// applies the automatic baseline correction flag.
func NewMHZ19B(portName string, timeout time.Duration, autoCalibration bool) (*MHZ19B, error) {
	if timeout <= 0 {
		timeout = DefaultMHZ19BTimeout
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: mhz19bBaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(timeout / 10); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	m := newMHZ19B(port, timeout)
	if err := m.SetRange(mhz19bDefaultRange); err != nil {
		_ = port.Close()
		return nil, err
	}
	if err := m.SetAutoCalibration(autoCalibration); err != nil {
		_ = port.Close()
		return nil, err
	}
	return m, nil
}

func newMHZ19B(port io.ReadWriteCloser, timeout time.Duration) *MHZ19B {
	return &MHZ19B{port: port, timeout: timeout, sleep: time.Sleep}
}

// ReadCO2 returns the concentration in ppm.
func (m *MHZ19B) ReadCO2() (uint16, error) {
	reply, err := m.exec([6]byte{mhz19bReadCO2}, true)
	if err != nil {
		return 0, fmt.Errorf("read co2: %w", err)
	}
	return uint16(reply[2])<<8 | uint16(reply[3]), nil
}

// CalibrateZero sets the current concentration as the 400 ppm baseline. The
// sensor does not answer this command.
func (m *MHZ19B) CalibrateZero() error {
	if _, err := m.exec([6]byte{mhz19bCalibrateZero}, false); err != nil {
		return fmt.Errorf("calibrate zero: %w", err)
	}
	return nil
}

// SetAutoCalibration toggles the automatic baseline correction.
func (m *MHZ19B) SetAutoCalibration(on bool) error {
	cmd := [6]byte{mhz19bAutoCalibrate}
	if on {
		cmd[1] = 0xA0
	}
	if _, err := m.exec(cmd, false); err != nil {
		return fmt.Errorf("auto calibration: %w", err)
	}
	return nil
}

func (m *MHZ19B) SetRange(ppm uint16) error {
	if _, err := m.exec([6]byte{mhz19bSetRange, byte(ppm >> 8), byte(ppm)}, false); err != nil {
		return fmt.Errorf("set range: %w", err)
	}
	return nil
}

func (m *MHZ19B) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}

func (m *MHZ19B) exec(cmd [6]byte, wantReply bool) ([mhz19bFrameLen]byte, error) {
	var reply [mhz19bFrameLen]byte

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.port.(interface{ ResetInputBuffer() error }); ok {
		_ = r.ResetInputBuffer()
	}
	frame := mhz19bFrame(cmd)
	if _, err := m.port.Write(frame[:]); err != nil {
		return reply, fmt.Errorf("send: %w", err)
	}
	m.sleep(mhz19bSettle)
	if !wantReply {
		return reply, nil
	}

	deadline := time.Now().Add(m.timeout)
	for n := 0; n < mhz19bFrameLen; {
		if time.Now().After(deadline) {
			return reply, ErrMHZ19BTimeout
		}
		k, err := m.port.Read(reply[n:])
		n += k
		if err != nil {
			return reply, fmt.Errorf("receive: %w", err)
		}
	}

	switch {
	case reply[0] != 0xFF:
		return reply, fmt.Errorf("%w: start byte %02X", ErrMHZ19BResponse, reply[0])
	case reply[1] != cmd[0]:
		return reply, fmt.Errorf("%w: command %02X != %02X", ErrMHZ19BResponse, reply[1], cmd[0])
	case reply[8] != mhz19bChecksum(reply[:]):
		return reply, fmt.Errorf("%w: checksum %02X != %02X", ErrMHZ19BResponse, reply[8], mhz19bChecksum(reply[:]))
	}
	return reply, nil
}

func mhz19bFrame(cmd [6]byte) [mhz19bFrameLen]byte {
	f := [mhz19bFrameLen]byte{0xFF, 0x01, cmd[0], cmd[1], cmd[2], cmd[3], cmd[4], cmd[5]}
	f[8] = mhz19bChecksum(f[:])
	return f
}

// mhz19bChecksum is the two's complement of the sum of bytes 1..7.
func mhz19bChecksum(frame []byte) byte {
	var sum byte
	for _, b := range frame[1:8] {
		sum += b
	}
	return 0xFF - sum + 1
}
