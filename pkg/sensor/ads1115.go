package sensor

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	// ads1115Bits is the positive range of the signed 16 bit conversion result.
	ads1115Bits = 15
)

// ADS1115 performs single-shot conversions on the four single-ended inputs
// and rescales the result to the configured resolution.
type ADS1115 struct {
	mu         sync.Mutex
	dev        *i2c.Dev
	closer     func() error
	sampleRate int
	bits       int
}

func NewADS1115(busName string, addr uint16, sampleRate, bits int) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	return newADS1115(bus, bus.Close, addr, sampleRate, bits), nil
}

func newADS1115(bus i2c.Bus, closer func() error, addr uint16, sampleRate, bits int) *ADS1115 {
	if bits <= 0 {
		bits = 12
	}
	return &ADS1115{
		dev:        &i2c.Dev{Addr: addr, Bus: bus},
		closer:     closer,
		sampleRate: sampleRate,
		bits:       bits,
	}
}

func (s *ADS1115) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func (s *ADS1115) ReadRaw(channel int) (uint16, error) {
	msb, lsb, err := configForChannel(channel, s.sampleRate)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	// wait for conversion (simple sleep)
	time.Sleep(conversionDelay(s.sampleRate))
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return rescale(raw, s.bits), nil
}

func conversionDelay(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	return time.Duration(1000/sampleRate+2) * time.Millisecond
}

// rescale clamps negative single-ended results to 0 and maps 0..32767 onto
// 0..2^bits-1.
func rescale(raw int16, bits int) uint16 {
	if raw < 0 {
		return 0
	}
	v := uint32(raw)
	if bits < ads1115Bits {
		v >>= uint(ads1115Bits - bits)
	} else {
		v <<= uint(bits - ads1115Bits)
	}
	return uint16(v)
}

func configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}
