package compensation

import (
	"fmt"
	"math/rand"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// Reading is one ambient measurement.
type Reading struct {
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %RH
	Pressure    float64 `json:"pressure"`    // hPa
}

// Environment is a temperature/humidity source.
type Environment interface {
	Read() (Reading, error)
	Close() error
}

// BME280 reads a Bosch BME280 over I2C.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// NewBME280 opens busName ("" for the first available bus) and probes the
// sensor at addr.
func NewBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Read() (Reading, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return Reading{
		Temperature: e.Temperature.Celsius(),
		Humidity:    float64(e.Humidity) / float64(physic.PercentRH),
		Pressure:    float64(e.Pressure) / float64(100*physic.Pascal),
	}, nil
}

func (b *BME280) Close() error {
	var err error
	if b.dev != nil {
		err = b.dev.Halt()
	}
	if b.bus != nil {
		if cerr := b.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Simulated returns a fixed reading with optional random jitter.
type Simulated struct {
	mu     sync.Mutex
	base   Reading
	jitter float64
	rnd    *rand.Rand
}

func NewSimulated(temperature, humidity, jitter float64) *Simulated {
	return &Simulated{
		base:   Reading{Temperature: temperature, Humidity: humidity, Pressure: 1013.25},
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(1)),
	}
}

func (s *Simulated) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.base
	if s.jitter > 0 {
		r.Temperature += (s.rnd.Float64()*2 - 1) * s.jitter
		r.Humidity += (s.rnd.Float64()*2 - 1) * s.jitter
	}
	return r, nil
}

// Set replaces the base reading.
func (s *Simulated) Set(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = r
}

func (s *Simulated) Close() error { return nil }
