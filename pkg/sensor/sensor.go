package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/airsense-mqtt/pkg/config"
)

// Bus delivers raw ADC counts per channel. Implementations serialize access
// internally so several sensors can share one bus.
type Bus interface {
	ReadRaw(channel int) (uint16, error)
	Close() error
}

// New opens the bus selected by cfg.Bus.Type.
func New(cfg config.Config) (Bus, error) {
	switch cfg.Bus.Type {
	case "real", "":
		return NewADS1115(cfg.I2C.Bus, uint16(cfg.I2C.Address), cfg.Bus.SampleRate, cfg.Bus.ResolutionBits)
	case "serial":
		s := cfg.Bus.Serial
		return NewSerialBridge(s.Port, s.BaudRate, time.Duration(s.TimeoutMs)*time.Millisecond)
	case "simulation":
		return NewSimulation(cfg.Bus.Simulation.Values, cfg.Bus.Simulation.Jitter), nil
	default:
		return nil, fmt.Errorf("unknown bus type %q", cfg.Bus.Type)
	}
}
