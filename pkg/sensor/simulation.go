package sensor

import (
	"fmt"
	"math/rand"
	"sync"
)

// DefaultSimulationValue is the count of channels without a configured value.
const DefaultSimulationValue = 2048

// Simulation returns configured counts per channel, optionally with random
// jitter. It stands in for the ADC when no hardware is attached.
type Simulation struct {
	mu     sync.Mutex
	values map[int]int
	jitter int
	rnd    *rand.Rand
	// Err, when set, is returned by every read.
	Err error
}

func NewSimulation(values map[int]int, jitter int) *Simulation {
	v := make(map[int]int, len(values))
	for ch, c := range values {
		v[ch] = c
	}
	return &Simulation{values: v, jitter: jitter, rnd: rand.New(rand.NewSource(1))}
}

// Set changes the base count of a channel.
func (s *Simulation) Set(channel, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[channel] = value
}

func (s *Simulation) ReadRaw(channel int) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if channel < 0 {
		return 0, fmt.Errorf("invalid channel %d", channel)
	}
	v, ok := s.values[channel]
	if !ok {
		v = DefaultSimulationValue
	}
	if s.jitter > 0 {
		v += s.rnd.Intn(2*s.jitter+1) - s.jitter
	}
	switch {
	case v < 0:
		v = 0
	case v > 0xFFFF:
		v = 0xFFFF
	}
	return uint16(v), nil
}

func (s *Simulation) Close() error { return nil }
