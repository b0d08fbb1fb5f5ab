package sensor

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/airsense-mqtt/pkg/config"
)

// fakePort answers "A<ch>\n" requests from a table and behaves like a
// serial port with a read timeout when it has nothing to say.
type fakePort struct {
	mu      sync.Mutex
	answers map[string]string
	out     bytes.Buffer
	written []string
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req := string(b)
	p.written = append(p.written, req)
	if a, ok := p.answers[strings.TrimSpace(req)]; ok {
		p.out.WriteString(a)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	return p.out.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialBridgeReadRaw(t *testing.T) {
	port := &fakePort{answers: map[string]string{
		"A0": "1234\r\n",
		"A1": "40",
		"A2": "nope\n",
		"A3": "70000\n",
	}}
	s := newSerialBridge(port, 50*time.Millisecond)

	v, err := s.ReadRaw(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), v)
	assert.Equal(t, []string{"A0\n"}, port.written)

	_, err = s.ReadRaw(1)
	assert.ErrorIs(t, err, ErrSerialTimeout)

	_, err = s.ReadRaw(2)
	assert.ErrorContains(t, err, "parse answer")

	_, err = s.ReadRaw(3)
	assert.Error(t, err)

	_, err = s.ReadRaw(-1)
	assert.Error(t, err)

	require.NoError(t, s.Close())
	assert.True(t, port.closed)
}

func TestSerialBridgeDropsStaleData(t *testing.T) {
	port := &fakePort{answers: map[string]string{"A1": "40", "A0": "7\n"}}
	s := newSerialBridge(port, 20*time.Millisecond)

	_, err := s.ReadRaw(1)
	require.ErrorIs(t, err, ErrSerialTimeout)

	v, err := s.ReadRaw(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)
}

func TestSimulation(t *testing.T) {
	s := NewSimulation(map[int]int{0: 1200, 1: 70000, 2: -3}, 0)

	v, err := s.ReadRaw(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(1200), v)

	v, _ = s.ReadRaw(1)
	assert.Equal(t, uint16(0xFFFF), v)
	v, _ = s.ReadRaw(2)
	assert.Equal(t, uint16(0), v)
	v, _ = s.ReadRaw(3)
	assert.Equal(t, uint16(DefaultSimulationValue), v)

	s.Set(3, 10)
	v, _ = s.ReadRaw(3)
	assert.Equal(t, uint16(10), v)

	s.Err = errors.New("unplugged")
	_, err = s.ReadRaw(0)
	assert.Error(t, err)
}

func TestSimulationJitter(t *testing.T) {
	s := NewSimulation(map[int]int{0: 1000}, 5)
	for i := 0; i < 100; i++ {
		v, err := s.ReadRaw(0)
		require.NoError(t, err)
		assert.InDelta(t, 1000, int(v), 5)
	}
}

func TestNewBus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bus.Type = "simulation"
	b, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Simulation{}, b)

	cfg.Bus.Type = "spi"
	_, err = New(cfg)
	assert.Error(t, err)
}
