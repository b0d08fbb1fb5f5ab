package compensation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu       sync.Mutex
	settings Settings
	samples  []Sample
}

func (r *recordingTarget) Name() string { return "rec" }

func (r *recordingTarget) CompensationSettings() Settings { return r.settings }

func (r *recordingTarget) SetCompensation(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recordingTarget) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type failingEnv struct{ err error }

func (f failingEnv) Read() (Reading, error) { return Reading{}, f.err }

func (failingEnv) Close() error { return nil }

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestSampleFor(t *testing.T) {
	mq := Settings{Temperature: true, Humidity: true, MinT: -10, MaxT: 50}
	o2 := Settings{Temperature: true, MinT: -20, MaxT: 50}

	tests := []struct {
		name     string
		settings Settings
		reading  Reading
		want     Sample
	}{
		{
			"both present and rounded", mq, Reading{Temperature: 21.6, Humidity: 44.4},
			Sample{Value{Present, 22}, Value{Present, 44}},
		},
		{
			"temperature out of range", mq, Reading{Temperature: 55, Humidity: 44},
			Sample{Value{NoData, 0}, Value{Present, 44}},
		},
		{
			"humidity out of range", mq, Reading{Temperature: 20, Humidity: 101},
			Sample{Value{Present, 20}, Value{NoData, 0}},
		},
		{
			"humidity disabled", o2, Reading{Temperature: -15, Humidity: 80},
			Sample{Value{Present, -15}, Value{Ignored, 0}},
		},
		{
			"nothing enabled", Settings{}, Reading{Temperature: 20, Humidity: 50},
			Sample{Value{Ignored, 0}, Value{Ignored, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SampleFor(tt.settings, tt.reading))
		})
	}
}

func TestFeedPollDistributesAndPublishes(t *testing.T) {
	target := &recordingTarget{settings: Settings{Temperature: true, Humidity: true, MinT: -10, MaxT: 50}}
	pub := &recordingPublisher{}
	f := NewFeed(NewSimulated(20, 50, 0), time.Minute, "env", pub)
	f.Add(target)

	f.Poll()

	require.Equal(t, 1, target.count())
	assert.True(t, target.samples[0].Usable())
	assert.Equal(t, 20, target.samples[0].Temperature.Value)

	require.Equal(t, []string{"env"}, pub.topics)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, 20.0, got["temperature"])
	assert.Equal(t, 50.0, got["humidity"])
	assert.Equal(t, 1013.25, got["pressure"])

	last, ok := f.Last()
	require.True(t, ok)
	assert.Equal(t, 20.0, last.Temperature)
}

func TestFeedKeepsSampleOnReadFailure(t *testing.T) {
	target := &recordingTarget{}
	pub := &recordingPublisher{}
	f := NewFeed(failingEnv{errors.New("i2c nack")}, time.Minute, "env", pub)
	f.Add(target)

	f.Poll()
	assert.Zero(t, target.count())
	assert.Empty(t, pub.topics)
	_, ok := f.Last()
	assert.False(t, ok)
}

func TestFeedRunPollsImmediately(t *testing.T) {
	target := &recordingTarget{}
	f := NewFeed(NewSimulated(20, 50, 0), time.Hour, "")
	f.Add(target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return target.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestSimulatedJitter(t *testing.T) {
	s := NewSimulated(20, 50, 2)
	for i := 0; i < 50; i++ {
		r, err := s.Read()
		require.NoError(t, err)
		assert.InDelta(t, 20, r.Temperature, 2)
		assert.InDelta(t, 50, r.Humidity, 2)
	}
	s.Set(Reading{Temperature: 30, Humidity: 10})
	s.jitter = 0
	r, _ := s.Read()
	assert.Equal(t, 30.0, r.Temperature)
}
