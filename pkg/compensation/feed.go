package compensation

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Target receives compensation samples. Each sensor engine is one.
type Target interface {
	Name() string
	CompensationSettings() Settings
	SetCompensation(Sample)
}

// Publisher is where environment readings are mirrored to.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Feed polls an Environment and distributes the result to every target.
type Feed struct {
	env      Environment
	interval time.Duration
	topic    string
	pubs     []Publisher
	log      *logrus.Entry

	mu      sync.RWMutex
	targets []Target
	last    *Reading
}

// NewFeed creates a feed. Readings are published on topic when it is not empty.
func NewFeed(env Environment, interval time.Duration, topic string, pubs ...Publisher) *Feed {
	return &Feed{
		env:      env,
		interval: interval,
		topic:    topic,
		pubs:     pubs,
		log:      logrus.WithField("component", "compensation"),
	}
}

// Add registers a target. Targets added after Run start receive the next poll.
func (f *Feed) Add(t Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
}

// Last returns the most recent successful reading.
func (f *Feed) Last() (Reading, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last == nil {
		return Reading{}, false
	}
	return *f.last, true
}

// Run polls immediately and then every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	f.Poll()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Poll()
		}
	}
}

// Poll reads the environment once. On failure the targets keep their
// previous sample.
func (f *Feed) Poll() {
	r, err := f.env.Read()
	if err != nil {
		f.log.WithError(err).Error("cant read environment sensor")
		return
	}
	f.log.WithFields(logrus.Fields{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"pressure":    r.Pressure,
	}).Debug("environment reading")

	f.mu.Lock()
	f.last = &r
	targets := append([]Target(nil), f.targets...)
	f.mu.Unlock()

	for _, t := range targets {
		s := SampleFor(t.CompensationSettings(), r)
		if s.Temperature.State == NoData || s.Humidity.State == NoData {
			f.log.WithField("sensor", t.Name()).Warnf("reading out of range for compensation: %.1f°C %.1f%%", r.Temperature, r.Humidity)
		}
		t.SetCompensation(s)
	}

	if f.topic == "" || len(f.pubs) == 0 {
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		f.log.WithError(err).Error("cant encode environment reading")
		return
	}
	for _, p := range f.pubs {
		if err := p.Publish(f.topic, b); err != nil {
			f.log.WithError(err).Error("cant publish environment reading")
		}
	}
}

// SampleFor maps a reading onto the quantities a sensor type compensates for.
func SampleFor(s Settings, r Reading) Sample {
	out := Sample{}

	t := math.Round(r.Temperature)
	switch {
	case !s.Temperature:
		out.Temperature.State = Ignored
	case math.IsNaN(t) || t < float64(s.MinT) || t > float64(s.MaxT):
		out.Temperature.State = NoData
	default:
		out.Temperature = Value{State: Present, Value: int(t)}
	}

	h := math.Round(r.Humidity)
	switch {
	case !s.Humidity:
		out.Humidity.State = Ignored
	case math.IsNaN(h) || h < 0 || h > 100:
		out.Humidity.State = NoData
	default:
		out.Humidity = Value{State: Present, Value: int(h)}
	}
	return out
}
