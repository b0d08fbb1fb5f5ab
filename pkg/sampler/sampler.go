package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
)

// Source is the engine side of a sample.
type Source interface {
	Name() string
	SamplingAllowed() bool
	ReadAndConvert() (float64, error)
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Recorder receives sample outcomes, typically the metrics package.
type Recorder interface {
	Observe(sensor string, value, raw float64)
	ReadError(sensor string)
}

type Sampler struct {
	src      Source
	pub      Publisher
	topic    string
	interval time.Duration
	rec      Recorder
	log      *logrus.Entry
}

// New returns a sampler publishing on topic every interval. rec may be nil.
func New(src Source, pub Publisher, topic string, interval time.Duration, rec Recorder) *Sampler {
	return &Sampler{
		src:      src,
		pub:      pub,
		topic:    topic,
		interval: interval,
		rec:      rec,
		log:      logrus.WithFields(logrus.Fields{"sensor": src.Name(), "component": "sampler"}),
	}
}

// Run samples on every tick until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cycle()
		}
	}
}

// Cycle reads, converts and publishes one value. Failed reads publish nothing.
func (s *Sampler) Cycle() {
	name := s.src.Name()
	if !s.src.SamplingAllowed() {
		s.log.Debug("sampling not allowed yet")
		return
	}

	v, err := s.src.ReadAndConvert()
	if err != nil {
		if s.rec != nil {
			s.rec.ReadError(name)
		}
		if errors.Is(err, engine.ErrNoCalibration) {
			s.log.Warn("skipping sample without calibration")
			return
		}
		s.log.WithError(err).Error("sample failed")
		return
	}

	b, err := json.Marshal(Payload(name, v))
	if err != nil {
		s.log.WithError(err).Error("cant encode sample")
		return
	}
	if err := s.pub.Publish(s.topic, b); err != nil {
		s.log.WithError(err).Error("cant publish sample")
		return
	}
	if s.rec != nil {
		s.rec.Observe(name, math.Max(0, math.Round(v)), v)
	}
	s.log.WithField("value", v).Debug("published")
}

// Payload is the data message of a sample: the rounded, non-negative value
// under name and the unmodified one under name_raw.
func Payload(name string, v float64) map[string]float64 {
	return map[string]float64{
		name:          math.Max(0, math.Round(v)),
		name + "_raw": v,
	}
}
