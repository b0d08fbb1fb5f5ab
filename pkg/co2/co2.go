// Package co2 drives a factory calibrated NDIR CO2 sensor (MH-Z19B). Unlike
// the analog sensors it has no zero-point search: calibration is a single
// device command and the only setting is the automatic baseline correction.
package co2

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
	"github.com/ericogr/airsense-mqtt/pkg/store"
)

const (
	PluginName = "mhz19b"
	suffixAuto = "a"
)

// Device is the sensor hardware, implemented by sensor.MHZ19B.
type Device interface {
	ReadCO2() (uint16, error)
	CalibrateZero() error
	SetAutoCalibration(on bool) error
	Close() error
}

type Options struct {
	Name string
	// Tag prefixes the store key; defaults to Name.
	Tag    string
	Device Device
	Store  store.Store
	// AutoCalibration is used until a value is persisted.
	AutoCalibration bool
	// WarmUp blocks sampling and calibration after start.
	WarmUp        time.Duration
	OnCalibration func(engine.Status)
	Logger        *logrus.Entry
}

// Sensor serializes sampling, calibration and settings of one device.
type Sensor struct {
	mu      sync.Mutex
	name    string
	key     string
	dev     Device
	st      store.Store
	auto    bool
	readyAt time.Time
	now     func() time.Time
	onCal   func(engine.Status)
	log     *logrus.Entry
}

// New restores the persisted auto calibration flag and pushes it to the device.
func New(o Options) (*Sensor, error) {
	if o.Device == nil {
		return nil, fmt.Errorf("sensor %q: device is required", o.Name)
	}
	if o.Tag == "" {
		o.Tag = o.Name
	}
	log := o.Logger
	if log == nil {
		log = logrus.WithFields(logrus.Fields{"sensor": o.Name, "tag": o.Tag})
	}
	s := &Sensor{
		name:  o.Name,
		key:   o.Tag + suffixAuto,
		dev:   o.Device,
		st:    o.Store,
		auto:  o.AutoCalibration,
		now:   time.Now,
		onCal: o.OnCalibration,
		log:   log,
	}
	s.readyAt = s.now().Add(o.WarmUp)

	if s.st != nil {
		if b, ok := s.st.Load(s.key); ok && len(b) > 0 {
			s.auto = b[0] != 0
		}
	}
	if err := s.dev.SetAutoCalibration(s.auto); err != nil {
		return nil, fmt.Errorf("sensor %q: %w", o.Name, err)
	}
	log.WithField("auto", s.auto).Info("co2 sensor ready")
	return s, nil
}

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) SamplingAllowed() bool { return !s.now().Before(s.readyAt) }

// ReadAndConvert returns the concentration in ppm.
func (s *Sensor) ReadAndConvert() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ppm, err := s.dev.ReadCO2()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", engine.ErrBus, err)
	}
	return float64(ppm), nil
}

// Recalibrate sets the current air as the 400 ppm baseline.
func (s *Sensor) Recalibrate() engine.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := engine.StatusOk
	if !s.SamplingAllowed() {
		s.log.Error("calibration not allowed")
		st = engine.StatusNotAllowed
	} else if err := s.dev.CalibrateZero(); err != nil {
		s.log.WithError(err).Error("zero calibration failed")
		st = engine.StatusError
	} else {
		s.log.Info("zero calibration sent")
	}
	if s.onCal != nil {
		s.onCal(st)
	}
	return st
}

// ApplySettings only honours Auto; the device has no offset or scale.
func (s *Sensor) ApplySettings(in engine.Settings) engine.Current {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Zero != nil || in.Scale != nil {
		s.log.Debug("zero and scale are not supported, ignored")
	}
	if in.Auto != nil && *in.Auto != s.auto {
		if err := s.dev.SetAutoCalibration(*in.Auto); err != nil {
			s.log.WithError(err).Error("cant change auto calibration")
		} else {
			s.auto = *in.Auto
			s.persist()
		}
	}
	return engine.Current{Zero: 0, Scale: 1, Auto: s.auto}
}

func (s *Sensor) persist() {
	if s.st == nil {
		return
	}
	var b byte
	if s.auto {
		b = 1
	}
	if err := s.st.Store(s.key, []byte{b}); err != nil {
		s.log.WithError(err).Errorf("cant store %s", s.key)
	}
}

// Snapshot reports the device as always calibrated.
func (s *Sensor) Snapshot() engine.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine.Snapshot{
		Name:       s.name,
		Plugin:     PluginName,
		Calibrated: true,
		State: engine.CalibrationState{
			ScaleFactor:     1,
			AutoCalibration: s.auto,
		},
	}
}

func (s *Sensor) Close() error { return s.dev.Close() }
