package engine

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/compensation"
	"github.com/ericogr/airsense-mqtt/pkg/plugin"
	"github.com/ericogr/airsense-mqtt/pkg/store"
)

const (
	// NoCalibration is the zero-point sentinel of an uncalibrated sensor.
	NoCalibration uint16 = 0xFFFF
	// MaxDriftSamples consecutive negative compensated values trigger a fast recalibration.
	MaxDriftSamples = 5

	// FullDelta is the search half-width of a user requested calibration.
	FullDelta = 700
	// FastDelta is the search half-width of a drift correction.
	FastDelta = 50
	// yieldEvery is the number of scan iterations between scheduler yields.
	yieldEvery = 50

	// stopTolerance is how close to the target a candidate must get.
	stopTolerance = 0.5
)

// Bus reads one raw analog sample.
type Bus interface {
	ReadRaw(channel int) (uint16, error)
}

// Identity is the static description of one sensor instance.
type Identity struct {
	Name         string
	Tag          string
	Channel      int
	TopicData    string
	TopicCommand string
	TopicReply   string
}

// CalibrationState is the mutable calibration data of one sensor.
type CalibrationState struct {
	CalibrationRaw  uint16 `json:"calibration_raw"`
	ZeroOffset      uint16 `json:"zero_offset"`
	ScaleFactor     uint8  `json:"scale_factor"`
	AutoCalibration bool   `json:"auto_calibration"`
	TargetX10       uint16 `json:"target_x10"`
	DriftCounter    int8   `json:"drift_counter"`
}

// Calibrated reports whether a usable zero-point is set.
func (s CalibrationState) Calibrated() bool {
	return s.CalibrationRaw != NoCalibration && s.CalibrationRaw != 0
}

// Options configure a new Engine.
type Options struct {
	Identity Identity
	Plugin   plugin.Plugin
	Bus      Bus
	Store    store.Store
	// AutoCalibration is used until a value is persisted.
	AutoCalibration bool
	// DefaultCalibration seeds the zero-point when nothing is persisted; 0 leaves it unset.
	DefaultCalibration uint16
	// OnCalibration, if set, is called after every calibration run (with the lock held).
	OnCalibration func(st Status, fast bool)
	Logger        *logrus.Entry
}

// Engine is the calibration and compensation context of one sensor. All
// state is guarded by a single mutex so sampling, calibration scans,
// settings changes and compensation updates never interleave.
type Engine struct {
	mu sync.Mutex

	id      Identity
	plugin  plugin.Plugin
	bus     Bus
	persist persister
	log     *logrus.Entry
	onCal   func(Status, bool)
	yield   func()

	state   CalibrationState
	compSet compensation.Settings
	env     compensation.Sample
}

// New builds the engine and restores persisted calibration state.
func New(o Options) (*Engine, error) {
	if o.Plugin == nil {
		return nil, fmt.Errorf("sensor %q: plugin is required", o.Identity.Name)
	}
	if o.Bus == nil {
		return nil, fmt.Errorf("sensor %q: bus is required", o.Identity.Name)
	}
	if o.Identity.Tag == "" {
		o.Identity.Tag = o.Identity.Name
	}
	log := o.Logger
	if log == nil {
		log = logrus.WithFields(logrus.Fields{"sensor": o.Identity.Name, "tag": o.Identity.Tag})
	}

	d := o.Plugin.Defaults()
	e := &Engine{
		id:      o.Identity,
		plugin:  o.Plugin,
		bus:     o.Bus,
		persist: persister{st: o.Store, tag: o.Identity.Tag, log: log},
		log:     log,
		onCal:   o.OnCalibration,
		yield:   runtime.Gosched,
		compSet: d.Compensation,
		env:     d.Compensation.Initial(),
		state: CalibrationState{
			CalibrationRaw:  NoCalibration,
			ScaleFactor:     1,
			AutoCalibration: o.AutoCalibration,
			TargetX10:       d.TargetX10,
		},
	}

	if v, ok := e.persist.loadU16(suffixCalibration); ok {
		e.state.CalibrationRaw = v
	} else if o.DefaultCalibration != 0 {
		e.state.CalibrationRaw = o.DefaultCalibration
	}
	if v, ok := e.persist.loadU16(suffixZero); ok {
		e.state.ZeroOffset = v
	}
	if v, ok := e.persist.loadU8(suffixScale); ok {
		e.state.ScaleFactor = v
	}
	if v, ok := e.persist.loadBool(suffixAuto); ok {
		e.state.AutoCalibration = v
	}

	if e.state.Calibrated() {
		log.Infof("calibration value: A0 = %d", e.state.CalibrationRaw)
	} else {
		log.Warn("no calibration value, send a {\"type\":\"calibrate\"} command")
	}
	return e, nil
}

func (e *Engine) Name() string { return e.id.Name }

func (e *Engine) Identity() Identity { return e.id }

func (e *Engine) Plugin() plugin.Plugin { return e.plugin }

// SamplingAllowed forwards to the plugin.
func (e *Engine) SamplingAllowed() bool { return e.plugin.SamplingAllowed() }

// CompensationSettings tells the compensation feed what this sensor uses.
func (e *Engine) CompensationSettings() compensation.Settings { return e.compSet }

// SetCompensation stores the latest ambient sample.
func (e *Engine) SetCompensation(s compensation.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.env = s
}

// Convert turns a raw count into the physical value. See convert.
func (e *Engine) Convert(raw uint16, allowAuto bool) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convert(raw, allowAuto)
}

// convert must be called with e.mu held. When allowAuto is set and the
// compensated value stays negative for MaxDriftSamples conversions in a row,
// a fast recalibration around raw is run before returning.
func (e *Engine) convert(raw uint16, allowAuto bool) (float64, error) {
	if !e.state.Calibrated() {
		e.log.Warnf("no calibration, ADC = %d", raw)
		return 0, ErrNoCalibration
	}

	ratio := e.plugin.Ratio(raw, e.state.CalibrationRaw)
	e.log.Tracef("before compensation: ADC = %d -> rs/ro = %f", raw, ratio)

	adjusted := false
	if e.env.Usable() {
		ratio, adjusted = e.plugin.Compensate(ratio, e.env)
	}
	e.log.Tracef("after compensation: ADC = %d -> rs/ro = %f", raw, ratio)

	value := e.plugin.Value(ratio)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: ADC = %d, rs/ro = %f", ErrInvalidValue, raw, ratio)
	}

	if adjusted && allowAuto {
		if value < 0 {
			e.state.DriftCounter++
			if e.state.DriftCounter >= MaxDriftSamples {
				e.state.DriftCounter = 0
				e.log.WithField("value", value).Warn("sustained negative result, start fast auto-recalibration to find zero")
				e.recalibrate(raw, true)
			}
		} else {
			e.state.DriftCounter = 0
		}
	}

	e.log.Tracef("result: %f for ADC = %d and rs/ro = %f", value, raw, ratio)
	return value, nil
}

// ReadAndConvert samples the bus once, converts the reading and applies the
// zero offset and scale factor.
func (e *Engine) ReadAndConvert() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.bus.ReadRaw(e.id.Channel)
	if err != nil {
		return 0, fmt.Errorf("%w: channel %d: %w", ErrBus, e.id.Channel, err)
	}

	value, err := e.convert(raw, e.state.AutoCalibration)
	if err != nil {
		return 0, err
	}
	if e.state.ZeroOffset > 0 {
		value -= float64(e.state.ZeroOffset)
	}
	if e.state.ScaleFactor > 1 {
		value *= float64(e.state.ScaleFactor)
	}
	return value, nil
}

// Recalibrate runs a full, user requested calibration at the current reading.
func (e *Engine) Recalibrate() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.plugin.SamplingAllowed() {
		e.log.Error("calibration not allowed")
		return e.finish(StatusNotAllowed, false)
	}
	raw, err := e.bus.ReadRaw(e.id.Channel)
	if err != nil {
		e.log.WithError(err).Error("cant read ADC value")
		return e.finish(StatusError, false)
	}
	return e.recalibrate(raw, false)
}

// recalibrate must be called with e.mu held.
func (e *Engine) recalibrate(observed uint16, fast bool) Status {
	if !e.plugin.SamplingAllowed() {
		e.log.Error("calibration not allowed")
		return e.finish(StatusNotAllowed, fast)
	}

	e.state.CalibrationRaw = observed

	if !e.env.Usable() {
		e.persist.storeU16(suffixCalibration, e.state.CalibrationRaw)
		e.log.Warn("no data for compensation, stored raw reading as zero-point")
		return e.finish(StatusNoCompensationData, fast)
	}

	st := e.search(observed, fast)
	e.persist.storeU16(suffixCalibration, e.state.CalibrationRaw)
	return e.finish(st, fast)
}

func (e *Engine) finish(st Status, fast bool) Status {
	if e.onCal != nil {
		e.onCal(st, fast)
	}
	return st
}

// search scans candidate zero-points around observed and leaves the chosen
// one in e.state.CalibrationRaw.
//
// With no target the candidates are visited in ascending order and the first
// one whose value drops below stopTolerance wins. With a target the
// candidates are visited nearest-first and the first one within
// stopTolerance of the target wins. When nothing matches, the closest
// candidate is kept and StatusPartial returned.
func (e *Engine) search(observed uint16, fast bool) Status {
	delta := FullDelta
	if fast {
		delta = FastDelta
	}
	lo := int(observed) - delta
	if lo < 1 {
		// 0 means "no calibration" and can never be a zero-point
		lo = 1
	}
	hi := int(observed) + delta
	if hi > math.MaxUint16 {
		hi = math.MaxUint16
	}

	findMin := e.state.TargetX10 == 0
	target := float64(e.state.TargetX10) / 10

	best := observed
	bestScore := math.Inf(1)

	n := 0
	try := func(i int) (Status, bool) {
		if n > 0 && n%yieldEvery == 0 {
			e.yield()
		}
		n++

		e.state.CalibrationRaw = uint16(i)
		value, err := e.convert(observed, false)
		if err != nil {
			e.state.CalibrationRaw = observed
			e.log.WithError(err).Error("calibration aborted")
			return StatusError, true
		}

		var score float64
		if findMin {
			if value < stopTolerance {
				return StatusOk, true
			}
			score = value
		} else {
			score = math.Abs(value - target)
			if score < stopTolerance {
				return StatusOk, true
			}
		}
		if score < bestScore {
			bestScore = score
			best = uint16(i)
		}
		return 0, false
	}

	var (
		st   Status
		done bool
	)
	if findMin {
		for i := lo; i < hi && !done; i++ {
			st, done = try(i)
		}
	} else {
		for d := 0; !done && (int(observed)-d >= lo || int(observed)+d < hi); d++ {
			if i := int(observed) - d; i >= lo && i < hi {
				if st, done = try(i); done {
					break
				}
			}
			if i := int(observed) + d; d > 0 && i >= lo && i < hi {
				st, done = try(i)
			}
		}
	}

	fields := logrus.Fields{"from": observed, "fast": fast, "iterations": n}
	if done {
		fields["to"] = e.state.CalibrationRaw
		if st == StatusOk {
			e.log.WithFields(fields).Info("calibration - compensation applied")
		}
		return st
	}

	e.state.CalibrationRaw = best
	fields["to"] = best
	fields["closest"] = bestScore
	e.log.WithFields(fields).Warn("calibration - compensation applied partially")
	return StatusPartial
}

// Settings is a partial update of the post-adjustment and auto flag; nil
// fields are left untouched.
type Settings struct {
	Zero  *uint16 `json:"zero,omitempty"`
	Scale *uint8  `json:"scale,omitempty"`
	Auto  *bool   `json:"auto,omitempty"`
}

// Current is the full settings triple after an update.
type Current struct {
	Zero  uint16 `json:"zero"`
	Scale uint8  `json:"scale"`
	Auto  bool   `json:"auto"`
}

// ApplySettings updates and persists only the fields that differ from the
// current values.
func (e *Engine) ApplySettings(s Settings) Current {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.Zero != nil && *s.Zero != e.state.ZeroOffset {
		e.state.ZeroOffset = *s.Zero
		e.persist.storeU16(suffixZero, e.state.ZeroOffset)
		e.log.Infof("zero offset set to %d", e.state.ZeroOffset)
	}
	if s.Scale != nil && *s.Scale != e.state.ScaleFactor {
		e.state.ScaleFactor = *s.Scale
		e.persist.storeU8(suffixScale, e.state.ScaleFactor)
		e.log.Infof("scale factor set to %d", e.state.ScaleFactor)
	}
	if s.Auto != nil && *s.Auto != e.state.AutoCalibration {
		e.state.AutoCalibration = *s.Auto
		e.persist.storeBool(suffixAuto, e.state.AutoCalibration)
		e.log.Infof("auto calibration set to %t", e.state.AutoCalibration)
	}
	return Current{Zero: e.state.ZeroOffset, Scale: e.state.ScaleFactor, Auto: e.state.AutoCalibration}
}

// Snapshot is a copy of the engine state for reporting.
type Snapshot struct {
	Name         string              `json:"name"`
	Plugin       string              `json:"plugin"`
	Channel      int                 `json:"channel"`
	Calibrated   bool                `json:"calibrated"`
	State        CalibrationState    `json:"state"`
	Compensation compensation.Sample `json:"compensation"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Name:         e.id.Name,
		Plugin:       e.plugin.Name(),
		Channel:      e.id.Channel,
		Calibrated:   e.state.Calibrated(),
		State:        e.state,
		Compensation: e.env,
	}
}
