package plugin

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ericogr/airsense-mqtt/pkg/compensation"
)

// adcMax is the full-scale count the conversion models are written for (12 bit).
const adcMax = 4095.0

// Plugin is the sensor-specific math shared by every engine of one sensor type.
// Implementations are stateless apart from the warm-up gate.
type Plugin interface {
	// Name is the registry name, e.g. "mq7".
	Name() string
	// Ratio converts a raw count to the normalized ratio (rs/ro) using the zero-point.
	Ratio(raw, calibration uint16) float64
	// Compensate corrects the ratio for ambient conditions. The bool reports
	// whether a correction was actually applied.
	Compensate(ratio float64, env compensation.Sample) (float64, bool)
	// Value converts a ratio to the physical value (ppm, %, ...).
	Value(ratio float64) float64
	// SamplingAllowed is false while the sensor cannot deliver meaningful data.
	SamplingAllowed() bool
	// Defaults returns the calibration target and compensation settings of the type.
	Defaults() Defaults
}

// Defaults are per sensor type constants consumed by the engine.
type Defaults struct {
	// TargetX10 is 0 for "calibrate to zero" or a reference value ×10.
	TargetX10    uint16
	Compensation compensation.Settings
}

// Options tune a plugin instance.
type Options struct {
	// WarmUp delays sampling after start (heater burn-in for MQ sensors).
	WarmUp time.Duration
}

type factory func(Options) Plugin

var registry = map[string]factory{
	"mq7":   func(o Options) Plugin { return NewMQ7(o) },
	"mq136": func(o Options) Plugin { return NewMQ136(o) },
	"o2a2":  func(o Options) Plugin { return NewO2A2(o) },
	"light": func(o Options) Plugin { return NewLight(o) },
}

// New returns the plugin registered under name.
func New(name string, opts Options) (Plugin, error) {
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown sensor plugin %q (known: %s)", name, strings.Join(Names(), ","))
	}
	return f(opts), nil
}

// Names lists the registered plugin names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// gate implements SamplingAllowed for plugins with a warm-up period.
type gate struct {
	start  time.Time
	warmUp time.Duration
	now    func() time.Time
}

func newGate(warmUp time.Duration) gate {
	return gate{start: time.Now(), warmUp: warmUp, now: time.Now}
}

func (g gate) SamplingAllowed() bool {
	if g.warmUp <= 0 {
		return true
	}
	return g.now().Sub(g.start) >= g.warmUp
}

// cubic evaluates a*x^3 + b*x^2 + c*x + d.
func cubic(a, b, c, d, x float64) float64 {
	return a*x*x*x + b*x*x + c*x + d
}

// humidityDelta is the rs/ro shift of the MQ family moving from the current
// humidity to 65%RH, interpolated between the 33% and 85% datasheet curves.
func humidityDelta(t, h float64) float64 {
	step := cubic(1.0/8100000.0, -13.0/540000.0, 101.0/54000.0, -1043.0/8100.0, t)
	return step * ((65.0 - 33.0) - (h - 33.0)) / (85.0 - 33.0)
}

// temperatureFactor is the MQ family rs/ro dependency on temperature at 33%RH.
func temperatureFactor(t float64) float64 {
	return cubic(-1.0/405000.0, 13.0/27000.0, -37.0/1350.0, 557.0/405.0, t)
}
