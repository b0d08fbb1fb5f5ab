package plugin

import (
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/compensation"
)

// O2ReferenceX10 is the oxygen share of ambient air, 20.9%.
const O2ReferenceX10 = 209

// O2A2 is the electrochemical oxygen sensor. The zero-point is the count
// measured in ambient air, the value is in % O2.
type O2A2 struct {
	gate
}

var _ Plugin = (*O2A2)(nil)

func NewO2A2(o Options) *O2A2 { return &O2A2{gate: newGate(o.WarmUp)} }

func (*O2A2) Name() string { return "o2a2" }

// Ratio returns the O2 concentration ×10 relative to the ambient-air count.
func (*O2A2) Ratio(raw, calibration uint16) float64 {
	return float64(raw) * O2ReferenceX10 / float64(calibration)
}

// Compensate uses temperature only; humidity is not part of the model.
func (*O2A2) Compensate(ratio float64, env compensation.Sample) (float64, bool) {
	t, ok := env.Temp()
	if !ok {
		return ratio, false
	}
	pc := cubic(-139.0/4620000.0, 1.0/61600.0, 23057.0/92400.0, 29335.0/308.0, t)
	if pc <= 90 || pc >= 105 {
		logrus.WithFields(logrus.Fields{
			"tag":         "o2a2",
			"temperature": t,
			"ratio":       ratio,
			"percent":     pc,
		}).Error("bad compensation")
		return ratio, false
	}
	return ratio / pc * 100, true
}

func (*O2A2) Value(ratio float64) float64 { return ratio / 10 }

func (*O2A2) Defaults() Defaults {
	return Defaults{
		TargetX10:    O2ReferenceX10,
		Compensation: compensation.Settings{Temperature: true, Humidity: false, MinT: -20, MaxT: 50},
	}
}
