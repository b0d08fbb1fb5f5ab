package plugin

import (
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/compensation"
)

// MQ7 is the carbon monoxide sensor, value in ppm.
type MQ7 struct {
	gate
}

var _ Plugin = (*MQ7)(nil)

func NewMQ7(o Options) *MQ7 { return &MQ7{gate: newGate(o.WarmUp)} }

func (*MQ7) Name() string { return "mq7" }

// Ratio computes rs/ro = (Ao * (Am - As)) / (As * (Am - Ao)) where As is the
// current count and Ao the zero-point count.
func (*MQ7) Ratio(raw, calibration uint16) float64 {
	den := float64(raw) * (adcMax - float64(calibration))
	if den > -0.001 && den < 0.001 {
		logrus.WithField("tag", "mq7").Warnf("div by zero, adc=%d", raw)
		return 0
	}
	return float64(calibration) * (adcMax - float64(raw)) / den
}

func (*MQ7) Compensate(ratio float64, env compensation.Sample) (float64, bool) {
	t, okT := env.Temp()
	h, okH := env.Hum()
	if !okT || !okH {
		return ratio, false
	}
	c := humidityDelta(t, h) + temperatureFactor(t)
	if c < 0.5 || c > 2 {
		logrus.WithFields(logrus.Fields{
			"tag":          "mq7",
			"temperature":  t,
			"humidity":     h,
			"ratio":        ratio,
			"compensation": c,
		}).Error("bad compensation")
		return ratio, false
	}
	return ratio / c, true
}

func (*MQ7) Value(ratio float64) float64 {
	return cubic(
		-383449750000.0/14583127.0,
		2845831817500.0/43749381.0,
		-1804037315650.0/43749381.0,
		105049416430.0/14583127.0,
		ratio)
}

func (*MQ7) Defaults() Defaults {
	return Defaults{
		Compensation: compensation.Settings{Temperature: true, Humidity: true, MinT: -10, MaxT: 50},
	}
}
