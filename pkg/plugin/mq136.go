package plugin

import (
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/compensation"
)

const (
	// mq136Supply is the heater/load supply voltage; the ADC reference is 3.3V.
	mq136Supply = 5.0
	mq136VRef   = 3.3
)

// MQ136 is the hydrogen sulfide sensor, value in ppm.
type MQ136 struct {
	gate
}

var _ Plugin = (*MQ136)(nil)

func NewMQ136(o Options) *MQ136 { return &MQ136{gate: newGate(o.WarmUp)} }

func (*MQ136) Name() string { return "mq136" }

// Ratio computes rs/ro = (Ao / As) * (V*Am - As*3.3) / (V*Am - Ao*3.3).
func (*MQ136) Ratio(raw, calibration uint16) float64 {
	as, ao := float64(raw), float64(calibration)
	den := as * (mq136Supply*adcMax - ao*mq136VRef)
	if den > -0.001 && den < 0.001 {
		logrus.WithField("tag", "mq136").Warnf("div by zero, adc=%d calibration=%d", raw, calibration)
		return 0
	}
	return ao * (mq136Supply*adcMax - as*mq136VRef) / den
}

// Compensate shifts the ratio to 65%RH and 20°C.
func (*MQ136) Compensate(ratio float64, env compensation.Sample) (float64, bool) {
	t, okT := env.Temp()
	h, okH := env.Hum()
	if !okT || !okH {
		return ratio, false
	}
	hum := humidityDelta(t, h)
	temp := temperatureFactor(20) - temperatureFactor(t)
	logrus.WithFields(logrus.Fields{
		"tag":         "mq136",
		"temperature": t,
		"humidity":    h,
		"humDelta":    hum,
		"tempDelta":   temp,
	}).Trace("apply compensation")
	return ratio + hum + temp, true
}

func (*MQ136) Value(ratio float64) float64 {
	return cubic(-8000.0/7.0, 26200.0/7.0, -29040.0/7.0, 11120.0/7.0, ratio)
}

func (*MQ136) Defaults() Defaults {
	return Defaults{
		Compensation: compensation.Settings{Temperature: true, Humidity: true, MinT: -9, MaxT: 69},
	}
}
