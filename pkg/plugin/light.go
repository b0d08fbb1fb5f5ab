package plugin

import "github.com/ericogr/airsense-mqtt/pkg/compensation"

// LightDefaultZero is the photo divider count in darkness.
const LightDefaultZero = 2500

// Light maps the photo divider count between the dark zero-point and full
// scale onto 0..100%.
type Light struct {
	gate
}

var _ Plugin = (*Light)(nil)

func NewLight(o Options) *Light { return &Light{gate: newGate(o.WarmUp)} }

func (*Light) Name() string { return "light" }

func (*Light) Ratio(raw, calibration uint16) float64 {
	if raw <= calibration || float64(calibration) >= adcMax {
		return 0
	}
	return (float64(raw) - float64(calibration)) / (adcMax - float64(calibration))
}

func (*Light) Compensate(ratio float64, _ compensation.Sample) (float64, bool) {
	return ratio, false
}

func (*Light) Value(ratio float64) float64 { return ratio * 100 }

func (*Light) Defaults() Defaults { return Defaults{} }
