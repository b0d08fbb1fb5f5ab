package compensation

import "fmt"

// State tells whether a compensation quantity can be used.
type State int

const (
	// NoData means the quantity is wanted but no plausible reading is available yet.
	NoData State = iota
	// Ignored means compensation for the quantity is disabled for this sensor type.
	Ignored
	// Present means Value holds a real reading.
	Present
)

func (s State) String() string {
	switch s {
	case NoData:
		return "nodata"
	case Ignored:
		return "ignored"
	case Present:
		return "present"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Value is one compensation quantity (°C for temperature, %RH for humidity).
type Value struct {
	State State `json:"state"`
	Value int   `json:"value"`
}

// Sample is the last known ambient condition as seen by one sensor.
type Sample struct {
	Temperature Value `json:"temperature"`
	Humidity    Value `json:"humidity"`
}

// Settings describes which quantities a sensor type compensates for and
// the temperature range the compensation model is valid in.
type Settings struct {
	Temperature bool `json:"temperature" yaml:"temperature"`
	Humidity    bool `json:"humidity" yaml:"humidity"`
	MinT        int  `json:"min_t" yaml:"min_t"`
	MaxT        int  `json:"max_t" yaml:"max_t"`
}

// Initial returns the sample a sensor starts with before the first feed
// update: disabled quantities are Ignored, enabled ones have NoData.
func (s Settings) Initial() Sample {
	out := Sample{}
	if !s.Temperature {
		out.Temperature.State = Ignored
	}
	if !s.Humidity {
		out.Humidity.State = Ignored
	}
	return out
}

// Usable reports whether compensation may run. Ignored quantities never
// block; a missing enabled quantity does.
func (s Sample) Usable() bool {
	return s.Temperature.State != NoData && s.Humidity.State != NoData
}

// Temp returns the temperature and whether it is a real reading.
func (s Sample) Temp() (float64, bool) {
	return float64(s.Temperature.Value), s.Temperature.State == Present
}

// Hum returns the humidity and whether it is a real reading.
func (s Sample) Hum() (float64, bool) {
	return float64(s.Humidity.Value), s.Humidity.State == Present
}
