package engine

import (
	"errors"
	"fmt"
)

// Status is the outcome of a calibration run. The numeric values are part of
// the command protocol.
type Status int

const (
	// StatusOk means the zero-point was found.
	StatusOk Status = 0
	// StatusPartial means the closest candidate was stored; readings work but
	// are less accurate.
	StatusPartial Status = 1
	// StatusError means the calibration could not be performed.
	StatusError Status = 2
	// StatusNotAllowed means the sensor does not allow sampling right now.
	StatusNotAllowed Status = 3
	// StatusNoCompensationData means only the raw reading was stored because
	// ambient data was missing.
	StatusNoCompensationData Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusError:
		return "error"
	case StatusNotAllowed:
		return "not_allowed"
	case StatusNoCompensationData:
		return "no_compensation_data"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrNoCalibration is returned while the sensor has no zero-point.
	ErrNoCalibration = errors.New("no calibration")
	// ErrBus wraps failures of the raw bus read.
	ErrBus = errors.New("bus read failed")
	// ErrInvalidValue is returned when the conversion model yields NaN or Inf.
	ErrInvalidValue = errors.New("conversion produced an invalid value")
)
