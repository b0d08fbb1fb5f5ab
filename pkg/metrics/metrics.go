package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the process on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	value        *prometheus.GaugeVec
	raw          *prometheus.GaugeVec
	readErrors   *prometheus.CounterVec
	calibrations *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		value: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airsense",
			Name:      "sensor_value",
			Help:      "Last published sensor value",
		}, []string{"sensor"}),
		raw: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airsense",
			Name:      "sensor_raw_value",
			Help:      "Last sensor value before rounding and clamping",
		}, []string{"sensor"}),
		readErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airsense",
			Name:      "read_errors_total",
			Help:      "Failed sample cycles",
		}, []string{"sensor"}),
		calibrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airsense",
			Name:      "calibrations_total",
			Help:      "Calibration runs by result",
		}, []string{"sensor", "status"}),
	}
}

// Observe records a successful sample.
func (m *Metrics) Observe(sensor string, value, raw float64) {
	m.value.WithLabelValues(sensor).Set(value)
	m.raw.WithLabelValues(sensor).Set(raw)
}

func (m *Metrics) ReadError(sensor string) {
	m.readErrors.WithLabelValues(sensor).Inc()
}

func (m *Metrics) Calibration(sensor, status string) {
	m.calibrations.WithLabelValues(sensor, status).Inc()
}

// EnvironmentFunc exports the ambient readings through f, which reports
// false while no reading is available.
func (m *Metrics) EnvironmentFunc(f func() (temperature, humidity, pressure float64, ok bool)) {
	fac := promauto.With(m.reg)
	pick := func(i int) func() float64 {
		return func() float64 {
			t, h, p, ok := f()
			if !ok {
				return 0
			}
			return [...]float64{t, h, p}[i]
		}
	}
	fac.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "airsense",
		Name:      "environment_temperature_celsius",
		Help:      "Ambient temperature used for compensation",
	}, pick(0))
	fac.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "airsense",
		Name:      "environment_humidity_percent",
		Help:      "Ambient relative humidity used for compensation",
	}, pick(1))
	fac.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "airsense",
		Name:      "environment_pressure_hpa",
		Help:      "Ambient pressure",
	}, pick(2))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
