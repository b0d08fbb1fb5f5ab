package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/api"
	"github.com/ericogr/airsense-mqtt/pkg/co2"
	"github.com/ericogr/airsense-mqtt/pkg/command"
	"github.com/ericogr/airsense-mqtt/pkg/compensation"
	"github.com/ericogr/airsense-mqtt/pkg/config"
	"github.com/ericogr/airsense-mqtt/pkg/engine"
	"github.com/ericogr/airsense-mqtt/pkg/metrics"
	"github.com/ericogr/airsense-mqtt/pkg/output"
	"github.com/ericogr/airsense-mqtt/pkg/output/console"
	mqttout "github.com/ericogr/airsense-mqtt/pkg/output/mqtt"
	"github.com/ericogr/airsense-mqtt/pkg/plugin"
	"github.com/ericogr/airsense-mqtt/pkg/sampler"
	"github.com/ericogr/airsense-mqtt/pkg/sensor"
	"github.com/ericogr/airsense-mqtt/pkg/store"
)

// deps lets tests replace the hardware facing parts. Nil fields are built
// from the configuration.
type deps struct {
	bus     sensor.Bus
	store   store.Store
	env     compensation.Environment
	co2     co2.Device
	outputs []output.Output
}

// sensorUnit is one published and remotely controlled sensor: an engine
// backed analog sensor or the CO2 sensor.
type sensorUnit struct {
	name    string
	ctl     api.Controller
	sampler *sampler.Sampler
	handler *command.Handler
}

type app struct {
	cfg     config.Config
	bus     sensor.Bus
	env     compensation.Environment
	outputs output.Multi
	sub     output.Subscriber
	metrics *metrics.Metrics
	feed    *compensation.Feed
	units   []*sensorUnit
	co2     *co2.Sensor
	api     *api.Server
}

func newApp(cfg config.Config, d deps) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.outputs, a.sub, err = initOutputs(cfg, d.outputs)
	if err != nil {
		return nil, err
	}

	a.bus = d.bus
	if a.bus == nil {
		if a.bus, err = sensor.New(cfg); err != nil {
			return nil, fmt.Errorf("open bus: %w", err)
		}
	}

	st := d.store
	if st == nil {
		if st, err = openStore(cfg.Store); err != nil {
			return nil, err
		}
	}

	a.env = d.env
	if a.env == nil {
		if a.env, err = newEnvironment(cfg); err != nil {
			// compensation is optional, sensors run uncompensated
			logrus.WithError(err).Error("environment sensor unavailable, running without compensation")
		}
	}
	if a.env != nil {
		interval := time.Duration(cfg.Compensation.IntervalMs) * time.Millisecond
		a.feed = compensation.NewFeed(a.env, interval, cfg.Compensation.Topic, a.outputs)
		a.metrics.EnvironmentFunc(func() (float64, float64, float64, bool) {
			r, ok := a.feed.Last()
			return r.Temperature, r.Humidity, r.Pressure, ok
		})
	}

	for _, sc := range cfg.Sensors {
		if !sc.IsEnabled() {
			logrus.WithField("sensor", sc.Name).Info("sensor disabled")
			continue
		}
		u, err := a.newSensorUnit(sc, st)
		if err != nil {
			return nil, err
		}
		a.units = append(a.units, u)
	}

	if cfg.CO2.Enabled {
		u, err := a.newCO2Unit(cfg.CO2, st, d.co2)
		if err != nil {
			return nil, err
		}
		a.units = append(a.units, u)
	}

	if cfg.HTTP.Listen != "" {
		sensors := make([]api.Sensor, 0, len(a.units))
		for _, u := range a.units {
			sensors = append(sensors, api.Sensor{Controller: u.ctl, AfterCalibrate: u.sampler.Cycle})
		}
		a.api = api.New(sensors, a.metrics.Handler())
	}

	ok = true
	return a, nil
}

func (a *app) newSensorUnit(sc config.SensorConfig, st store.Store) (*sensorUnit, error) {
	p, err := plugin.New(sc.Plugin, plugin.Options{WarmUp: time.Duration(sc.WarmUpMs) * time.Millisecond})
	if err != nil {
		return nil, err
	}
	auto := false
	if sc.AutoCalibration != nil {
		auto = *sc.AutoCalibration
	}
	log := logrus.WithFields(logrus.Fields{"sensor": sc.Name, "tag": sc.Tag})
	e, err := engine.New(engine.Options{
		Identity: engine.Identity{
			Name:         sc.Name,
			Tag:          sc.Tag,
			Channel:      sc.Channel,
			TopicData:    sc.TopicData,
			TopicCommand: sc.TopicCommand,
			TopicReply:   sc.TopicReply,
		},
		Plugin:             p,
		Bus:                a.bus,
		Store:              st,
		AutoCalibration:    auto,
		DefaultCalibration: sc.DefaultCalibration,
		Logger:             log,
		OnCalibration: func(s engine.Status, fast bool) {
			a.metrics.Calibration(sc.Name, s.String())
			log.WithFields(logrus.Fields{"status": s, "fast": fast}).Info("calibration finished")
		},
	})
	if err != nil {
		return nil, err
	}

	u := &sensorUnit{name: sc.Name, ctl: e}
	interval := time.Duration(sc.IntervalMs) * time.Millisecond
	u.sampler = sampler.New(e, a.outputs, sc.TopicData, interval, a.metrics)
	u.handler = command.New(e, sc.TopicReply, u.sampler.Cycle, a.outputs)
	if err := a.subscribe(u, sc.TopicCommand); err != nil {
		return nil, err
	}
	if a.feed != nil {
		a.feed.Add(e)
	}
	return u, nil
}

// newCO2Unit opens the MH-Z19B unless dev is given.
func (a *app) newCO2Unit(cc config.CO2Config, st store.Store, dev co2.Device) (*sensorUnit, error) {
	if dev == nil {
		m, err := sensor.NewMHZ19B(cc.Port, time.Duration(cc.TimeoutMs)*time.Millisecond, cc.AutoCalibration)
		if err != nil {
			return nil, fmt.Errorf("co2 sensor: %w", err)
		}
		dev = m
	}
	log := logrus.WithFields(logrus.Fields{"sensor": cc.Name, "tag": cc.Name})
	s, err := co2.New(co2.Options{
		Name:            cc.Name,
		Device:          dev,
		Store:           st,
		AutoCalibration: cc.AutoCalibration,
		WarmUp:          time.Duration(cc.WarmUpMs) * time.Millisecond,
		Logger:          log,
		OnCalibration: func(status engine.Status) {
			a.metrics.Calibration(cc.Name, status.String())
			log.WithField("status", status).Info("calibration finished")
		},
	})
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	a.co2 = s

	u := &sensorUnit{name: cc.Name, ctl: s}
	interval := time.Duration(cc.IntervalMs) * time.Millisecond
	u.sampler = sampler.New(s, a.outputs, cc.TopicData, interval, a.metrics)
	u.handler = command.New(s, cc.TopicReply, u.sampler.Cycle, a.outputs)
	if err := a.subscribe(u, cc.TopicCommand); err != nil {
		return nil, err
	}
	return u, nil
}

func (a *app) subscribe(u *sensorUnit, topic string) error {
	if a.sub == nil {
		return nil
	}
	if err := a.sub.Subscribe(topic, u.handler.Handle); err != nil {
		return fmt.Errorf("sensor %q: %w", u.name, err)
	}
	return nil
}

// Run starts the feed, the samplers and the API and blocks until ctx is done.
func (a *app) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.feed.Run(ctx)
		}()
	}
	for _, u := range a.units {
		wg.Add(1)
		go func(u *sensorUnit) {
			defer wg.Done()
			u.sampler.Run(ctx)
		}(u)
	}

	var apiErr error
	if a.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.api.Run(ctx, a.cfg.HTTP.Listen); err != nil {
				apiErr = err
				logrus.WithError(err).Error("http server failed")
				cancel()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logrus.Info("airsense stopped")
	return apiErr
}

func (a *app) Close() {
	if a.outputs != nil {
		if err := a.outputs.Close(); err != nil {
			logrus.WithError(err).Warn("close outputs")
		}
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logrus.WithError(err).Warn("close bus")
		}
	}
	if a.env != nil {
		if err := a.env.Close(); err != nil {
			logrus.WithError(err).Warn("close environment sensor")
		}
	}
	if a.co2 != nil {
		if err := a.co2.Close(); err != nil {
			logrus.WithError(err).Warn("close co2 sensor")
		}
	}
}

// initOutputs builds the configured outputs. The MQTT output, if any, is
// also returned as the command subscriber.
func initOutputs(cfg config.Config, given []output.Output) (output.Multi, output.Subscriber, error) {
	if given != nil {
		var sub output.Subscriber
		for _, o := range given {
			if s, ok := o.(output.Subscriber); ok {
				sub = s
			}
		}
		return output.Multi(given), sub, nil
	}

	var (
		outs output.Multi
		sub  output.Subscriber
	)
	for _, oc := range cfg.Outputs {
		switch oc.Type {
		case "console":
			outs = append(outs, console.NewConsole())
		case "mqtt":
			m, err := mqttout.NewMQTT(cfg.MQTT)
			if err != nil {
				_ = outs.Close()
				return nil, nil, err
			}
			outs = append(outs, m)
			sub = m
		default:
			_ = outs.Close()
			return nil, nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
	}
	return outs, sub, nil
}

func openStore(sc config.StoreConfig) (store.Store, error) {
	if sc.Path == "" {
		logrus.Warn("no store path, calibration is kept in memory only")
		return store.NewMemory(), nil
	}
	return store.NewFile(sc.Path)
}

// newEnvironment returns nil without error when compensation is disabled.
func newEnvironment(cfg config.Config) (compensation.Environment, error) {
	c := cfg.Compensation
	switch c.Type {
	case "bme280":
		b, err := compensation.NewBME280(cfg.I2C.Bus, uint16(c.Address))
		if err != nil {
			return nil, err
		}
		return b, nil
	case "simulation":
		return compensation.NewSimulated(c.Temperature, c.Humidity, 0), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown compensation type %q", c.Type)
	}
}
