package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ericogr/airsense-mqtt/pkg/plugin"
)

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type SerialConfig struct {
	Port      string `json:"port" yaml:"port"`
	BaudRate  int    `json:"baud_rate" yaml:"baud_rate"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type SimulationConfig struct {
	// Values is the base count per channel.
	Values map[int]int `json:"values" yaml:"values"`
	// Jitter is the maximum random deviation added to each read.
	Jitter int `json:"jitter" yaml:"jitter"`
}

// BusConfig selects the ADC the raw counts come from.
type BusConfig struct {
	Type           string           `json:"type" yaml:"type"` // real|serial|simulation
	SampleRate     int              `json:"sample_rate" yaml:"sample_rate"`
	ResolutionBits int              `json:"resolution_bits" yaml:"resolution_bits"`
	Serial         SerialConfig     `json:"serial" yaml:"serial"`
	Simulation     SimulationConfig `json:"simulation" yaml:"simulation"`
}

type MQTTConfig struct {
	Server      string `json:"server" yaml:"server"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

type OutputConfig struct {
	Type string `json:"type" yaml:"type"` // console|mqtt
}

type SensorConfig struct {
	Name    string `json:"name" yaml:"name"`
	Plugin  string `json:"plugin" yaml:"plugin"`
	Channel int    `json:"channel" yaml:"channel"`
	// Tag prefixes the store keys and log lines; defaults to Name.
	Tag          string `json:"tag,omitempty" yaml:"tag,omitempty"`
	TopicData    string `json:"topic_data,omitempty" yaml:"topic_data,omitempty"`
	TopicCommand string `json:"topic_command,omitempty" yaml:"topic_command,omitempty"`
	TopicReply   string `json:"topic_reply,omitempty" yaml:"topic_reply,omitempty"`
	IntervalMs   int    `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	WarmUpMs     int    `json:"warm_up_ms,omitempty" yaml:"warm_up_ms,omitempty"`
	// AutoCalibration is the initial drift correction flag until one is persisted.
	AutoCalibration *bool `json:"auto_calibration,omitempty" yaml:"auto_calibration,omitempty"`
	// DefaultCalibration seeds the zero-point when nothing is persisted (0 = none).
	DefaultCalibration uint16 `json:"default_calibration,omitempty" yaml:"default_calibration,omitempty"`
	Enabled            *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled defaults to true.
func (s SensorConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type CompensationConfig struct {
	Type       string `json:"type" yaml:"type"` // bme280|simulation|none
	IntervalMs int    `json:"interval_ms" yaml:"interval_ms"`
	Address    int    `json:"address" yaml:"address"`
	// Topic, when set, receives every environment reading.
	Topic       string  `json:"topic,omitempty" yaml:"topic,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Humidity    float64 `json:"humidity,omitempty" yaml:"humidity,omitempty"`
}

// CO2Config is the optional MH-Z19B on its own UART.
type CO2Config struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Name            string `json:"name" yaml:"name"`
	Port            string `json:"port" yaml:"port"`
	TimeoutMs       int    `json:"timeout_ms" yaml:"timeout_ms"`
	IntervalMs      int    `json:"interval_ms" yaml:"interval_ms"`
	WarmUpMs        int    `json:"warm_up_ms" yaml:"warm_up_ms"`
	AutoCalibration bool   `json:"auto_calibration" yaml:"auto_calibration"`
	TopicData       string `json:"topic_data,omitempty" yaml:"topic_data,omitempty"`
	TopicCommand    string `json:"topic_command,omitempty" yaml:"topic_command,omitempty"`
	TopicReply      string `json:"topic_reply,omitempty" yaml:"topic_reply,omitempty"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type HTTPConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type Config struct {
	I2C          I2CConfig          `json:"i2c" yaml:"i2c"`
	Bus          BusConfig          `json:"bus" yaml:"bus"`
	MQTT         MQTTConfig         `json:"mqtt" yaml:"mqtt"`
	Outputs      []OutputConfig     `json:"outputs" yaml:"outputs"`
	Sensors      []SensorConfig     `json:"sensors" yaml:"sensors"`
	Compensation CompensationConfig `json:"compensation" yaml:"compensation"`
	CO2          CO2Config          `json:"co2" yaml:"co2"`
	Store        StoreConfig        `json:"store" yaml:"store"`
	HTTP         HTTPConfig         `json:"http" yaml:"http"`
	LogLevel     string             `json:"log_level" yaml:"log_level"`
}

const (
	DefaultIntervalMs             = 30000
	DefaultCompensationIntervalMs = 60000
	DefaultCO2IntervalMs          = 10000
	// DefaultCO2WarmUpMs is the MH-Z19B preheat time.
	DefaultCO2WarmUpMs            = 180000
)

func DefaultConfig() Config {
	return Config{
		I2C: I2CConfig{Bus: "2", Address: 0x48},
		Bus: BusConfig{
			Type:           "real",
			SampleRate:     128,
			ResolutionBits: 12,
			Serial:         SerialConfig{Port: "/dev/ttyACM0", BaudRate: 115200, TimeoutMs: 500},
		},
		MQTT: MQTTConfig{
			Server:      "tcp://localhost:1883",
			ClientID:    "airsense",
			TopicPrefix: "airsense/",
		},
		Outputs: []OutputConfig{{Type: "console"}},
		Sensors: []SensorConfig{
			{Name: "co", Plugin: "mq7", Channel: 0},
			{Name: "h2s", Plugin: "mq136", Channel: 1},
			{Name: "o2", Plugin: "o2a2", Channel: 2},
			{Name: "light", Plugin: "light", Channel: 3, DefaultCalibration: plugin.LightDefaultZero},
		},
		Compensation: CompensationConfig{Type: "bme280", IntervalMs: DefaultCompensationIntervalMs, Address: 0x76},
		CO2: CO2Config{
			Name:       "co2",
			Port:       "/dev/ttyS2",
			TimeoutMs:  1000,
			IntervalMs: DefaultCO2IntervalMs,
			WarmUpMs:   DefaultCO2WarmUpMs,
		},
		Store:        StoreConfig{Path: "/var/lib/airsense/calibration.json"},
		LogLevel:     "info",
	}
}

// Flags holds command line overrides. Only flags that were set on the
// command line are applied.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath      string
	LogLevel        string
	I2CBus          string
	I2CAddress      string
	BusType         string
	SampleRate      int
	SerialPort      string
	Outputs         string
	MQTTServer      string
	MQTTUser        string
	MQTTPass        string
	MQTTClientID    string
	TopicPrefix     string
	StorePath       string
	HTTPListen      string
	Compensation    string
	CompensationInt int
	SensorIntervals string
	CO2Port         string
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to JSON or YAML config file")
	fs.StringVarP(&f.LogLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&f.I2CBus, "i2c-bus", "", "I2C bus (e.g., '2' -> /dev/i2c-2)")
	fs.StringVar(&f.I2CAddress, "i2c-address", "", "ADS1115 I2C address (decimal or 0x hex)")
	fs.StringVar(&f.BusType, "bus-type", "", "ADC bus: real|serial|simulation")
	fs.IntVar(&f.SampleRate, "sample-rate", 0, "ADS1115 sample rate (SPS)")
	fs.StringVar(&f.SerialPort, "serial-port", "", "Serial ADC bridge port")
	fs.StringVar(&f.Outputs, "outputs", "", "Comma-separated outputs (console,mqtt)")
	fs.StringVar(&f.MQTTServer, "mqtt-server", "", "MQTT server (tcp://host:port)")
	fs.StringVar(&f.MQTTUser, "mqtt-user", "", "MQTT username")
	fs.StringVar(&f.MQTTPass, "mqtt-pass", "", "MQTT password")
	fs.StringVar(&f.MQTTClientID, "mqtt-client-id", "", "MQTT client id")
	fs.StringVar(&f.TopicPrefix, "topic-prefix", "", "Prefix prepended to every MQTT topic")
	fs.StringVar(&f.StorePath, "store", "", "Calibration store file")
	fs.StringVar(&f.HTTPListen, "http-listen", "", "HTTP API listen address, e.g. :9120 (empty disables)")
	fs.StringVar(&f.Compensation, "compensation", "", "Compensation source: bme280|simulation|none")
	fs.IntVar(&f.CompensationInt, "compensation-interval-ms", 0, "Compensation poll interval in ms")
	fs.StringVar(&f.SensorIntervals, "intervals", "", "Per sensor publish interval e.g. co=30000,o2=10000")
	fs.StringVar(&f.CO2Port, "co2-port", "", "MH-Z19B serial port, enables the CO2 sensor")
	return f
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

// Load builds the configuration: defaults, then the config file (if any),
// then the flags that were set.
func Load(f *Flags) (Config, error) {
	cfg := DefaultConfig()
	if f == nil {
		f = &Flags{}
	}

	if f.ConfigPath != "" {
		if err := LoadFile(f.ConfigPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if f.changed("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if f.changed("i2c-bus") {
		cfg.I2C.Bus = f.I2CBus
	}
	if f.changed("i2c-address") {
		v, err := parseIntOrHex(f.I2CAddress)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if f.changed("bus-type") {
		cfg.Bus.Type = f.BusType
	}
	if f.changed("sample-rate") {
		cfg.Bus.SampleRate = f.SampleRate
	}
	if f.changed("serial-port") {
		cfg.Bus.Serial.Port = f.SerialPort
	}
	if f.changed("outputs") {
		parts := parseCSV(f.Outputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if f.changed("mqtt-server") {
		cfg.MQTT.Server = f.MQTTServer
	}
	if f.changed("mqtt-user") {
		cfg.MQTT.Username = f.MQTTUser
	}
	if f.changed("mqtt-pass") {
		cfg.MQTT.Password = f.MQTTPass
	}
	if f.changed("mqtt-client-id") {
		cfg.MQTT.ClientID = f.MQTTClientID
	}
	if f.changed("topic-prefix") {
		cfg.MQTT.TopicPrefix = f.TopicPrefix
	}
	if f.changed("store") {
		cfg.Store.Path = f.StorePath
	}
	if f.changed("http-listen") {
		cfg.HTTP.Listen = f.HTTPListen
	}
	if f.changed("compensation") {
		cfg.Compensation.Type = f.Compensation
	}
	if f.changed("compensation-interval-ms") {
		cfg.Compensation.IntervalMs = f.CompensationInt
	}
	if f.changed("intervals") {
		m, err := parseKeyIntMap(f.SensorIntervals)
		if err != nil {
			return cfg, fmt.Errorf("intervals: %w", err)
		}
		for i := range cfg.Sensors {
			if v, ok := m[cfg.Sensors[i].Name]; ok {
				cfg.Sensors[i].IntervalMs = v
			}
		}
	}

	if f.changed("co2-port") {
		cfg.CO2.Port = f.CO2Port
		cfg.CO2.Enabled = f.CO2Port != ""
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile decodes a JSON or YAML (by extension) file over cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "read config %s", path)
	}
	// Lists from the file replace the defaults instead of being decoded over them.
	sensors, outputs := cfg.Sensors, cfg.Outputs
	cfg.Sensors, cfg.Outputs = nil, nil
	defer func() {
		if cfg.Sensors == nil {
			cfg.Sensors = sensors
		}
		if cfg.Outputs == nil {
			cfg.Outputs = outputs
		}
	}()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return pkgerrors.Wrapf(err, "parse config %s", path)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return pkgerrors.Wrapf(err, "parse config %s", path)
		}
	}
	return nil
}

// applyDefaults fills per sensor fields derived from the sensor name.
func (c *Config) applyDefaults() {
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if s.Tag == "" {
			s.Tag = s.Name
		}
		if s.TopicData == "" {
			s.TopicData = s.Name
		}
		if s.TopicCommand == "" {
			s.TopicCommand = s.Name + "/cmd"
		}
		if s.TopicReply == "" {
			s.TopicReply = s.Name + "/reply"
		}
		if s.IntervalMs == 0 {
			s.IntervalMs = DefaultIntervalMs
		}
	}
	if c.Compensation.IntervalMs == 0 {
		c.Compensation.IntervalMs = DefaultCompensationIntervalMs
	}
	co2 := &c.CO2
	if co2.Name == "" {
		co2.Name = "co2"
	}
	if co2.TopicData == "" {
		co2.TopicData = co2.Name
	}
	if co2.TopicCommand == "" {
		co2.TopicCommand = co2.Name + "/cmd"
	}
	if co2.TopicReply == "" {
		co2.TopicReply = co2.Name + "/reply"
	}
	if co2.IntervalMs == 0 {
		co2.IntervalMs = DefaultCO2IntervalMs
	}
	if c.Bus.ResolutionBits == 0 {
		c.Bus.ResolutionBits = 12
	}
}

func (c *Config) Validate() error {
	if c.Bus.SampleRate <= 0 {
		return errors.New("sample-rate must be > 0")
	}
	if c.Bus.ResolutionBits < 1 || c.Bus.ResolutionBits > 16 {
		return fmt.Errorf("resolution_bits must be between 1 and 16, got %d", c.Bus.ResolutionBits)
	}
	switch c.Bus.Type {
	case "real", "serial", "simulation":
	default:
		return fmt.Errorf("unknown bus type %q", c.Bus.Type)
	}
	switch c.Compensation.Type {
	case "bme280", "simulation", "none", "":
	default:
		return fmt.Errorf("unknown compensation type %q", c.Compensation.Type)
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case "console", "mqtt":
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	known := map[string]bool{}
	for _, n := range plugin.Names() {
		known[n] = true
	}
	seen := map[string]bool{}
	for _, s := range c.Sensors {
		if s.Name == "" {
			return errors.New("sensor name must not be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate sensor name %q", s.Name)
		}
		seen[s.Name] = true
		if !known[strings.ToLower(s.Plugin)] {
			return fmt.Errorf("sensor %q: unknown plugin %q", s.Name, s.Plugin)
		}
		if s.IntervalMs < 0 {
			return fmt.Errorf("sensor %q: interval_ms must be >= 0", s.Name)
		}
	}
	if c.CO2.Enabled {
		if seen[c.CO2.Name] {
			return fmt.Errorf("co2 sensor name %q is already used", c.CO2.Name)
		}
		if c.CO2.Port == "" {
			return errors.New("co2 port must not be empty")
		}
	}
	return nil
}

// HasOutput reports whether an output of the given type is configured.
func (c *Config) HasOutput(t string) bool {
	for _, o := range c.Outputs {
		if o.Type == t {
			return true
		}
	}
	return false
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry %q, want name=value", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
