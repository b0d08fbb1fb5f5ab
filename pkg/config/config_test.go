package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]int
		ok   bool
	}{
		{"", map[string]int{}, true},
		{"co=30000,o2=10000", map[string]int{"co": 30000, "o2": 10000}, true},
		{" co = 5 , h2s = 7", map[string]int{"co": 5, "h2s": 7}, true},
		{"bad", nil, false},
		{"co=x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntOrHex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"72", 72, true},
		{"0x48", 72, true},
		{"0X76", 118, true},
		{"zz", 0, false},
	}
	for _, tt := range tests {
		got, err := parseIntOrHex(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseIntOrHex(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("parseIntOrHex(%q) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoadJSONFile(t *testing.T) {
	js := `{
        "i2c": { "bus": "1", "address": 72 },
        "bus": { "type": "simulation", "sample_rate": 250, "simulation": {"values": {"0": 1200}} },
        "outputs": [{"type":"console"}],
        "sensors": [
            {"name": "co", "plugin": "mq7", "channel": 0, "auto_calibration": true},
            {"name": "o2", "plugin": "o2a2", "channel": 2, "interval_ms": 10000, "tag": "o2a2"}
        ]
    }`
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(&Flags{ConfigPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.I2C.Address != 72 || cfg.I2C.Bus != "1" {
		t.Fatalf("i2c: got %+v", cfg.I2C)
	}
	if cfg.Bus.SampleRate != 250 || cfg.Bus.Simulation.Values[0] != 1200 {
		t.Fatalf("bus: got %+v", cfg.Bus)
	}
	if len(cfg.Sensors) != 2 {
		t.Fatalf("sensors len: %d", len(cfg.Sensors))
	}
	co := cfg.Sensors[0]
	if co.Tag != "co" || co.TopicData != "co" || co.TopicCommand != "co/cmd" || co.TopicReply != "co/reply" {
		t.Fatalf("co derived fields: %+v", co)
	}
	if co.IntervalMs != DefaultIntervalMs || co.AutoCalibration == nil || !*co.AutoCalibration {
		t.Fatalf("co incorrect: %+v", co)
	}
	if cfg.Sensors[1].IntervalMs != 10000 || cfg.Sensors[1].Tag != "o2a2" {
		t.Fatalf("o2 incorrect: %+v", cfg.Sensors[1])
	}
}

func TestLoadYAMLFile(t *testing.T) {
	y := `
bus:
  type: serial
  sample_rate: 128
  serial:
    port: /dev/ttyUSB0
compensation:
  type: simulation
  temperature: 21
  humidity: 40
sensors:
  - name: h2s
    plugin: mq136
    channel: 1
`
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(y), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(&Flags{ConfigPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Type != "serial" || cfg.Bus.Serial.Port != "/dev/ttyUSB0" {
		t.Fatalf("bus: %+v", cfg.Bus)
	}
	if cfg.Compensation.Type != "simulation" || cfg.Compensation.Temperature != 21 {
		t.Fatalf("compensation: %+v", cfg.Compensation)
	}
	if cfg.Compensation.IntervalMs != DefaultCompensationIntervalMs {
		t.Fatalf("compensation interval: %d", cfg.Compensation.IntervalMs)
	}
	if len(cfg.Sensors) != 1 || cfg.Sensors[0].Plugin != "mq136" {
		t.Fatalf("sensors: %+v", cfg.Sensors)
	}
}

func TestFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs)
	err := fs.Parse([]string{
		"--i2c-address", "0x49",
		"--outputs", "console, MQTT",
		"--topic-prefix", "lab/",
		"--intervals", "co=1000",
		"--bus-type", "simulation",
		"--co2-port", "/dev/ttyUSB1",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.I2C.Address != 0x49 {
		t.Fatalf("address: %d", cfg.I2C.Address)
	}
	if !cfg.HasOutput("mqtt") || !cfg.HasOutput("console") {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.MQTT.TopicPrefix != "lab/" {
		t.Fatalf("prefix: %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Sensors[0].IntervalMs != 1000 || cfg.Sensors[1].IntervalMs != DefaultIntervalMs {
		t.Fatalf("intervals: %+v", cfg.Sensors)
	}
	if !cfg.CO2.Enabled || cfg.CO2.Port != "/dev/ttyUSB1" || cfg.CO2.TopicCommand != "co2/cmd" {
		t.Fatalf("co2: %+v", cfg.CO2)
	}
	// flags that were not set keep defaults
	if cfg.I2C.Bus != "2" {
		t.Fatalf("i2c bus: %q", cfg.I2C.Bus)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad sample rate", func(c *Config) { c.Bus.SampleRate = 0 }, false},
		{"bad bus", func(c *Config) { c.Bus.Type = "usb" }, false},
		{"bad output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "kafka"}} }, false},
		{"unknown plugin", func(c *Config) { c.Sensors[0].Plugin = "mq2" }, false},
		{"duplicate name", func(c *Config) { c.Sensors[1].Name = c.Sensors[0].Name }, false},
		{"bad compensation", func(c *Config) { c.Compensation.Type = "dht22" }, false},
		{"co2 enabled", func(c *Config) { c.CO2.Enabled = true }, true},
		{"co2 name clash", func(c *Config) { c.CO2.Enabled = true; c.CO2.Name = "co" }, false},
		{"co2 without port", func(c *Config) { c.CO2.Enabled = true; c.CO2.Port = "" }, false},
		{"co2 name clash while disabled", func(c *Config) { c.CO2.Name = "co" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			cfg.applyDefaults()
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate ok=%v err=%v", tt.ok, err)
			}
		})
	}
}
