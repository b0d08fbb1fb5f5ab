package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
	"github.com/ericogr/airsense-mqtt/pkg/plugin"
	"github.com/ericogr/airsense-mqtt/pkg/store"
)

type recorder struct {
	topics   []string
	payloads []string
}

func (r *recorder) Publish(topic string, payload []byte) error {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, string(payload))
	return nil
}

type fakeCalibrator struct {
	status      engine.Status
	calibrated  int
	lastSetting engine.Settings
	current     engine.Current
}

func (f *fakeCalibrator) Name() string { return "co" }

func (f *fakeCalibrator) Recalibrate() engine.Status {
	f.calibrated++
	return f.status
}

func (f *fakeCalibrator) ApplySettings(s engine.Settings) engine.Current {
	f.lastSetting = s
	return f.current
}

type bus struct{ raw uint16 }

func (b bus) ReadRaw(int) (uint16, error) { return b.raw, nil }

func TestCalibrateRepliesAndSamples(t *testing.T) {
	cal := &fakeCalibrator{status: engine.StatusPartial}
	rec := &recorder{}
	cycles := 0
	h := New(cal, "co/reply", func() { cycles++ }, rec)

	h.Handle([]byte(`{"type":"calibrate"}`))

	assert.Equal(t, 1, cal.calibrated)
	assert.Equal(t, 1, cycles)
	require.Len(t, rec.payloads, 1)
	assert.Equal(t, "co/reply", rec.topics[0])
	assert.JSONEq(t, `{"status":1}`, rec.payloads[0])
}

func TestCalibrateIgnoresSettingsFields(t *testing.T) {
	cal := &fakeCalibrator{status: engine.StatusOk}
	rec := &recorder{}
	New(cal, "co/reply", nil, rec).Handle([]byte(`{"type":"calibrate","zero":"x","scale":-4}`))

	assert.Equal(t, 1, cal.calibrated)
	require.Len(t, rec.payloads, 1)
	assert.JSONEq(t, `{"status":0}`, rec.payloads[0])
}

func TestSettingsPassesOnlyProvidedFields(t *testing.T) {
	cal := &fakeCalibrator{current: engine.Current{Zero: 5, Scale: 1, Auto: true}}
	rec := &recorder{}
	h := New(cal, "co/reply", nil, rec)

	h.Handle([]byte(`{"type":"settings","zero":5}`))

	require.NotNil(t, cal.lastSetting.Zero)
	assert.Equal(t, uint16(5), *cal.lastSetting.Zero)
	assert.Nil(t, cal.lastSetting.Scale)
	assert.Nil(t, cal.lastSetting.Auto)
	require.Len(t, rec.payloads, 1)
	assert.JSONEq(t, `{"zero":5,"scale":1,"auto":true}`, rec.payloads[0])
}

func TestIgnoredMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `calibrate`},
		{"unknown type", `{"type":"reboot"}`},
		{"missing type", `{"zero":1}`},
		{"zero overflow", `{"type":"settings","zero":70000}`},
		{"negative scale", `{"type":"settings","scale":-1}`},
		{"auto not bool", `{"type":"settings","auto":"yes"}`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := &fakeCalibrator{}
			rec := &recorder{}
			New(cal, "co/reply", nil, rec).Handle([]byte(tt.payload))
			assert.Zero(t, cal.calibrated)
			assert.Equal(t, engine.Settings{}, cal.lastSetting)
			assert.Empty(t, rec.payloads)
		})
	}
}

func TestSettingsIdempotentAgainstEngine(t *testing.T) {
	st := store.NewMemory()
	e, err := engine.New(engine.Options{
		Identity:           engine.Identity{Name: "light", Channel: 3},
		Plugin:             plugin.NewLight(plugin.Options{}),
		Bus:                bus{raw: 3000},
		Store:              st,
		DefaultCalibration: plugin.LightDefaultZero,
	})
	require.NoError(t, err)

	rec := &recorder{}
	h := New(e, "light/reply", nil, rec)
	h.Handle([]byte(`{"type":"settings","zero":5}`))
	h.Handle([]byte(`{"type":"settings","zero":5}`))

	assert.Equal(t, 1, st.WriteCount())
	require.Len(t, rec.payloads, 2)
	assert.Equal(t, rec.payloads[0], rec.payloads[1])
	assert.JSONEq(t, `{"zero":5,"scale":1,"auto":false}`, rec.payloads[1])
}

func TestCalibrateAgainstEngine(t *testing.T) {
	st := store.NewMemory()
	e, err := engine.New(engine.Options{
		Identity: engine.Identity{Name: "light", Channel: 3},
		Plugin:   plugin.NewLight(plugin.Options{}),
		Bus:      bus{raw: 2600},
		Store:    st,
	})
	require.NoError(t, err)

	rec := &recorder{}
	New(e, "light/reply", nil, rec).Handle([]byte(`{"type":"calibrate"}`))

	require.Len(t, rec.payloads, 1)
	assert.JSONEq(t, `{"status":0}`, rec.payloads[0])
	assert.True(t, e.Snapshot().Calibrated)
	b, ok := st.Load("lightc")
	require.True(t, ok)
	assert.Len(t, b, 2)
}
