package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
	"github.com/ericogr/airsense-mqtt/pkg/metrics"
	"github.com/ericogr/airsense-mqtt/pkg/plugin"
	"github.com/ericogr/airsense-mqtt/pkg/sensor"
	"github.com/ericogr/airsense-mqtt/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *int, *store.Memory) {
	t.Helper()
	bus := sensor.NewSimulation(map[int]int{3: 2600}, 0)
	st := store.NewMemory()
	e, err := engine.New(engine.Options{
		Identity:           engine.Identity{Name: "light", Channel: 3},
		Plugin:             plugin.NewLight(plugin.Options{}),
		Bus:                bus,
		Store:              st,
		DefaultCalibration: plugin.LightDefaultZero,
	})
	require.NoError(t, err)

	cycles := 0
	m := metrics.New()
	m.Observe("light", 1, 1)
	s := New([]Sensor{{Controller: e, AfterCalibrate: func() { cycles++ }}}, m.Handler())
	return s, &cycles, st
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListAndGetSensors(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/api/sensors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "light", list[0].Name)
	assert.Equal(t, "light", list[0].Plugin)
	assert.Equal(t, uint16(plugin.LightDefaultZero), list[0].State.CalibrationRaw)

	rec = do(s, http.MethodGet, "/api/sensors/light", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/api/sensors/co", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalibrate(t *testing.T) {
	s, cycles, st := newTestServer(t)

	rec := do(s, http.MethodPost, "/api/sensors/light/calibrate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":0,"result":"ok"}`, rec.Body.String())
	assert.Equal(t, 1, *cycles)
	_, ok := st.Load("lightc")
	assert.True(t, ok)
}

func TestSettings(t *testing.T) {
	s, _, st := newTestServer(t)

	rec := do(s, http.MethodPut, "/api/sensors/light/settings", `{"scale":2,"auto":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"zero":0,"scale":2,"auto":true}`, rec.Body.String())
	assert.Equal(t, 2, st.WriteCount())

	rec = do(s, http.MethodPut, "/api/sensors/light/settings", `{"scale":300}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, st.WriteCount())
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `airsense_sensor_value{sensor="light"} 1`)
}
