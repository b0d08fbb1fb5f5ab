package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
)

// Controller is what the API needs from a sensor engine.
type Controller interface {
	Name() string
	Snapshot() engine.Snapshot
	Recalibrate() engine.Status
	ApplySettings(engine.Settings) engine.Current
}

// Sensor is one controllable sensor. AfterCalibrate, when set, runs a sample
// cycle so fresh data is published after a calibration.
type Sensor struct {
	Controller     Controller
	AfterCalibrate func()
}

type Server struct {
	sensors map[string]Sensor
	metrics http.Handler
	router  *gin.Engine
}

// New builds the router. metrics may be nil.
func New(sensors []Sensor, metrics http.Handler) *Server {
	s := &Server{sensors: map[string]Sensor{}, metrics: metrics}
	for _, sn := range sensors {
		s.sensors[sn.Controller.Name()] = sn
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	api := router.Group("/api")
	api.GET("/sensors", s.listSensors)
	api.GET("/sensors/:name", s.getSensor)
	api.POST("/sensors/:name/calibrate", s.calibrate)
	api.PUT("/sensors/:name/settings", s.setSettings)

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	return router
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on listen until ctx is done.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) lookup(c *gin.Context) (Sensor, bool) {
	name := c.Param("name")
	sn, ok := s.sensors[name]
	if !ok {
		err := fmt.Errorf("unknown sensor %q", name)
		c.IndentedJSON(http.StatusNotFound, err.Error())
		_ = c.AbortWithError(http.StatusNotFound, err)
	}
	return sn, ok
}

func (s *Server) listSensors(c *gin.Context) {
	names := make([]string, 0, len(s.sensors))
	for n := range s.sensors {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]engine.Snapshot, 0, len(names))
	for _, n := range names {
		out = append(out, s.sensors[n].Controller.Snapshot())
	}
	c.IndentedJSON(http.StatusOK, out)
}

func (s *Server) getSensor(c *gin.Context) {
	sn, ok := s.lookup(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, sn.Controller.Snapshot())
}

type calibrateResponse struct {
	Status engine.Status `json:"status"`
	Result string        `json:"result"`
}

func (s *Server) calibrate(c *gin.Context) {
	sn, ok := s.lookup(c)
	if !ok {
		return
	}
	st := sn.Controller.Recalibrate()
	logrus.WithFields(logrus.Fields{"sensor": sn.Controller.Name(), "status": st}).Info("calibration requested over http")
	if sn.AfterCalibrate != nil {
		sn.AfterCalibrate()
	}
	c.IndentedJSON(http.StatusOK, calibrateResponse{Status: st, Result: st.String()})
}

func (s *Server) setSettings(c *gin.Context) {
	sn, ok := s.lookup(c)
	if !ok {
		return
	}
	var req engine.Settings
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, sn.Controller.ApplySettings(req))
}
