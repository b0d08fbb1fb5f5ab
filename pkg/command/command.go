// Package command implements the remote command protocol of a sensor:
// JSON messages received on the command topic, replies on the reply topic.
package command

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
)

const (
	TypeCalibrate = "calibrate"
	TypeSettings  = "settings"
)

// Calibrator is the part of the engine the handler drives.
type Calibrator interface {
	Name() string
	Recalibrate() engine.Status
	ApplySettings(engine.Settings) engine.Current
}

// Publisher sends replies.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Request is the incoming message. Only Type is decoded for calibrate; for
// settings a field that does not fit its type makes the whole message invalid.
type Request struct {
	Type  string  `json:"type"`
	Zero  *uint16 `json:"zero,omitempty"`
	Scale *uint8  `json:"scale,omitempty"`
	Auto  *bool   `json:"auto,omitempty"`
}

// CalibrateReply answers a calibrate command.
type CalibrateReply struct {
	Status engine.Status `json:"status"`
}

// SettingsReply echoes the full settings after a settings command.
type SettingsReply = engine.Current

type Handler struct {
	cal        Calibrator
	pubs       []Publisher
	replyTopic string
	// afterCalibrate runs one sample and publish cycle.
	afterCalibrate func()
	log            *logrus.Entry
}

// New returns a handler replying on replyTopic through every publisher.
// afterCalibrate may be nil.
func New(cal Calibrator, replyTopic string, afterCalibrate func(), pubs ...Publisher) *Handler {
	return &Handler{
		cal:            cal,
		pubs:           pubs,
		replyTopic:     replyTopic,
		afterCalibrate: afterCalibrate,
		log:            logrus.WithFields(logrus.Fields{"sensor": cal.Name(), "component": "command"}),
	}
}

// Handle processes one raw message. Invalid JSON and unknown types are
// dropped without a reply.
func (h *Handler) Handle(payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		h.log.WithError(err).Debug("ignoring malformed command")
		return
	}

	switch head.Type {
	case TypeCalibrate:
		h.log.Info("calibration requested")
		st := h.cal.Recalibrate()
		h.reply(CalibrateReply{Status: st})
		if h.afterCalibrate != nil {
			h.afterCalibrate()
		}
	case TypeSettings:
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			h.log.WithError(err).Debug("ignoring malformed settings")
			return
		}
		cur := h.cal.ApplySettings(engine.Settings{Zero: req.Zero, Scale: req.Scale, Auto: req.Auto})
		h.reply(cur)
	default:
		h.log.WithField("type", head.Type).Debug("ignoring unknown command")
	}
}

func (h *Handler) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Error("cant encode reply")
		return
	}
	for _, p := range h.pubs {
		if err := p.Publish(h.replyTopic, b); err != nil {
			h.log.WithError(err).Error("cant publish reply")
		}
	}
}
