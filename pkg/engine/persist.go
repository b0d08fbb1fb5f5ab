package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/store"
)

// Key suffixes appended to the sensor tag.
const (
	suffixCalibration = 'c'
	suffixZero        = 'z'
	suffixScale       = 's'
	suffixAuto        = 'a'
)

// persister maps calibration fields onto independent store keys. Writes are
// fire-and-forget: failures are logged and memory is never rolled back.
type persister struct {
	st  store.Store
	tag string
	log *logrus.Entry
}

func (p persister) key(suffix byte) string { return p.tag + string(suffix) }

// loadU16 decodes a big-endian value. 4 byte buffers from older layouts are
// accepted and their first two bytes used.
func (p persister) loadU16(suffix byte) (uint16, bool) {
	if p.st == nil {
		return 0, false
	}
	b, ok := p.st.Load(p.key(suffix))
	if !ok {
		return 0, false
	}
	if len(b) != 2 && len(b) != 4 {
		p.log.Errorf("bad stored buffer size %d for key %s", len(b), p.key(suffix))
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}

func (p persister) loadU8(suffix byte) (uint8, bool) {
	if p.st == nil {
		return 0, false
	}
	b, ok := p.st.Load(p.key(suffix))
	if !ok || len(b) == 0 {
		return 0, false
	}
	return b[len(b)-1], true
}

func (p persister) loadBool(suffix byte) (bool, bool) {
	v, ok := p.loadU8(suffix)
	return v != 0, ok
}

func (p persister) write(suffix byte, b []byte) {
	if p.st == nil {
		return
	}
	if err := p.st.Store(p.key(suffix), b); err != nil {
		p.log.WithError(err).WithField("key", p.key(suffix)).Error("cant write calibration store")
	}
}

func (p persister) storeU16(suffix byte, v uint16) {
	p.write(suffix, []byte{byte(v >> 8), byte(v)})
}

func (p persister) storeU8(suffix byte, v uint8) {
	p.write(suffix, []byte{v})
}

func (p persister) storeBool(suffix byte, v bool) {
	var b uint8
	if v {
		b = 1
	}
	p.storeU8(suffix, b)
}
