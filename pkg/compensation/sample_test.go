package compensation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitialSample(t *testing.T) {
	s := Settings{Temperature: true, Humidity: false}.Initial()
	assert.Equal(t, NoData, s.Temperature.State)
	assert.Equal(t, Ignored, s.Humidity.State)
	assert.False(t, s.Usable())

	s = Settings{}.Initial()
	assert.True(t, s.Usable())
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name string
		t, h State
		want bool
	}{
		{"both present", Present, Present, true},
		{"humidity ignored", Present, Ignored, true},
		{"temperature missing", NoData, Present, false},
		{"humidity missing", Present, NoData, false},
		{"both ignored", Ignored, Ignored, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sample{Temperature: Value{State: tt.t}, Humidity: Value{State: tt.h}}
			assert.Equal(t, tt.want, s.Usable())
		})
	}
}
