package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReleasePullUp(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want bool
	}{
		{"active-high relay", Line{Pin: 17, Output: true}, false},
		{"active-low relay", Line{Pin: 17, Output: true, ActiveLow: true}, true},
		{"float switch", Line{Pin: 5}, false},
		{"active-low float switch", Line{Pin: 5, ActiveLow: true, PullUp: true}, true},
		{"reset button", Line{Pin: 21, ActiveLow: true, PullUp: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, releasePullUp(tt.line))
		})
	}
}

func TestCheckDuplicates(t *testing.T) {
	assert.NoError(t, checkDuplicates([]Line{{Pin: 5}, {Pin: 6}}))
	assert.EqualError(t, checkDuplicates([]Line{{Pin: 5}, {Pin: 5, Output: true}}), "pin 5 requested twice")
}
