package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestYawController(t *testing.T) {
	t.Parallel()

	const (
		wheelBase  = 2.8498
		steerRatio = 14.8
	)
	y := NewYawController(wheelBase, steerRatio, 0.1, 3.0, 8.0)

	tests := []struct {
		name                     string
		linear, angular, current float64
		want                     float64
	}{
		{"straight", 10, 0, 10, 0},
		{"zero linear", 0, 0.5, 10, 0},
		{"standstill", 5, 0.5, 0, 0},
		{"gentle curve", 10, 0.1, 10, math.Atan(wheelBase/100.0) * steerRatio},
		{"rescaled to current speed", 10, 0.1, 5, math.Atan(wheelBase/100.0) * steerRatio},
		{"lateral accel limit", 10, 1.0, 10, math.Atan(wheelBase/(10.0/0.3)) * steerRatio},
		{"right turn", 10, -0.1, 10, -math.Atan(wheelBase/100.0) * steerRatio},
		{"max steer clamp", 1, 0.5, 0.05, 8.0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := y.SteeringAngle(tt.linear, tt.angular, tt.current)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	t.Run("bounded at tiny speed", func(t *testing.T) {
		t.Parallel()
		for _, v := range []float64{1e-9, 1e-6, 0.01, 0.099} {
			got := y.SteeringAngle(2, 1, v)
			assert.False(t, math.IsNaN(got))
			assert.LessOrEqual(t, math.Abs(got), 8.0)
		}
	})
}
