package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLowPassFilter(t *testing.T) {
	t.Parallel()

	t.Run("first sample primes", func(t *testing.T) {
		t.Parallel()
		f := NewLowPassFilter(0.5, 0.02)
		assert.False(t, f.Ready())
		assert.Equal(t, 4.2, f.Filter(4.2))
		assert.True(t, f.Ready())
		assert.Equal(t, 4.2, f.Value())
	})

	t.Run("weights follow tau and ts", func(t *testing.T) {
		t.Parallel()
		f := NewLowPassFilter(0.5, 0.02)
		f.Filter(0)
		// tau/ts = 25, a = 1/26
		assert.InDelta(t, 1.0/26.0, f.Filter(1.0), 1e-12)
	})

	t.Run("constant input converges", func(t *testing.T) {
		t.Parallel()
		f := NewLowPassFilter(0.5, 0.02)
		f.Filter(-3)
		var out float64
		for i := 0; i < 1000; i++ {
			out = f.Filter(7.5)
		}
		assert.InDelta(t, 7.5, out, 1e-9)
	})

	t.Run("noise is attenuated", func(t *testing.T) {
		t.Parallel()
		f := NewLowPassFilter(0.5, 0.02)
		f.Filter(10)
		maxDev := 0.0
		for i := 0; i < 500; i++ {
			raw := 10.0 + 1.0
			if i%2 == 0 {
				raw = 10.0 - 1.0
			}
			dev := f.Filter(raw) - 10.0
			if dev < 0 {
				dev = -dev
			}
			if dev > maxDev {
				maxDev = dev
			}
		}
		assert.Less(t, maxDev, 0.1)
	})

	t.Run("reset re-primes", func(t *testing.T) {
		t.Parallel()
		f := NewLowPassFilter(0.5, 0.02)
		f.Filter(1)
		f.Filter(2)
		f.Reset()
		assert.False(t, f.Ready())
		assert.Equal(t, 9.0, f.Filter(9))
	})

	t.Run("instances are independent", func(t *testing.T) {
		t.Parallel()
		a := NewLowPassFilter(0.5, 0.02)
		b := NewLowPassFilter(0.5, 0.02)
		a.Filter(100)
		assert.Equal(t, 1.0, b.Filter(1))
		assert.Equal(t, 100.0, a.Value())
	})
}
