package hydro

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrooglegging(t *testing.T) {
	tests := []struct {
		name   string
		ground float64
		water  float64
		want   float64
	}{
		{"dry", 0.5, -0.6, 1.1},
		{"at surface", -0.2, -0.2, 0},
		{"inundated", -1.0, -0.7, -0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Drooglegging(tt.ground, tt.water)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestDrooglegging_NonFinite(t *testing.T) {
	_, err := Drooglegging(math.NaN(), 0)
	var ipe *InvalidParameterError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "ground_level", ipe.Field)

	_, err = Drooglegging(0, math.Inf(1))
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "water_level", ipe.Field)
}

func TestArea_Drooglegging(t *testing.T) {
	area := Area{CurrentLevel: -1.4}
	_, ok, err := area.Drooglegging()
	require.NoError(t, err)
	assert.False(t, ok)

	area.GroundLevel = ptr(-0.5)
	depth, ok, err := area.Drooglegging()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.9, depth, 1e-12)
}

func TestCancelled_WrapsBoth(t *testing.T) {
	err := Cancelled(7, context.Canceled)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "step 7")
}
