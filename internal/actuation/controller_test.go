package actuation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantguard/edge/internal/logger"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		moisture int
		want     State
	}{
		{0, On},
		{19999, On},
		{20000, Off},
		{20001, Off},
		{65535, Off},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.moisture), "moisture %d", tt.moisture)
	}
}

func TestThreshold_Decide(t *testing.T) {
	th := Threshold(500)
	assert.Equal(t, On, th.Decide(499))
	assert.Equal(t, Off, th.Decide(500))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "on", On.String())
	assert.Equal(t, "off", Off.String())
}

func TestController_Apply(t *testing.T) {
	pump := &MemoryPump{}
	c := NewController(pump, 0, nil)
	assert.Equal(t, DefaultMoistureThreshold, c.Threshold())

	state, err := c.Apply(10000)
	require.NoError(t, err)
	assert.Equal(t, On, state)
	assert.Equal(t, On, pump.State())
	assert.Equal(t, On, c.State())

	state, err = c.Apply(30000)
	require.NoError(t, err)
	assert.Equal(t, Off, state)
	assert.Equal(t, Off, pump.State())

	assert.Equal(t, []State{On, Off}, pump.Writes())
}

func TestController_WritesEveryCycle(t *testing.T) {
	pump := &MemoryPump{}
	c := NewController(pump, 20000, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Apply(100)
		require.NoError(t, err)
	}
	assert.Equal(t, []State{On, On, On}, pump.Writes())
}

func TestController_OnChangeFiresOnTransitionsOnly(t *testing.T) {
	pump := &MemoryPump{}
	log, logs := logger.NewObserved(-1)
	c := NewController(pump, 20000, log)

	var transitions [][2]State
	c.OnChange(func(prev, next State, _ int) {
		transitions = append(transitions, [2]State{prev, next})
	})

	for _, m := range []int{30000, 30000, 100, 100, 25000} {
		_, err := c.Apply(m)
		require.NoError(t, err)
	}

	assert.Equal(t, [][2]State{{Off, Off}, {Off, On}, {On, Off}}, transitions)
	assert.Equal(t, 3, logs.FilterMessage("Pump state changed").Len())
}

func TestController_WriteFailureKeepsState(t *testing.T) {
	pump := &MemoryPump{}
	c := NewController(pump, 20000, nil)

	_, err := c.Apply(100)
	require.NoError(t, err)

	relay := errors.New("relay fault")
	pump.Fail(relay)
	_, err = c.Apply(30000)
	assert.ErrorIs(t, err, relay)
	assert.Equal(t, On, c.State())

	pump.Fail(nil)
	require.NoError(t, c.Off())
	assert.Equal(t, Off, c.State())
	assert.Equal(t, Off, pump.State())
}
