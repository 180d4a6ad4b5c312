package sensors

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/plantguard/edge/internal/actuation"
)

// Simulated is a soil/climate model for running without hardware. The
// soil dries slowly and is watered while the pump is on.
type Simulated struct {
	mu       sync.Mutex
	rng      *rand.Rand
	moisture float64
	pump     actuation.State
	now      func() time.Time
}

// NewSimulated seeds the simulator; zero seeds from the clock.
func NewSimulated(seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		rng:      rand.New(rand.NewSource(seed)),
		moisture: 24000,
		now:      time.Now,
	}
}

// ReadMoisture advances the model by one step and returns the reading.
func (s *Simulated) ReadMoisture(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pump == actuation.On {
		s.moisture += 1500
	} else {
		s.moisture -= 250
	}
	s.moisture += s.rng.NormFloat64() * 50
	s.moisture = min(max(s.moisture, 5000), 45000)
	return int(s.moisture), nil
}

// ReadClimate returns room conditions with a little noise.
func (s *Simulated) ReadClimate(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return 22 + s.rng.NormFloat64()*0.5, 55 + s.rng.NormFloat64()*2, nil
}

// ReadLight reports daylight between 06:00 and 20:00 local time.
func (s *Simulated) ReadLight(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h := s.now().Hour(); h >= 6 && h < 20 {
		return 1, nil
	}
	return 0, nil
}

// Set records the pump state, which drives the soil model.
func (s *Simulated) Set(state actuation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pump = state
	return nil
}
