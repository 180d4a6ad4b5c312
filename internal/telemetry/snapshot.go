package telemetry

import (
	"encoding/json"
	"time"
)

// Snapshot is one sensor cycle. Temperature and Humidity are nil when the
// climate sensor failed, which is distinct from a zero reading.
type Snapshot struct {
	Temperature *float64
	Humidity    *float64
	Moisture    int
	Light       float64
	Pump        string
	Timestamp   time.Time
}

// reading is the wire form published on the sensor topic.
type reading struct {
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
	Moisture int     `json:"moisture"`
	Light    float64 `json:"light"`
}

// MarshalJSON encodes the wire form; absent climate values become 0.0.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(reading{
		Temp:     valueOrZero(s.Temperature),
		Humidity: valueOrZero(s.Humidity),
		Moisture: s.Moisture,
		Light:    s.Light,
	})
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
