package bridge

import (
	"encoding/json"
	"fmt"
	"math"
)

// Commands understood on the command topic.
const (
	CommandCapture = "capture"
	CommandWater   = "water"
	CommandChirp   = "chirp"
)

// Command is an inbound control message.
type Command struct {
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Ack is published on <ack prefix>/<command> for every command.
type Ack struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SettingsUpdate carries interval name to seconds.
type SettingsUpdate struct {
	Settings  map[string]interface{} `json:"settings"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

func parseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command JSON: %w", err)
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("command field is missing")
	}
	return cmd, nil
}

// parseSettings returns the numeric settings and the keys that were
// dropped for not being finite numbers.
func parseSettings(payload []byte) (map[string]float64, []string, error) {
	var upd SettingsUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return nil, nil, fmt.Errorf("invalid settings JSON: %w", err)
	}
	if upd.Settings == nil {
		return nil, nil, fmt.Errorf("settings field is missing")
	}

	values := make(map[string]float64, len(upd.Settings))
	var dropped []string
	for k, v := range upd.Settings {
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			dropped = append(dropped, k)
			continue
		}
		values[k] = f
	}
	return values, dropped, nil
}
