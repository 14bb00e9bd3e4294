package models

import (
	"encoding/json"
	"time"
)

// MaxLatencyMs is the upper clamp applied to every latency reading.
const MaxLatencyMs = 999

// PingResult is the latest latency estimate for the selected region.
// Ping is 0 when no reading is available.
type PingResult struct {
	Region string `json:"region"`
	Ping   int    `json:"ping"`
}

// Known reports whether Ping holds a real reading.
func (r PingResult) Known() bool {
	return r.Ping > 0
}

// MarshalJSON renders an unknown ping as null.
func (r PingResult) MarshalJSON() ([]byte, error) {
	payload := struct {
		Region string `json:"region"`
		Ping   *int   `json:"ping"`
	}{Region: r.Region}
	if r.Known() {
		ping := r.Ping
		payload.Ping = &ping
	}
	return json.Marshal(payload)
}

// UnmarshalJSON accepts null for an unknown ping.
func (r *PingResult) UnmarshalJSON(data []byte) error {
	var payload struct {
		Region string `json:"region"`
		Ping   *int   `json:"ping"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	r.Region = payload.Region
	r.Ping = 0
	if payload.Ping != nil {
		r.Ping = *payload.Ping
	}
	return nil
}

// LatencySample captures the estimate at a moment in time.
type LatencySample struct {
	Region    string    `json:"region"`
	PingMs    int       `json:"ping_ms"`
	OK        bool      `json:"ok"`
	State     string    `json:"state,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Preferences are the user settings persisted between runs.
type Preferences struct {
	PingVisible bool   `json:"ping_visible"`
	MainRegion  string `json:"main_region,omitempty"`
	TeamRegion  string `json:"team_region,omitempty"`
}
