package models

import "time"

// TimelinePoint represents a single compact point in a region timeline.
type TimelinePoint struct {
	ClassName string           `json:"className"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	AvgPingMs int              `json:"avg_ping_ms,omitempty"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for slow or failed buckets.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state,omitempty"`
	PingMs    int       `json:"ping_ms,omitempty"`
}

// RegionTimeline aggregates timeline points for a single region.
type RegionTimeline struct {
	Region   string          `json:"region"`
	Timeline []TimelinePoint `json:"timeline"`
}
