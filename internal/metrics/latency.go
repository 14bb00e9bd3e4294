package metrics

import (
	"math"
	"sort"
	"time"

	"regionping/internal/models"
)

// RegionStats summarises latency readings recorded for one region.
type RegionStats struct {
	Region       string  `json:"region"`
	TotalSamples int     `json:"total_samples"`
	Reachable    int     `json:"reachable"`
	Failing      int     `json:"failing"`
	Availability float64 `json:"availability_percent"`
	MinPingMs    int     `json:"min_ping_ms,omitempty"`
	AvgPingMs    float64 `json:"avg_ping_ms,omitempty"`
	MaxPingMs    int     `json:"max_ping_ms,omitempty"`
	LastPingMs   int     `json:"last_ping_ms,omitempty"`
	LastUpdated  string  `json:"last_updated,omitempty"`
}

// ComputeRegionStats aggregates latency statistics per region. Samples with
// an unknown ping count as failing and are excluded from the averages.
func ComputeRegionStats(samples []models.LatencySample) []RegionStats {
	type acc struct {
		reachable int
		failing   int
		sum       int
		min       int
		max       int
		last      int
		lastTime  time.Time
	}
	state := make(map[string]*acc)
	for _, sample := range samples {
		if sample.Region == "" {
			continue
		}
		region := state[sample.Region]
		if region == nil {
			region = &acc{}
			state[sample.Region] = region
		}
		if sample.OK && sample.PingMs > 0 {
			region.reachable++
			region.sum += sample.PingMs
			if region.min == 0 || sample.PingMs < region.min {
				region.min = sample.PingMs
			}
			if sample.PingMs > region.max {
				region.max = sample.PingMs
			}
		} else {
			region.failing++
		}
		if !sample.CheckedAt.Before(region.lastTime) {
			region.lastTime = sample.CheckedAt
			region.last = sample.PingMs
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]RegionStats, 0, len(keys))
	for _, region := range keys {
		data := state[region]
		total := data.reachable + data.failing
		availability := 0.0
		if total > 0 {
			availability = float64(data.reachable) / float64(total) * 100
		}

		result := RegionStats{
			Region:       region,
			TotalSamples: total,
			Reachable:    data.reachable,
			Failing:      data.failing,
			Availability: round2(availability),
			MinPingMs:    data.min,
			MaxPingMs:    data.max,
			LastPingMs:   data.last,
		}
		if data.reachable > 0 {
			result.AvgPingMs = round2(float64(data.sum) / float64(data.reachable))
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
