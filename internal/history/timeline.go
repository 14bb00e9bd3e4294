package history

import (
	"sort"
	"time"

	"regionping/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots we generate per region.
	DefaultTimelinePoints = 80
	// SlowPingMs marks readings above it as degraded.
	SlowPingMs         = 150
	maxDetailsPerPoint = 4
)

// BuildRegionTimelines splits samples by region and reduces each series into
// compact timeline points. Regions are ordered by name.
func BuildRegionTimelines(samples []models.LatencySample, start, end time.Time, points int) []models.RegionTimeline {
	byRegion := make(map[string][]models.LatencySample)
	for _, s := range samples {
		if s.Region == "" {
			continue
		}
		byRegion[s.Region] = append(byRegion[s.Region], s)
	}
	if len(byRegion) == 0 {
		return nil
	}

	regions := make([]string, 0, len(byRegion))
	for r := range byRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	result := make([]models.RegionTimeline, 0, len(regions))
	for _, r := range regions {
		result = append(result, models.RegionTimeline{
			Region:   r,
			Timeline: BuildLatencyTimeline(byRegion[r], start, end, points),
		})
	}
	return result
}

// BuildLatencyTimeline buckets samples of a single region between start and end.
func BuildLatencyTimeline(samples []models.LatencySample, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	sorted := make([]models.LatencySample, 0, len(samples))
	for _, s := range samples {
		if s.CheckedAt.IsZero() {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CheckedAt.Before(sorted[j].CheckedAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}

	output := make([]models.TimelinePoint, 0, points)
	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		bucket, next := collectBucketSamples(sorted, bucketStart, bucketEnd, cursor)
		cursor = next

		point := evaluateBucket(bucket)
		point.Start = bucketStart
		point.End = bucketEnd
		output = append(output, point)
	}
	return output
}

func collectBucketSamples(samples []models.LatencySample, start, end time.Time, cursor int) ([]models.LatencySample, int) {
	total := len(samples)
	if total == 0 || cursor >= total {
		return nil, cursor
	}

	i := cursor
	for i < total && samples[i].CheckedAt.Before(start) {
		i++
	}
	j := i
	for j < total && samples[j].CheckedAt.Before(end) {
		j++
	}
	if i >= j {
		return nil, j
	}
	return samples[i:j], j
}

func evaluateBucket(entries []models.LatencySample) models.TimelinePoint {
	if len(entries) == 0 {
		return models.TimelinePoint{ClassName: "state-missing", Label: "No data"}
	}

	var (
		hasError bool
		hasSlow  bool
		sum      int
		count    int
		details  []models.TimelineDetail
	)
	for _, entry := range entries {
		switch {
		case !entry.OK || entry.PingMs <= 0:
			hasError = true
			details = appendDetail(details, entry)
		case entry.PingMs > SlowPingMs:
			hasSlow = true
			sum += entry.PingMs
			count++
			details = appendDetail(details, entry)
		default:
			sum += entry.PingMs
			count++
		}
	}

	point := models.TimelinePoint{}
	if count > 0 {
		point.AvgPingMs = sum / count
	}
	switch {
	case hasError:
		point.ClassName, point.Label = "state-error", "Unreachable"
		point.Details = details
	case hasSlow:
		point.ClassName, point.Label = "state-warning", "Slow"
		point.Details = details
	default:
		point.ClassName, point.Label = "state-success", "Operational"
	}
	return point
}

func appendDetail(details []models.TimelineDetail, entry models.LatencySample) []models.TimelineDetail {
	if len(details) >= maxDetailsPerPoint {
		return details
	}
	return append(details, models.TimelineDetail{
		Timestamp: entry.CheckedAt,
		State:     entry.State,
		PingMs:    entry.PingMs,
	})
}
