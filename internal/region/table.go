package region

import (
	"errors"
	"fmt"

	"regionping/internal/models"
)

// ErrUnknownRegion is returned when a region has no endpoint mapping.
var ErrUnknownRegion = errors.New("no server matches region")

var endpoints = map[models.Region]string{
	models.RegionNA:   "usr.mathsiscoolfun.com:8001",
	models.RegionEU:   "eur.mathsiscoolfun.com:8001",
	models.RegionAsia: "asr.mathsiscoolfun.com:8001",
	models.RegionSA:   "sa.mathsiscoolfun.com:8001",
}

// Resolve maps a region tag to its probe target.
func Resolve(tag string) (models.ProbeTarget, error) {
	r, ok := models.ParseRegion(tag)
	if !ok {
		return models.ProbeTarget{}, fmt.Errorf("%w: %q", ErrUnknownRegion, tag)
	}
	return models.ProbeTarget{Region: r, Endpoint: endpoints[r]}, nil
}

// Targets returns the full endpoint table in display order.
func Targets() []models.ProbeTarget {
	out := make([]models.ProbeTarget, 0, len(models.Regions))
	for _, r := range models.Regions {
		out = append(out, models.ProbeTarget{Region: r, Endpoint: endpoints[r]})
	}
	return out
}
