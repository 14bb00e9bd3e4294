package models

import "strings"

// Region names a server cluster a client can connect to.
type Region string

const (
	RegionNA   Region = "NA"
	RegionEU   Region = "EU"
	RegionAsia Region = "Asia"
	RegionSA   Region = "SA"
)

// Regions lists every supported region in display order.
var Regions = []Region{RegionNA, RegionEU, RegionAsia, RegionSA}

// ParseRegion matches tag against the supported regions ignoring case.
func ParseRegion(tag string) (Region, bool) {
	tag = strings.TrimSpace(tag)
	for _, r := range Regions {
		if strings.EqualFold(string(r), tag) {
			return r, true
		}
	}
	return "", false
}

// ProbeTarget is the endpoint probed for a region.
type ProbeTarget struct {
	Region   Region `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// URL returns the websocket address of the latency echo service.
func (t ProbeTarget) URL() string {
	return "wss://" + t.Endpoint + "/ptc"
}
