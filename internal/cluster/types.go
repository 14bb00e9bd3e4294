package cluster

import (
	"time"

	"regionping/internal/metrics"
	"regionping/internal/models"
)

// Node describes a regionping instance.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NodePingResponse describes the payload exposed by /api/node/ping.
type NodePingResponse struct {
	Node        Node                  `json:"node"`
	Result      models.PingResult     `json:"result"`
	State       string                `json:"state,omitempty"`
	Stats       []metrics.RegionStats `json:"stats"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// PeerSnapshot stores last known data for a node.
type PeerSnapshot struct {
	Node      Node                  `json:"node"`
	Result    *models.PingResult    `json:"result,omitempty"`
	State     string                `json:"state,omitempty"`
	Stats     []metrics.RegionStats `json:"stats"`
	UpdatedAt time.Time             `json:"updated_at"`
	Error     string                `json:"error,omitempty"`
	Source    string                `json:"source"`
}

// ClusterSnapshot is returned by /api/cluster.
type ClusterSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Nodes       []PeerSnapshot `json:"nodes"`
}
