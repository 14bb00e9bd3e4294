package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"regionping/internal/config"
)

const requestTimeout = 10 * time.Second

// LocalSource produces this node's own ping payload.
type LocalSource func() NodePingResponse

// Service aggregates the local estimate with peer snapshots.
type Service struct {
	local   LocalSource
	peers   []config.Peer
	refresh time.Duration
	logger  *log.Logger

	client *http.Client

	mu        sync.RWMutex
	peersData map[string]PeerSnapshot

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService initialises the cluster aggregator for a node.
func NewService(local LocalSource, cfg config.Config, logger *log.Logger) *Service {
	refresh := time.Duration(cfg.PeerRefreshSec) * time.Second
	if refresh < 15*time.Second {
		refresh = 15 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		local:     local,
		peers:     cfg.Peers,
		refresh:   refresh,
		logger:    logger,
		client:    &http.Client{Transport: transport, Timeout: requestTimeout},
		peersData: make(map[string]PeerSnapshot),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches background synchronisation with peers.
func (s *Service) Start() {
	go s.run()
}

// Stop terminates background synchronisation and waits for it to exit.
func (s *Service) Stop() {
	s.cancel()
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	s.FetchAll()

	for {
		select {
		case <-ticker.C:
			s.FetchAll()
		case <-s.ctx.Done():
			return
		}
	}
}

// FetchAll refreshes every enabled peer once.
func (s *Service) FetchAll() {
	for _, peer := range s.peers {
		if !peer.Enabled {
			continue
		}
		if err := s.fetchPeer(peer); err != nil {
			s.logger.Printf("cluster: peer %s: %v", peer.ID, err)
			s.mu.Lock()
			s.peersData[peer.ID] = PeerSnapshot{
				Node:      Node{ID: peer.ID, Name: resolveName(peer.Name, "", peer.ID)},
				UpdatedAt: time.Now().UTC(),
				Error:     err.Error(),
				Source:    "peer",
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) fetchPeer(peer config.Peer) error {
	baseURL := strings.TrimSuffix(peer.BaseURL, "/")
	if baseURL == "" {
		return fmt.Errorf("peer %s has empty base_url", peer.ID)
	}

	resp := NodePingResponse{}
	if err := s.getJSON(baseURL+"/api/node/ping", peer.APIKey, &resp); err != nil {
		return fmt.Errorf("ping fetch failed: %w", err)
	}

	result := resp.Result
	s.mu.Lock()
	s.peersData[peer.ID] = PeerSnapshot{
		Node:      Node{ID: peer.ID, Name: resolveName(peer.Name, resp.Node.Name, peer.ID)},
		Result:    &result,
		State:     resp.State,
		Stats:     resp.Stats,
		UpdatedAt: time.Now().UTC(),
		Source:    "peer",
	}
	s.mu.Unlock()
	return nil
}

// Snapshot gathers local and remote data for API responses.
func (s *Service) Snapshot() ClusterSnapshot {
	local := s.local()
	result := local.Result
	nodes := []PeerSnapshot{{
		Node:      local.Node,
		Result:    &result,
		State:     local.State,
		Stats:     local.Stats,
		UpdatedAt: local.GeneratedAt,
		Source:    "local",
	}}

	s.mu.RLock()
	peers := make([]PeerSnapshot, 0, len(s.peersData))
	for _, snap := range s.peersData {
		peers = append(peers, snap)
	}
	s.mu.RUnlock()
	sort.Slice(peers, func(i, j int) bool { return peers[i].Node.ID < peers[j].Node.ID })

	return ClusterSnapshot{
		GeneratedAt: time.Now().UTC(),
		Nodes:       append(nodes, peers...),
	}
}

func (s *Service) getJSON(url, apiKey string, dest any) error {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func resolveName(configured, remote, fallback string) string {
	if configured != "" {
		return configured
	}
	if remote != "" {
		return remote
	}
	return fallback
}
