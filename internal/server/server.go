package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"regionping/internal/cluster"
	"regionping/internal/history"
	"regionping/internal/metrics"
	"regionping/internal/models"
	"regionping/internal/ping"
	"regionping/internal/region"
)

// PingService is the probing surface exposed over HTTP.
type PingService interface {
	GetPingResult() models.PingResult
	Status() ping.Status
	Restart() error
}

// HistorySource returns recorded samples.
type HistorySource interface {
	HistoryN(n int) []models.LatencySample
}

// PreferenceStore reads and updates persisted user settings.
type PreferenceStore interface {
	Get() models.Preferences
	Update(fn func(*models.Preferences)) error
}

// Deps wires the server to the rest of the service.
type Deps struct {
	Ping          PingService
	Page          *region.Page
	History       HistorySource
	Preferences   PreferenceStore
	Cluster       *cluster.Service
	Local         cluster.LocalSource
	PushInterval  time.Duration
	PageRateLimit float64
}

// Server wraps HTTP serving of the ping API.
type Server struct {
	httpServer   *http.Server
	deps         Deps
	pageLimiter  *rate.Limiter
	historyLimit int
}

// New creates a configured HTTP server.
func New(addr string, deps Deps) *Server {
	if deps.PushInterval <= 0 {
		deps.PushInterval = time.Second
	}
	if deps.PageRateLimit <= 0 {
		deps.PageRateLimit = 2
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux},
		deps:         deps,
		pageLimiter:  rate.NewLimiter(rate.Limit(deps.PageRateLimit), 4),
		historyLimit: 2000,
	}
	s.registerRoutes(mux)
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/ping/restart", s.handleRestart)
	mux.HandleFunc("GET /api/regions", s.handleRegions)
	mux.HandleFunc("GET /api/page", s.handlePage)
	mux.HandleFunc("POST /api/page", s.handlePageUpdate)
	mux.HandleFunc("GET /api/preferences", s.handlePreferences)
	mux.HandleFunc("POST /api/preferences", s.handlePreferencesUpdate)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/timeline", s.handleTimeline)
	mux.HandleFunc("GET /api/node/ping", s.handleNodePing)
	mux.HandleFunc("GET /api/cluster", s.handleCluster)
	mux.HandleFunc("GET /ws/ping", s.handlePingWS)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ping.GetPingResult())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ping.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Ping.Restart(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, region.ErrUnknownRegion) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Ping.Status())
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, region.Targets())
}

func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Page.State())
}

func (s *Server) handlePageUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.pageLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("too many page updates"))
		return
	}

	next := s.deps.Page.State()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, tag := range []string{next.MainRegion, next.TeamRegion} {
		if tag == "" {
			continue
		}
		if _, err := region.Resolve(tag); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.deps.Page.Apply(next)
	writeJSON(w, http.StatusOK, s.deps.Page.State())
}

func (s *Server) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Preferences.Get())
}

func (s *Server) handlePreferencesUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PingVisible *bool `json:"ping_visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.PingVisible != nil {
		err := s.deps.Preferences.Update(func(p *models.Preferences) {
			p.PingVisible = *body.PingVisible
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Preferences.Get())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	writeJSON(w, http.StatusOK, s.deps.History.HistoryN(limit))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	writeJSON(w, http.StatusOK, metrics.ComputeRegionStats(s.deps.History.HistoryN(limit)))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	minutes := parseInt(r, "minutes", 60, 24*60)
	points := parseInt(r, "points", history.DefaultTimelinePoints, 500)
	end := time.Now().UTC()
	start := end.Add(-time.Duration(minutes) * time.Minute)
	samples := s.deps.History.HistoryN(0)
	writeJSON(w, http.StatusOK, history.BuildRegionTimelines(samples, start, end, points))
}

func (s *Server) handleNodePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Local())
}

func (s *Server) handleCluster(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Cluster == nil {
		local := s.deps.Local()
		result := local.Result
		writeJSON(w, http.StatusOK, cluster.ClusterSnapshot{
			GeneratedAt: time.Now().UTC(),
			Nodes: []cluster.PeerSnapshot{{
				Node:      local.Node,
				Result:    &result,
				State:     local.State,
				Stats:     local.Stats,
				UpdatedAt: local.GeneratedAt,
				Source:    "local",
			}},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cluster.Snapshot())
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func parseInt(r *http.Request, key string, fallback, max int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
