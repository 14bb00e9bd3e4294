package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"regionping/internal/cluster"
	"regionping/internal/config"
	"regionping/internal/hud"
	"regionping/internal/metrics"
	"regionping/internal/models"
	"regionping/internal/monitor"
	"regionping/internal/ping"
	"regionping/internal/probe"
	"regionping/internal/region"
	"regionping/internal/server"
	"regionping/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", ":8080", "address for the web server")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	prefs, err := storage.NewPreferenceStorage(
		filepath.Join(cfg.DataDirectory, "preferences.json"),
		models.Preferences{PingVisible: cfg.PingVisible, MainRegion: cfg.MainRegion, TeamRegion: cfg.TeamRegion},
	)
	if err != nil {
		log.Fatalf("initialise preferences: %v", err)
	}
	samples, err := storage.NewSampleStorage(filepath.Join(cfg.DataDirectory, "latency_history.json"), cfg.MaxHistory)
	if err != nil {
		log.Fatalf("initialise storage: %v", err)
	}

	saved := prefs.Get()
	page := region.NewPage(region.PageState{
		MainRegion: saved.MainRegion,
		TeamRegion: saved.TeamRegion,
		URL:        cfg.PageURL,
	})
	unsubscribePrefs := page.OnChange(func() {
		state := page.State()
		err := prefs.Update(func(p *models.Preferences) {
			p.MainRegion = state.MainRegion
			p.TeamRegion = state.TeamRegion
		})
		if err != nil {
			log.Printf("save preferences: %v", err)
		}
	})
	defer unsubscribePrefs()

	selector := region.NewSelector(page, nil)
	manager := ping.NewManager(selector, ping.ProberFactory(probe.Options{
		ProbeInterval:    cfg.ProbeInterval(),
		ReconnectBackoff: cfg.ReconnectBackoff(),
		MaxRetries:       cfg.MaxRetries,
		Dialer:           probe.NewWebsocketDialer(cfg.DialTimeout()),
	}), nil)
	manager.Watch()
	defer manager.Close()

	if err := manager.StartPingTest(); err != nil {
		log.Printf("start ping test: %v", err)
	}

	recorder := monitor.NewRecorder(manager, samples, cfg.RecordInterval(), nil)
	recorder.Start()
	defer recorder.Stop()

	counter := hud.NewCounter(manager, os.Stdout, cfg.HUDInterval(), func() bool {
		return prefs.Get().PingVisible
	})
	counter.Start()
	defer counter.Stop()

	node := cluster.Node{ID: cfg.NodeID, Name: cfg.NodeName}
	local := func() cluster.NodePingResponse {
		status := manager.Status()
		return cluster.NodePingResponse{
			Node:        node,
			Result:      status.Result,
			State:       string(status.State),
			Stats:       metrics.ComputeRegionStats(samples.HistoryN(2000)),
			GeneratedAt: time.Now().UTC(),
		}
	}
	clusterSvc := cluster.NewService(local, cfg, nil)
	clusterSvc.Start()
	defer clusterSvc.Stop()

	srv := server.New(*addr, server.Deps{
		Ping:          manager,
		Page:          page,
		History:       samples,
		Preferences:   prefs,
		Cluster:       clusterSvc,
		Local:         local,
		PushInterval:  cfg.PushInterval(),
		PageRateLimit: cfg.PageUpdatesPerSecond,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("regionping listening on %s (region %s)", *addr, selector.SelectedTag())
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
