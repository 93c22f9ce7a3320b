// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package statsapi serves the three HTTP endpoints of SPEC_FULL.md §4.5
// (/health, /stats, /stats/{queue_id}) plus an additive Prometheus /metrics
// surface, both reading from the supervisor's per-queue stats slots.
package statsapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentryline.dev/ipsentry/internal/worker"
)

// StatsProvider is the subset of *supervisor.Supervisor this package reads
// from. Declaring it here rather than importing internal/supervisor keeps
// the stats endpoint ignorant of how queues are run.
type StatsProvider interface {
	Stats() []worker.Stats
	StatsForQueue(queueID int) (worker.Stats, bool)
}

// Server serves the stats HTTP surface over a StatsProvider.
type Server struct {
	router    *mux.Router
	provider  StatsProvider
	startTime time.Time
	registry  *prometheus.Registry
}

// NewServer builds a Server with every route registered and its Prometheus
// collector wired to provider.
func NewServer(provider StatsProvider) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		provider:  provider,
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}
	s.registry.MustRegister(newCollector(provider))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/stats/{queue_id}", s.handleStatsForQueue).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return s
}

// Handler returns the http.Handler to mount on an *http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) uptime() float64 {
	return time.Since(s.startTime).Seconds()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": s.uptime(),
	})
}

// aggregateStats is the §4.5 /stats response: per-metric sums across every
// queue plus a per-queue breakdown keyed "queue_<id>", matching the shape
// the Python metrics server produced.
type aggregateStats struct {
	PacketsProcessed uint64                   `json:"packets_processed"`
	MatchesFound     uint64                   `json:"matches_found"`
	PacketsDropped   uint64                   `json:"packets_dropped"`
	PacketsAccepted  uint64                   `json:"packets_accepted"`
	ActiveFlows      int                      `json:"active_flows"`
	TotalBufferSize  int                      `json:"total_buffer_size"`
	PendingAlerts    int                      `json:"pending_alerts"`
	Uptime           float64                  `json:"uptime"`
	Workers          map[string]worker.Stats  `json:"workers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	all := s.provider.Stats()

	agg := aggregateStats{Uptime: s.uptime(), Workers: make(map[string]worker.Stats, len(all))}
	for _, st := range all {
		agg.PacketsProcessed += st.PacketsProcessed
		agg.MatchesFound += st.MatchesFound
		agg.PacketsDropped += st.PacketsDropped
		agg.PacketsAccepted += st.PacketsAccepted
		agg.ActiveFlows += st.ActiveFlows
		agg.TotalBufferSize += st.TotalBufferSize
		agg.PendingAlerts += st.PendingAlerts
		agg.Workers[fmt.Sprintf("queue_%d", st.QueueID)] = st
	}

	respondWithJSON(w, http.StatusOK, agg)
}

type queueStatsResponse struct {
	worker.Stats
	Uptime float64 `json:"uptime"`
}

func (s *Server) handleStatsForQueue(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["queue_id"]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid queue id")
		return
	}

	st, ok := s.provider.StatsForQueue(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "worker not found")
		return
	}

	respondWithJSON(w, http.StatusOK, queueStatsResponse{Stats: st, Uptime: s.uptime()})
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
