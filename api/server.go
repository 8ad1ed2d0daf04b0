// Package api serves read-only JSON views of a running simulator.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/chris-hoertnagl/deep-rl/episode"
	"github.com/chris-hoertnagl/deep-rl/protocol"
)

// Controller is the part of episode.Controller the handlers read.
type Controller interface {
	Stats() episode.Stats
	Current() episode.Report
}

// Sources wires optional counters into /api/stats. Nil fields are skipped.
type Sources struct {
	Counts     func() (published, failed uint64)
	HubClients func() int
	Recordings func() []string
}

type StatsResponse struct {
	EpisodeID       string   `json:"episode_id"`
	Episode         int      `json:"episode"`
	HighScore       int      `json:"high_score"`
	Score           int      `json:"score"`
	Steps           int      `json:"steps"`
	Status          string   `json:"status"`
	Published       *uint64  `json:"published,omitempty"`
	PublishFailures *uint64  `json:"publish_failures,omitempty"`
	HubClients      *int     `json:"hub_clients,omitempty"`
	Recordings      []string `json:"recordings,omitempty"`
}

// Server holds shared state for HTTP handlers.
type Server struct {
	ctrl Controller
	src  Sources
}

func NewServer(ctrl Controller, src Sources) *Server {
	return &Server{ctrl: ctrl, src: src}
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/state", s.handleState)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	st := s.ctrl.Stats()
	resp := StatsResponse{
		EpisodeID: st.EpisodeID,
		Episode:   st.Episode,
		HighScore: st.HighScore,
		Score:     st.Score,
		Steps:     st.Steps,
		Status:    st.Status.String(),
	}
	if s.src.Counts != nil {
		published, failed := s.src.Counts()
		resp.Published = &published
		resp.PublishFailures = &failed
	}
	if s.src.HubClients != nil {
		n := s.src.HubClients()
		resp.HubClients = &n
	}
	if s.src.Recordings != nil {
		resp.Recordings = s.src.Recordings()
	}
	writeJSON(w, resp)
}

// handleState returns what would be published on the state topic right now.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, protocol.NewStatePayload(s.ctrl.Current()))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
