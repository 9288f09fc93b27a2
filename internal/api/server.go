// Package api exposes the minimal HTTP control surface for inspecting
// and feeding the scheduler: health, queue state, and job submission.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// SchedulerView is the subset of drrsched.Scheduler the API needs.
type SchedulerView interface {
	GlobalLoad() (inflight, cap int)
	ActiveUserCount() int
	ServiceTimes() (mean float64, meanOK bool, p50 float64, p50OK bool, p90 float64, p90OK bool)
}

// JobSubmitter enqueues a list_flights job for a user.
type JobSubmitter interface {
	SubmitListFlights(userID int, startYear, endYear int, scrape bool, weight int) error
}

// Server serves the control surface over net/http.ServeMux.
type Server struct {
	mux       *http.ServeMux
	port      int
	logger    *slog.Logger
	scheduler SchedulerView
	jobs      JobSubmitter
}

// NewServer creates a new API server bound to the given scheduler view
// and job submitter.
func NewServer(port int, scheduler SchedulerView, jobs JobSubmitter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		port:      port,
		logger:    logger.With("component", "api_server"),
		scheduler: scheduler,
		jobs:      jobs,
	}
	s.registerRoutes()
	return s
}

// Start starts the API server in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("api server starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("api server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /queue", s.handleQueue)
	s.mux.HandleFunc("POST /jobs", s.handleCreateJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not initialized"})
		return
	}

	inflight, cap := s.scheduler.GlobalLoad()
	mean, meanOK, p50, p50OK, p90, p90OK := s.scheduler.ServiceTimes()

	serviceTimes := map[string]any{}
	if meanOK {
		serviceTimes["mean"] = mean
	}
	if p50OK {
		serviceTimes["p50"] = p50
	}
	if p90OK {
		serviceTimes["p90"] = p90
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"global_load": map[string]int{
			"inflight": inflight,
			"cap":      cap,
		},
		"service_times":     serviceTimes,
		"active_user_count": s.scheduler.ActiveUserCount(),
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    int  `json:"user_id"`
		StartYear int  `json:"start_year"`
		EndYear   int  `json:"end_year"`
		Scrape    bool `json:"scrape"`
		Weight    int  `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.UserID == 0 {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	if s.jobs == nil {
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "job submission not initialized"})
		return
	}

	weight := body.Weight
	if weight <= 0 {
		weight = 1
	}
	if err := s.jobs.SubmitListFlights(body.UserID, body.StartYear, body.EndYear, body.Scrape, weight); err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
