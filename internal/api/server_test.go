package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeScheduler struct {
	inflight, cap int
	activeUsers   int
	mean          float64
	meanOK        bool
}

func (f *fakeScheduler) GlobalLoad() (int, int)     { return f.inflight, f.cap }
func (f *fakeScheduler) ActiveUserCount() int       { return f.activeUsers }
func (f *fakeScheduler) ServiceTimes() (float64, bool, float64, bool, float64, bool) {
	return f.mean, f.meanOK, 0, false, 0, false
}

type fakeJobs struct {
	lastUserID int
	err        error
}

func (f *fakeJobs) SubmitListFlights(userID int, startYear, endYear int, scrape bool, weight int) error {
	f.lastUserID = userID
	return f.err
}

func TestHealthzReturnsOK(t *testing.T) {
	s := NewServer(0, nil, nil, nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestQueueReportsSchedulerState(t *testing.T) {
	sched := &fakeScheduler{inflight: 3, cap: 8, activeUsers: 2, mean: 1.5, meanOK: true}
	s := NewServer(0, sched, nil, nil)

	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		GlobalLoad struct {
			Inflight int `json:"inflight"`
			Cap      int `json:"cap"`
		} `json:"global_load"`
		ActiveUserCount int `json:"active_user_count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.GlobalLoad.Inflight != 3 || body.GlobalLoad.Cap != 8 || body.ActiveUserCount != 2 {
		t.Fatalf("unexpected queue body: %+v", body)
	}
}

func TestQueueWithoutSchedulerReturns503(t *testing.T) {
	s := NewServer(0, nil, nil, nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCreateJobSubmitsAndReturns202(t *testing.T) {
	jobs := &fakeJobs{}
	s := NewServer(0, nil, jobs, nil)

	body := strings.NewReader(`{"user_id": 42, "start_year": 2020}`)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if jobs.lastUserID != 42 {
		t.Fatalf("expected job submitted for user 42, got %d", jobs.lastUserID)
	}
}

func TestCreateJobRejectsMissingUserID(t *testing.T) {
	s := NewServer(0, nil, &fakeJobs{}, nil)

	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateJobSurfacesSubmitterError(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("scheduler full")}
	s := NewServer(0, nil, jobs, nil)

	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"user_id": 1}`)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
