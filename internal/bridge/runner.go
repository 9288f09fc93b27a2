// Package bridge wires the scheduler, UCS queries, and DFS uploader
// together into the per-flight import job the original's upload_flight
// coroutine ran: resolve the flight ref, download the IGC, upload it,
// and record status along the way.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/flightimport/ucsbridge/internal/dfsupload"
	"github.com/flightimport/ucsbridge/internal/drrsched"
	"github.com/flightimport/ucsbridge/internal/statusstore"
	"github.com/flightimport/ucsbridge/internal/ucsqueries"
)

// SessionFactory returns the Queries bound to the UCS session for an
// upstream user, creating and caching the session lazily.
type SessionFactory interface {
	QueriesFor(user string) (*ucsqueries.Queries, error)
}

// Runner submits list_flights jobs to the scheduler and, for each flight
// returned, resolves its flight ref, downloads the IGC, and uploads it
// through the gated Uploader, updating the status store throughout.
type Runner struct {
	scheduler *drrsched.Scheduler
	sessions  SessionFactory
	gate      *dfsupload.Gate
	uploader  dfsupload.Uploader
	status    *statusstore.Store
	logger    *slog.Logger
}

// New returns a Runner wired to the given collaborators.
func New(scheduler *drrsched.Scheduler, sessions SessionFactory, gate *dfsupload.Gate, uploader dfsupload.Uploader, status *statusstore.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		scheduler: scheduler,
		sessions:  sessions,
		gate:      gate,
		uploader:  uploader,
		status:    status,
		logger:    logger.With("component", "bridge_runner"),
	}
}

// SubmitListFlights enqueues one DRR work item under userID that lists
// the user's flights and fans out one import job per flight. It
// implements api.JobSubmitter.
func (r *Runner) SubmitListFlights(userID int, startYear, endYear int, scrape bool, weight int) error {
	if r.scheduler == nil {
		return fmt.Errorf("bridge: scheduler not configured")
	}

	userKey := strconv.Itoa(userID)
	handle := r.scheduler.Enqueue(userKey, weight, func(ctx context.Context) error {
		queries, err := r.sessions.QueriesFor(userKey)
		if err != nil {
			return err
		}
		flights, err := queries.ListFlights(ctx, ucsqueries.ListFlightsOptions{
			UserID:    userID,
			StartYear: startYear,
			EndYear:   endYear,
			Scrape:    scrape,
		})
		if err != nil {
			return err
		}

		for i := range flights {
			flightID, _ := flights[i].ID.Int64()
			r.importFlight(ctx, queries, int(flightID), flights[i].Registration, flights[i].Aircraft)
		}
		return nil
	})

	go func() {
		if err := handle.Wait(context.Background()); err != nil {
			r.logger.Error("list_flights job failed", "user", userKey, "error", err)
		}
	}()

	return nil
}

// importFlight mirrors upload_flight's stages: resolve ref, download
// IGC, gate, upload, recording status at each transition.
func (r *Runner) importFlight(ctx context.Context, queries *ucsqueries.Queries, flightID int, registration, aircraft string) {
	r.status.SetStatus(flightID, "processing")

	flightRef, err := queries.ResolveFlightRef(ctx, flightID)
	if err != nil {
		r.status.SetResult(flightID, "olc: "+err.Error())
		return
	}

	r.status.SetStatus(flightID, "downloading igc")
	igc, err := queries.FetchIGC(ctx, flightRef, false)
	if err != nil {
		r.status.SetResult(flightID, "olc: "+err.Error())
		return
	}

	release, err := r.gate.Acquire(ctx)
	if err != nil {
		r.status.SetResult(flightID, "gate: "+err.Error())
		return
	}
	defer release()

	r.status.SetStatus(flightID, "uploading to dfs")
	payload := dfsupload.FlightPayload{
		FlightID:     flightID,
		IGCFilename:  igc.Filename,
		IGCData:      igc.Data,
		Registration: registration,
		AircraftType: aircraft,
	}
	if err := r.uploader.Upload(ctx, payload); err != nil {
		r.status.SetResult(flightID, "dfs: "+err.Error())
		return
	}

	r.status.SetResult(flightID, "done")
}
