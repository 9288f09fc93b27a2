package dfsupload

import "context"

// FlightPayload is the minimal shape an Uploader needs from an imported
// flight to push it downstream. The full DFS upload job shape is out of
// scope; this is a contract boundary only.
type FlightPayload struct {
	FlightID     int
	IGCFilename  string
	IGCData      string
	Registration string
	AircraftType string
}

// Uploader pushes an imported flight to the downstream flight-logging
// service. The concrete implementation (auth, request shape, retries)
// lives outside this module's scope — this interface exists so the
// scheduler and the upload gate have something concrete to depend on.
type Uploader interface {
	Upload(ctx context.Context, payload FlightPayload) error
}

// NoopUploader satisfies Uploader without making any network calls. It
// exists so the bridge can be wired and exercised end to end (scheduler,
// gate, status store) before a real DFS client is plugged in.
type NoopUploader struct{}

// Upload implements Uploader.
func (NoopUploader) Upload(ctx context.Context, payload FlightPayload) error {
	return nil
}
