package ucsqueries

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/flightimport/ucsbridge/internal/cache"
	"github.com/flightimport/ucsbridge/internal/gliders"
	"github.com/flightimport/ucsbridge/internal/telemetry"
	"github.com/flightimport/ucsbridge/internal/ucs"
	"github.com/flightimport/ucsbridge/internal/ucserr"
)

// Queries bundles the UCS session, result cache, and flight limit needed
// to run the list_flights/resolve_flight_ref/fetch_igc/scrape_flight
// operations for one user.
type Queries struct {
	Session    *ucs.Session
	Cache      cache.ResultCache
	FlightsMax int
}

// ListFlightsOptions mirrors fetch_flights's parameters.
type ListFlightsOptions struct {
	UserID    int
	StartYear int
	EndYear   int // 0 means "current year"
	Scrape    bool
}

// yearResult carries one year's fetched flights (or its error) back from
// the per-year fan-out.
type yearResult struct {
	year    int
	flights []Flight
	err     error
}

// ListFlights fetches every flight for a user across the requested year
// range, fans the per-year POSTs out concurrently, stops early once more
// than FlightsMax flights have accumulated, enriches each flight (closest
// glider match, formatted date, rounded distance/speed, co-pilot name),
// optionally scrapes each flight's info page, and returns the flights
// sorted by integer id.
func (q *Queries) ListFlights(ctx context.Context, opts ListFlightsOptions) ([]Flight, error) {
	ctx, span := telemetry.StartSpan(ctx, "ucsqueries.list_flights")
	defer span.End()

	key, bypass, err := cache.BuildKey("list_flights", []any{opts.UserID}, map[string]string{
		"start_year": strconv.Itoa(opts.StartYear),
		"end_year":   strconv.Itoa(opts.EndYear),
		"scrape":     strconv.FormatBool(opts.Scrape),
	})
	if err != nil {
		return nil, err
	}
	if !bypass && q.Cache != nil {
		var cached []Flight
		if ok, err := q.Cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	flights, err := q.listFlightsUncached(ctx, opts)
	if err != nil {
		return nil, err
	}

	if !bypass && q.Cache != nil {
		_ = q.Cache.Set(ctx, key, flights, cache.ReadTTL)
	}
	return flights, nil
}

func (q *Queries) listFlightsUncached(ctx context.Context, opts ListFlightsOptions) ([]Flight, error) {
	endYear := opts.EndYear
	if endYear == 0 {
		endYear = time.Now().Year()
	}

	years := make([]int, 0, endYear-opts.StartYear+1)
	for y := endYear; y >= opts.StartYear; y-- {
		years = append(years, y)
	}

	resultsCh := make(chan yearResult, len(years))
	var wg sync.WaitGroup
	for _, year := range years {
		year := year
		wg.Add(1)
		go func() {
			defer wg.Done()
			flights, err := q.fetchYear(ctx, opts.UserID, year)
			resultsCh <- yearResult{year: year, flights: flights, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var flights []Flight
	var scrapeTargets []int // indices into flights needing a scrape
	for res := range resultsCh {
		if res.err != nil {
			continue
		}
		if len(flights) > q.flightsMax() {
			break
		}
		for _, f := range res.flights {
			f = enrichFlight(f)
			flights = append(flights, f)
			if opts.Scrape {
				scrapeTargets = append(scrapeTargets, len(flights)-1)
			}
		}
	}

	if opts.Scrape && len(scrapeTargets) > 0 {
		var scrapeWg sync.WaitGroup
		for _, idx := range scrapeTargets {
			idx := idx
			scrapeWg.Add(1)
			go func() {
				defer scrapeWg.Done()
				_ = q.ScrapeFlight(ctx, &flights[idx])
			}()
		}
		scrapeWg.Wait()
	}

	sort.Slice(flights, func(i, j int) bool {
		a, _ := flights[i].ID.Int64()
		b, _ := flights[j].ID.Int64()
		return a < b
	})

	return flights, nil
}

func (q *Queries) flightsMax() int {
	if q.FlightsMax <= 0 {
		return 200
	}
	return q.FlightsMax
}

// fetchYear performs the single per-year POST for a user, using the
// OLC-plus competition type from 2011 onward and the legacy OLC type
// before it.
func (q *Queries) fetchYear(ctx context.Context, userID, year int) ([]Flight, error) {
	competitionType := "olcp"
	if year <= 2010 {
		competitionType = "olc"
	}

	var resp flightsResponse
	path := "gliding/flightbook.html?sp=" + strconv.Itoa(year) + "&pi=" + strconv.Itoa(userID)
	body := map[string]any{
		"q":      "ds",
		"st":     competitionType,
		"offset": 0,
		"limit":  2147483647,
	}
	err := q.Session.Do(ctx, "POST", path, ucs.RequestOptions{
		JSONBody:    body,
		ExtraHeader: map[string]string{"Accept": "application/json"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// enrichFlight fills in the derived fields list_flights adds on top of
// the raw UCS response: closest glider match, ISO date, rounded
// distance/speed, and a formatted co-pilot name.
func enrichFlight(f Flight) Flight {
	if f.Airplane != "" {
		match, _ := gliders.Match(f.Airplane)
		f.AirplaneWeglide = match
	}
	f.Date = time.UnixMilli(f.DateOfFlight).UTC().Format("2006-01-02")
	f.DistanceInKm = round1(f.DistanceInKm)
	f.SpeedInKmH = round1(f.SpeedInKmH)
	f.Checked = true
	if f.Copilot != nil {
		f.CoPilotName = f.Copilot.FirstName + " " + f.Copilot.SurName
	}
	return f
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// ResolveFlightRef fetches the internal flight_ref id used by the IGC
// download and scrape endpoints, asserting the statistics lookup returns
// exactly one result.
func (q *Queries) ResolveFlightRef(ctx context.Context, flightID int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "ucsqueries.resolve_flight_ref")
	defer span.End()

	key, bypass, err := cache.BuildKey("resolve_flight_ref", []any{flightID}, nil)
	if err != nil {
		return 0, err
	}
	if !bypass && q.Cache != nil {
		var cached int
		if ok, err := q.Cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	var resp []struct {
		MapHref string `json:"mapHref"`
	}
	path := "gliding/rest/flightstatistics.json?dsIds=" + strconv.Itoa(flightID)
	if err := q.Session.Do(ctx, "GET", path, ucs.RequestOptions{}, &resp); err != nil {
		return 0, err
	}
	if len(resp) != 1 {
		return 0, &ucserr.PermanentUpstreamError{Op: "resolve_flight_ref", Err: ucserr.ErrFlightRefMissing}
	}

	href := resp[0].MapHref
	const marker = "ref="
	idx := indexOf(href, marker)
	if idx == -1 {
		return 0, &ucserr.PermanentUpstreamError{Op: "resolve_flight_ref", Err: ucserr.ErrFlightRefMissing}
	}
	ref, err := strconv.Atoi(href[idx+len(marker):])
	if err != nil {
		return 0, &ucserr.PermanentUpstreamError{Op: "resolve_flight_ref", Err: ucserr.ErrFlightRefMissing}
	}

	if !bypass && q.Cache != nil {
		_ = q.Cache.Set(ctx, key, ref, cache.ReadTTL)
	}
	return ref, nil
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
