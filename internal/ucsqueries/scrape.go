package ucsqueries

import (
	"context"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/flightimport/ucsbridge/internal/telemetry"
	"github.com/flightimport/ucsbridge/internal/ucserr"
)

// ScrapeFlight fetches a flight's info page and fills in aircraft,
// registration, competition id, and pilot comment by XPath over the
// rendered HTML. Results are never cached — the page can change as the
// pilot edits their flight, unlike the stable JSON endpoints.
func (q *Queries) ScrapeFlight(ctx context.Context, f *Flight) error {
	ctx, span := telemetry.StartSpan(ctx, "ucsqueries.scrape_flight")
	defer span.End()

	flightID, _ := f.ID.Int64()
	path := "gliding/flightinfo.html?dsId=" + strconv.FormatInt(flightID, 10)
	resp, body, err := q.Session.DoRaw(ctx, "GET", path, true)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &ucserr.PermanentUpstreamError{Op: "scrape_flight", StatusCode: resp.StatusCode, Err: ucserr.ErrUpstreamStatus}
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return &ucserr.PermanentUpstreamError{Op: "scrape_flight", Err: err}
	}

	infoBoxNodes, err := htmlquery.QueryAll(doc, `//div[@class="OlcButtonBar"]/div/div/div[@class="dropdown-menu"]/dl`)
	if err != nil || len(infoBoxNodes) == 0 {
		return &ucserr.PermanentUpstreamError{Op: "scrape_flight", Err: ucserr.ErrNotFound}
	}
	infoBox := infoBoxNodes[0]

	dds, _ := htmlquery.QueryAll(infoBox, "dd")
	f.Aircraft = ddText(dds, 0)
	f.Registration = FormatRegistration(ddText(dds, 1))
	f.CompetitionID = ddText(dds, 2)

	commentNodes, err := htmlquery.QueryAll(doc, `//div[@class="OlcFlightInfoBox olcfiComment"]`)
	if err == nil && len(commentNodes) > 0 {
		paragraphs, _ := htmlquery.QueryAll(commentNodes[0], "blockquote[1]/p[1]")
		var chunks []string
		for _, p := range paragraphs {
			text := strings.TrimSpace(htmlquery.InnerText(p))
			if text != "" {
				chunks = append(chunks, text)
			}
		}
		comment := strings.Join(chunks, "\n\n")
		if !isEmptyCommentPlaceholder(comment) {
			f.PilotComment = comment
		}
	}

	return nil
}

// ddText returns the trimmed inner text of the nth <dd> node, or "" if
// out of range.
func ddText(dds []*html.Node, n int) string {
	if n >= len(dds) {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(dds[n]))
}

// isEmptyCommentPlaceholder matches UCS's "- no Comment -" placeholder
// text, which should be treated as no comment at all.
func isEmptyCommentPlaceholder(comment string) bool {
	return len(comment) >= 2 && strings.HasPrefix(comment, "-") && strings.HasSuffix(comment, "-")
}
