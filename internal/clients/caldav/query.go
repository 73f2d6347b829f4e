package caldav

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// QueryEvents runs a time-range calendar-query against every collection and
// returns the events starting in [start, end). A collection that fails is
// reported in the error slice as a *CollectionQueryError and does not
// affect the others. Events keep collection order.
func (c *Client) QueryEvents(ctx context.Context, urls []string, start, end time.Time, creds Credentials) ([]Event, []error) {
	results := make([][]Event, len(urls))
	failures := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i], failures[i] = c.queryCollection(ctx, u, start, end, creds)
			return nil
		})
	}
	_ = g.Wait()

	var (
		events []Event
		errs   []error
	)
	for i := range urls {
		if failures[i] != nil {
			c.log.Warn().Err(failures[i]).Str("collection", urls[i]).Msg("collection query failed")
			errs = append(errs, failures[i])
			continue
		}
		for _, ev := range results[i] {
			if !ev.Start.Before(start) && ev.Start.Before(end) {
				events = append(events, ev)
			}
		}
	}

	return events, errs
}

func (c *Client) queryCollection(ctx context.Context, collection string, start, end time.Time, creds Credentials) ([]Event, error) {
	resp, err := c.do(ctx, creds, request{
		method: "REPORT",
		url:    collection,
		depth:  "1",
		body:   calendarQueryBody(formatCompactUTC(start), formatCompactUTC(end)),
	})
	if err != nil {
		return nil, &CollectionQueryError{URL: collection, Err: err}
	}
	if !resp.ok() {
		return nil, &CollectionQueryError{URL: collection, Status: resp.Status}
	}

	root, perr := parseXML(resp.Body)
	if root == nil {
		return nil, &CollectionQueryError{URL: collection, Err: perr}
	}

	if data := root.findAll("calendar-data", nsCalDAV); len(data) > 0 {
		var events []Event
		for _, d := range data {
			events = append(events, c.decode(calendarText(d.text.String()), collection)...)
		}
		return events, nil
	}

	// Some servers answer REPORT with hrefs only.
	hrefs := icsHrefs(root, collection)
	if len(hrefs) == 0 {
		return nil, nil
	}
	c.log.Debug().Str("collection", collection).Int("resources", len(hrefs)).Msg("no inline calendar-data, fetching resources")
	return c.fetchResources(ctx, hrefs, creds), nil
}

// fetchResources GETs each .ics resource. Failed fetches are logged and
// skipped.
func (c *Client) fetchResources(ctx context.Context, hrefs []string, creds Credentials) []Event {
	results := make([][]Event, len(hrefs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, href := range hrefs {
		i, href := i, href
		g.Go(func() error {
			resp, err := c.do(ctx, creds, request{method: "GET", url: href})
			if err != nil {
				c.log.Warn().Err(err).Str("resource", href).Msg("fetch event resource failed")
				return nil
			}
			if !resp.ok() {
				c.log.Warn().Int("status", resp.Status).Str("resource", href).Msg("fetch event resource failed")
				return nil
			}
			results[i] = c.decode(string(resp.Body), href)
			return nil
		})
	}
	_ = g.Wait()

	var events []Event
	for _, evs := range results {
		events = append(events, evs...)
	}
	return events
}

func (c *Client) decode(text, source string) []Event {
	events, perrs := decodeEvents(text, c.loc)
	for _, perr := range perrs {
		c.log.Debug().Err(perr).Str("source", source).Msg("dropped malformed event")
	}
	return events
}

// icsHrefs collects every href ending in .ics as an absolute URL
func icsHrefs(root *xmlNode, base string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, h := range root.findAll("href", nsDAV) {
		href := h.textContent()
		if !strings.HasSuffix(strings.ToLower(href), ".ics") {
			continue
		}
		abs, err := resolveURL(base, href)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// calendarText removes the indentation some servers add to pretty-printed
// calendar-data. Entities are already decoded by the XML parser.
func calendarText(s string) string {
	return dedent(s)
}

func dedent(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	lines := strings.Split(s, "\n")

	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return s
	}

	for i, l := range lines {
		if len(l) >= indent && strings.TrimSpace(l[:indent]) == "" {
			lines[i] = l[indent:]
		} else {
			lines[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
