package caldav

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var specialCalendars = []string{"inbox", "notification", "outbox", "tasks"}

var errNoHref = errors.New("no href in response")

// DiscoverCalendarHome walks principal -> calendar-home-set. It never
// fails: when discovery breaks down it falls back to the conventional
// /calendars/ path next to the principal, and after that to the server
// root. Source tells the caller which of these happened.
func (c *Client) DiscoverCalendarHome(ctx context.Context, creds Credentials) CalendarHome {
	log := c.log.With().Str("op", "discover").Logger()

	principal, err := c.findHref(ctx, creds, creds.ServerURL, "principal", "D:current-user-principal", "current-user-principal", nsDAV)
	if err != nil {
		log.Warn().Err(err).Msg("principal discovery failed")
		principal = creds.ServerURL
	}

	home, err := c.findHref(ctx, creds, principal, "home-set", "C:calendar-home-set", "calendar-home-set", nsCalDAV)
	if err == nil {
		log.Debug().Str("home", home).Msg("calendar home discovered")
		return CalendarHome{URL: home, Source: HomeDiscovered}
	}
	log.Warn().Err(err).Msg("calendar-home-set discovery failed")

	if fb, ok := fallbackHome(principal); ok {
		log.Info().Str("home", fb).Msg("using conventional calendar home")
		return CalendarHome{URL: fb, Source: HomeFallback}
	}
	return CalendarHome{URL: creds.ServerURL, Source: HomeRoot}
}

// findHref PROPFINDs one property at Depth 0 and returns its href as an
// absolute URL.
func (c *Client) findHref(ctx context.Context, creds Credentials, target, step, prop, local, ns string) (string, error) {
	resp, err := c.do(ctx, creds, request{
		method: "PROPFIND",
		url:    target,
		depth:  "0",
		body:   propfindBody(prop),
	})
	if err != nil {
		return "", &DiscoveryError{Step: step, URL: target, Err: err}
	}
	if !resp.ok() {
		return "", &DiscoveryError{Step: step, URL: target, Status: resp.Status}
	}

	root, perr := parseXML(resp.Body)
	if root == nil {
		return "", &DiscoveryError{Step: step, URL: target, Err: perr}
	}

	href := hrefIn(root, local, ns)
	if href == "" {
		return "", &DiscoveryError{Step: step, URL: target, Err: errNoHref}
	}

	abs, err := resolveURL(target, href)
	if err != nil {
		return "", &DiscoveryError{Step: step, URL: target, Err: err}
	}
	return abs, nil
}

// fallbackHome maps https://host/12345/principal/ to
// https://host/12345/calendars/.
func fallbackHome(principal string) (string, bool) {
	u, err := url.Parse(principal)
	if err != nil || u.Host == "" {
		return "", false
	}

	p := u.Path
	if strings.HasSuffix(p, "/principal") {
		p += "/"
	}
	if !strings.Contains(p, "/principal/") {
		return "", false
	}

	u.Path = strings.Replace(p, "/principal/", "/calendars/", 1)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

// ListCollections returns the calendar collections below homeURL. When
// creds.CalendarName matches exactly one writable calendar only that one
// is returned; otherwise all writable calendars, or every calendar if none
// is writable.
func (c *Client) ListCollections(ctx context.Context, homeURL string, creds Credentials) ([]Calendar, error) {
	resp, err := c.do(ctx, creds, request{
		method: "PROPFIND",
		url:    homeURL,
		depth:  "1",
		body:   propfindBody("D:displayname", "D:resourcetype"),
	})
	if err != nil {
		return nil, &DiscoveryError{Step: "collections", URL: homeURL, Err: err}
	}
	if !resp.ok() {
		return nil, &DiscoveryError{Step: "collections", URL: homeURL, Status: resp.Status}
	}

	root, perr := parseXML(resp.Body)
	if root == nil {
		return nil, &DiscoveryError{Step: "collections", URL: homeURL, Err: perr}
	}
	if perr != nil {
		c.log.Debug().Err(perr).Str("url", homeURL).Msg("truncated multistatus, using what was parsed")
	}

	home := sameResource(homeURL)
	var all []Calendar
	for _, r := range multistatusResponses(root) {
		abs, err := resolveURL(homeURL, r.Href)
		if err != nil {
			c.log.Debug().Err(err).Str("href", r.Href).Msg("skipping unresolvable href")
			continue
		}
		if sameResource(abs) == home {
			continue
		}
		if strings.HasSuffix(strings.ToLower(strings.TrimSuffix(abs, "/")), ".ics") {
			continue
		}
		if r.HasResType && !r.IsCollection && !r.IsCalendar {
			continue
		}

		all = append(all, Calendar{
			URL:         abs,
			DisplayName: r.DisplayName,
			Special:     isSpecial(abs, r.DisplayName),
		})
	}

	return selectCalendars(all, creds.CalendarName), nil
}

func selectCalendars(all []Calendar, preferred string) []Calendar {
	var writable []Calendar
	for _, cal := range all {
		if !cal.Special {
			writable = append(writable, cal)
		}
	}

	if preferred = strings.ToLower(strings.TrimSpace(preferred)); preferred != "" {
		var matches []Calendar
		for _, cal := range writable {
			if strings.Contains(strings.ToLower(cal.DisplayName), preferred) {
				matches = append(matches, cal)
			}
		}
		if len(matches) == 1 {
			return matches
		}
	}

	if len(writable) > 0 {
		return writable
	}
	return all
}

// isSpecial reports whether a collection is one of the scheduling or task
// collections that do not hold ordinary events.
func isSpecial(rawURL, displayName string) bool {
	var segments []string
	if u, err := url.Parse(rawURL); err == nil {
		segments = strings.Split(strings.ToLower(u.Path), "/")
	}
	name := strings.ToLower(displayName)

	for _, kw := range specialCalendars {
		if strings.Contains(name, kw) {
			return true
		}
		for _, s := range segments {
			if s == kw {
				return true
			}
		}
	}
	return false
}

// resolveURL resolves a possibly relative href against base
func resolveURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// sameResource normalizes a URL for equality checks: lower-case host, no
// trailing slash, no query.
func sameResource(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	return strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/")
}
