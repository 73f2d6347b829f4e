package caldav

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testUser = "alice@example.com"
	testPass = "app-specific-password"
)

// davServer is a fake CalDAV server. Routes are keyed "METHOD /path".
type davServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []recorded
}

type recorded struct {
	Method string
	Path   string
	Depth  string
	Body   string
	Header http.Header
	Length int64
}

func newDAVServer(t *testing.T) *davServer {
	t.Helper()

	s := &davServer{routes: make(map[string]http.HandlerFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *davServer) handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = h
}

// reply registers a fixed response
func (s *davServer) reply(method, path string, status int, body string) {
	s.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		if body != "" {
			w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
}

func (s *davServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Depth:  r.Header.Get("Depth"),
		Body:   string(body),
		Header: r.Header.Clone(),
		Length: r.ContentLength,
	})
	h := s.routes[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != testUser || pass != testPass {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (s *davServer) count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && (path == "" || r.Path == path) {
			n++
		}
	}
	return n
}

func (s *davServer) last(method string) recorded {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Method == method {
			return s.requests[i]
		}
	}
	return recorded{}
}

func (s *davServer) creds() Credentials {
	return Credentials{ServerURL: s.URL + "/", Username: testUser, Password: testPass}
}

func newTestClient(s *davServer) *Client {
	return NewClient(
		WithHTTPClient(s.Client()),
		WithLocation(time.UTC),
		WithRetry(0, time.Millisecond),
		WithTimeout(2*time.Second),
	)
}

func multistatus(responses ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">` +
		strings.Join(responses, "") +
		`</d:multistatus>`
}

func vcalendar(events ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//EN\r\n" +
		strings.Join(events, "") +
		"END:VCALENDAR\r\n"
}

func vevent(uid, summary, dtstart string) string {
	return "BEGIN:VEVENT\r\nUID:" + uid + "\r\nSUMMARY:" + summary + "\r\nDTSTART:" + dtstart + "\r\nEND:VEVENT\r\n"
}
