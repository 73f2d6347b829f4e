package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/items/1", "/items/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := `calassist_http_requests_total{method="GET",route="/items/{id}",status="418"} 2`
	if out := scrape(t); !strings.Contains(out, want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestCounters(t *testing.T) {
	EventAdded("api", false)
	BriefingSent("morning", true)

	out := scrape(t)
	for _, want := range []string{
		`calassist_events_added_total{outcome="failure",source="api"} 1`,
		`calassist_briefings_sent_total{kind="morning",outcome="success"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
