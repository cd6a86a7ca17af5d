package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// router answers requests by URL path and records every call.
type router struct {
	routes map[string]func(*http.Request) *http.Response
	calls  []string
	mu     sync.Mutex
}

func newRouter() *router {
	return &router{routes: make(map[string]func(*http.Request) *http.Response)}
}

func (r *router) handle(path string, status int, body string) {
	r.routes[path] = func(*http.Request) *http.Response {
		return jsonResponse(status, body)
	}
}

func (r *router) handleFunc(path string, fn func(*http.Request) *http.Response) {
	r.routes[path] = fn
}

func (r *router) client() *http.Client {
	return &http.Client{Transport: &MockRoundTripper{RoundTripFunc: func(req *http.Request) (*http.Response, error) {
		r.mu.Lock()
		r.calls = append(r.calls, req.URL.Path)
		fn, ok := r.routes[req.URL.Path]
		r.mu.Unlock()
		if !ok {
			return jsonResponse(http.StatusNotFound, `{"error":"not found"}`), nil
		}
		return fn(req), nil
	}}}
}

func (r *router) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == path {
			n++
		}
	}
	return n
}

func (r *router) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *router) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *router) first() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[0]
}

func TestNew(t *testing.T) {
	for _, pt := range models.ProviderTypes {
		p, err := New(pt, Options{})
		if err != nil {
			t.Fatalf("New(%q) error = %v", pt, err)
		}
		if p.Type() != pt {
			t.Errorf("New(%q).Type() = %q", pt, p.Type())
		}
		if p.Name() == "" || p.ShortIndicator() == "" || p.PrimaryColor() == "" {
			t.Errorf("provider %q has empty identity", pt)
		}
	}

	_, err := New("bogus", Options{})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("New(bogus) error = %v, want ErrUnknownProvider", err)
	}
}

func TestSortKey_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b SortKey
		want int
	}{
		{"source first", SortKey{Source: 0, Family: 9}, SortKey{Source: 1, Family: 0}, -1},
		{"family second", SortKey{Family: 2}, SortKey{Family: 1}, 1},
		{"name last", SortKey{Name: "a"}, SortKey{Name: "b"}, -1},
		{"equal", SortKey{Name: "x"}, SortKey{Name: "x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExpiredDeadline_NoCalls(t *testing.T) {
	r := newRouter()
	opts := Options{HTTPClient: r.client(), GoogleClientID: "cid"}

	accounts := map[models.ProviderType]models.Account{
		models.ProviderGoogle:     {Type: models.ProviderGoogle, Email: "g@example.com", RefreshToken: "rt"},
		models.ProviderChutes:     {Type: models.ProviderChutes, Email: "c", APIKey: "key"},
		models.ProviderOpenRouter: {Type: models.ProviderOpenRouter, Email: "r", APIKey: "key"},
		models.ProviderCopilot:    {Type: models.ProviderCopilot, Email: "h", GitHubToken: "gh"},
		models.ProviderOpenAI:     {Type: models.ProviderOpenAI, Email: "o", AccessToken: "at"},
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	for pt, acc := range accounts {
		t.Run(string(pt), func(t *testing.T) {
			p, err := New(pt, opts)
			if err != nil {
				t.Fatal(err)
			}
			records, err := p.FetchQuotas(ctx, &acc)
			if err != nil {
				t.Errorf("FetchQuotas() error = %v", err)
			}
			if len(records) != 0 {
				t.Errorf("FetchQuotas() returned %d records after deadline", len(records))
			}
		})
	}

	if r.total() != 0 {
		t.Errorf("expected no network calls after deadline, got %d", r.total())
	}
}

func TestRemaining(t *testing.T) {
	if got := Remaining(context.Background(), time.Second); got != time.Second {
		t.Errorf("Remaining(no deadline) = %v, want 1s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if got := Remaining(ctx, time.Second); got <= 0 || got > 50*time.Millisecond {
		t.Errorf("Remaining(50ms deadline) = %v", got)
	}

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel2()
	if got := Remaining(expired, time.Second); got > 0 {
		t.Errorf("Remaining(expired) = %v, want <= 0", got)
	}
	if HasTime(expired) {
		t.Error("HasTime(expired) = true")
	}
}
