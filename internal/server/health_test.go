package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func getReady(t *testing.T, pingers ...Pinger) (int, readyResponse) {
	t.Helper()
	s := newTestServer()
	s.pingers = pingers

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

// ---------------------------------------------------------------------------
// GET /api/health and GET /api/ready
// ---------------------------------------------------------------------------

func TestHandleHealth_AlwaysOK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	down := errors.New("connection refused")
	tests := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantFail  []string
	}{
		{"no pingers", nil, http.StatusOK, true, nil},
		{"all healthy", []Pinger{&fakePinger{name: "index"}, &fakePinger{name: "sqlite"}, &fakePinger{name: "ollama"}}, http.StatusOK, true, nil},
		{"repository down", []Pinger{&fakePinger{name: "index"}, &fakePinger{name: "qdrant", err: down}}, http.StatusServiceUnavailable, false, []string{"qdrant"}},
		{"all down", []Pinger{&fakePinger{name: "index", err: down}, &fakePinger{name: "ollama", err: down}}, http.StatusServiceUnavailable, false, []string{"index", "ollama"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, resp := getReady(t, tc.pingers...)
			if code != tc.wantCode || resp.Ready != tc.wantReady {
				t.Fatalf("got %d ready=%v, want %d ready=%v", code, resp.Ready, tc.wantCode, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.pingers) {
				t.Fatalf("checks: got %d, want %d", len(resp.Checks), len(tc.pingers))
			}
			var failed []string
			for _, c := range resp.Checks {
				if !c.OK {
					failed = append(failed, c.Name)
					if c.Error == "" {
						t.Errorf("check %q failed without an error", c.Name)
					}
				}
			}
			if strings.Join(failed, ",") != strings.Join(tc.wantFail, ",") {
				t.Errorf("failed checks: got %v, want %v", failed, tc.wantFail)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Pingers
// ---------------------------------------------------------------------------

type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(_ context.Context) error { return f.err }

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	empty := NewIndexPinger(&fakeIndexer{snap: mustSnapshot(t)})
	if err := empty.Ping(context.Background()); err == nil {
		t.Error("expected error for empty index")
	}

	full := NewIndexPinger(&fakeIndexer{snap: mustSnapshot(t, "the sky is blue")})
	if err := full.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if full.Name() != "index" {
		t.Errorf("name: got %q", full.Name())
	}
}

func TestRepositoryPinger(t *testing.T) {
	t.Parallel()

	p := NewRepositoryPinger(&fakePinger{err: errors.New("disk gone")}, "sqlite")
	if p.Name() != "sqlite" {
		t.Errorf("name: got %q", p.Name())
	}
	err := p.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("expected wrapped repository error, got %v", err)
	}
}

func TestLLMPinger(t *testing.T) {
	t.Parallel()

	if err := NewLLMPinger(nil, "openai").Ping(context.Background()); err != nil {
		t.Errorf("backend without health check should be healthy, got %v", err)
	}
	err := NewLLMPinger(fakeHealthCheck{err: errors.New("refused")}, "ollama").Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ollama health check failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunChecks_PreservesOrder(t *testing.T) {
	t.Parallel()

	checks, ok := RunChecks(context.Background(), []Pinger{
		&fakePinger{name: "b"},
		&fakePinger{name: "a", err: errors.New("down")},
	})
	if ok {
		t.Error("expected overall failure")
	}
	if len(checks) != 2 || checks[0].Name != "b" || checks[1].Name != "a" {
		t.Fatalf("unexpected checks: %+v", checks)
	}
	if checks[1].Error != "down" {
		t.Errorf("error: got %q", checks[1].Error)
	}
}
