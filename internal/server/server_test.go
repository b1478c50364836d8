package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/lexrag/internal/embedder"
	"github.com/54b3r/lexrag/internal/index"
	"github.com/54b3r/lexrag/internal/logging"
	"github.com/54b3r/lexrag/internal/rag"
	"github.com/54b3r/lexrag/internal/store"
	"github.com/54b3r/lexrag/internal/tokenizer"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeAnswerer returns a canned body or error.
type fakeAnswerer struct {
	body string
	err  error
	// wait blocks Answer until the request context is done.
	wait bool
}

func (f *fakeAnswerer) Answer(ctx context.Context, q rag.Query) (rag.Result, error) {
	if f.wait {
		<-ctx.Done()
		return rag.Result{}, &rag.BackendError{Model: "m", Err: ctx.Err()}
	}
	if f.err != nil {
		return rag.Result{}, f.err
	}
	return rag.Result{Response: rag.Response{Body: f.body}}, nil
}

// fakeIndexer serves a fixed snapshot and optionally fails rebuilds.
type fakeIndexer struct {
	mu         sync.Mutex
	snap       *index.Snapshot
	next       *index.Snapshot
	rebuildErr error
}

func (f *fakeIndexer) Snapshot() *index.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeIndexer) Rebuild(_ context.Context) (*index.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rebuildErr != nil {
		return nil, f.rebuildErr
	}
	f.snap = f.next
	return f.snap, nil
}

// mustSnapshot builds a width-4 snapshot with one arbitrary row per text.
func mustSnapshot(t *testing.T, texts ...string) *index.Snapshot {
	t.Helper()
	passages := make([]store.Passage, len(texts))
	for i, text := range texts {
		passages[i] = store.Passage{Text: text, Embedding: []uint32{uint32(i + 1), 2, 3, 0}}
	}
	snap, err := index.FromPassages(passages, 4)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// newTestServer builds a *Server with trivial collaborators and an isolated
// metrics registry.
func newTestServer() *Server {
	s, _ := newTestServerWith(&fakeAnswerer{body: "ok"}, &fakeIndexer{}, &Config{})
	return s
}

func newTestServerWith(a answerer, idx indexer, cfg *Config) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	s, err := newServer(a, idx, cfg)
	if err != nil {
		panic(err)
	}
	return s, reg
}

func postQuery(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

// ---------------------------------------------------------------------------
// POST /query
// ---------------------------------------------------------------------------

func TestHandleQuery_Success(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeAnswerer{body: "The sky is blue."}, &fakeIndexer{}, &Config{})
	w := postQuery(t, s.Handler(), `{"prompt":"What color is the sky?"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp rag.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Body != "The sky is blue." {
		t.Errorf("body: got %q", resp.Body)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestHandleQuery_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "malformed json", body: `{"prompt":`, wantStatus: http.StatusBadRequest, wantKind: kindBadRequest},
		{name: "empty prompt", body: `{"prompt":"   "}`, wantStatus: http.StatusBadRequest, wantKind: kindBadRequest},
		{
			name:       "encoding error",
			body:       `{"prompt":"x"}`,
			err:        &embedder.EncodingError{Text: "x", Err: tokenizer.ErrInvalidText},
			wantStatus: http.StatusBadRequest,
			wantKind:   kindEncoding,
		},
		{
			name:       "empty index",
			body:       `{"prompt":"x"}`,
			err:        index.ErrEmptyMatrix,
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   kindEmptyIndex,
		},
		{
			name:       "backend failure",
			body:       `{"prompt":"x"}`,
			err:        &rag.BackendError{Model: "llama3", Err: errors.New("connection refused")},
			wantStatus: http.StatusInternalServerError,
			wantKind:   kindBackend,
		},
		{
			name:       "unexpected",
			body:       `{"prompt":"x"}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   kindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestServerWith(&fakeAnswerer{body: "never", err: tt.err}, &fakeIndexer{}, &Config{})
			w := postQuery(t, s.Handler(), tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status: want %d, got %d body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Kind != tt.wantKind {
				t.Errorf("kind: want %q, got %q", tt.wantKind, resp.Kind)
			}
			if resp.Error == "" || strings.Contains(w.Body.String(), `"body"`) {
				t.Errorf("failure must not look like an answer: %s", w.Body.String())
			}
		})
	}
}

func TestHandleQuery_BackendErrorNotLeaked(t *testing.T) {
	t.Parallel()

	err := &rag.BackendError{Model: "gpt", Err: errors.New("401 invalid api key sk-secret")}
	s, _ := newTestServerWith(&fakeAnswerer{err: err}, &fakeIndexer{}, &Config{})
	w := postQuery(t, s.Handler(), `{"prompt":"hi"}`)

	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Errorf("backend error text leaked to client: %s", w.Body.String())
	}
}

func TestHandleQuery_Timeout(t *testing.T) {
	t.Parallel()

	s, _ := newTestServerWith(&fakeAnswerer{wait: true}, &fakeIndexer{}, &Config{QueryTimeout: 10 * time.Millisecond})
	w := postQuery(t, s.Handler(), `{"prompt":"slow"}`)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Kind != kindTimeout {
		t.Errorf("kind: got %q", resp.Kind)
	}
}

func TestHandleQuery_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHandleQuery_RateLimited(t *testing.T) {
	t.Parallel()

	s, reg := newTestServerWith(&fakeAnswerer{body: "ok"}, &fakeIndexer{}, &Config{RateLimit: 0.001, RateBurst: 1})
	h := s.Handler()

	if w := postQuery(t, h, `{"prompt":"one"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := postQuery(t, h, `{"prompt":"two"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if got := decodeError(t, w).Kind; got != kindRateLimited {
		t.Errorf("kind: got %q, want %q", got, kindRateLimited)
	}
	if got := plainCounterValue(t, reg, "lexrag_query_rate_limited_total"); got != 1 {
		t.Errorf("rate limited counter: got %v, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// GET / and operational endpoints
// ---------------------------------------------------------------------------

func TestHandleIndex_ServesPage(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type: got %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), `fetch("/query"`) {
		t.Error("page does not post to /query")
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	snap := mustSnapshot(t, "a", "b")
	s, _ := newTestServerWith(&fakeAnswerer{}, &fakeIndexer{snap: snap}, &Config{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Passages != 2 || resp.Width != 4 {
		t.Errorf("unexpected stats: %+v", resp)
	}
	if !resp.BuiltAt.Equal(snap.BuiltAt()) {
		t.Errorf("built_at: want %v, got %v", snap.BuiltAt(), resp.BuiltAt)
	}
}

func TestHandleVersion(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"version":"dev"`) {
		t.Errorf("unexpected response %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /api/admin/reindex
// ---------------------------------------------------------------------------

func TestHandleReindex_SwapsSnapshot(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{snap: mustSnapshot(t, "old"), next: mustSnapshot(t, "new", "newer", "newest")}
	s, reg := newTestServerWith(&fakeAnswerer{}, idx, &Config{AdminKey: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/reindex", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Passages != 3 {
		t.Errorf("passages: want 3, got %d", resp.Passages)
	}
	if got := gaugeValue(t, reg, "lexrag_index_passages"); got != 3 {
		t.Errorf("passages gauge: want 3, got %v", got)
	}
	if got := counterValue(t, reg, "lexrag_index_rebuilds_total", "outcome", "ok"); got != 1 {
		t.Errorf("rebuild counter: want 1, got %v", got)
	}
}

func TestHandleReindex_RequiresAdminKey(t *testing.T) {
	t.Parallel()

	idx := &fakeIndexer{snap: mustSnapshot(t, "old"), next: mustSnapshot(t, "new")}
	s, _ := newTestServerWith(&fakeAnswerer{}, idx, &Config{AdminKey: "secret"})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reindex", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if idx.Snapshot().Text(0) != "old" {
		t.Error("unauthorised request must not rebuild")
	}
}

func TestHandleReindex_FailureKeepsServing(t *testing.T) {
	t.Parallel()

	old := mustSnapshot(t, "old")
	idx := &fakeIndexer{snap: old, rebuildErr: fmt.Errorf("rag: rebuild: %w", store.ErrRepository)}
	s, reg := newTestServerWith(&fakeAnswerer{}, idx, &Config{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/reindex", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Kind != kindRepository {
		t.Errorf("kind: got %q", resp.Kind)
	}
	if idx.Snapshot() != old {
		t.Error("failed rebuild replaced the snapshot")
	}
	if got := counterValue(t, reg, "lexrag_index_rebuilds_total", "outcome", "error"); got != 1 {
		t.Errorf("rebuild error counter: want 1, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// End to end through the real orchestrator
// ---------------------------------------------------------------------------

type stubGenerator struct {
	answer string
	err    error
}

func (g stubGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.answer + " | " + prompt, nil
}

func newOrchestrator(t *testing.T, gen rag.Generator, texts ...string) *rag.Orchestrator {
	t.Helper()
	vocab, err := tokenizer.New(map[string]uint32{
		"[PAD]": 0, "[UNK]": 1, "?": 3,
		"water": 4, "boils": 5, "at": 6, "100": 7, "degrees": 8,
		"the": 50, "sky": 51, "is": 52, "blue": 53, "what": 54, "color": 55, ".": 56,
	}, tokenizer.Options{Lowercase: true})
	if err != nil {
		t.Fatalf("vocabulary: %v", err)
	}
	emb, err := embedder.NewLexical(vocab, 10)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	repo, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	for _, text := range texts {
		p, err := emb.Embed(text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if err := repo.Insert(context.Background(), p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	engine, err := rag.NewEngine(context.Background(), repo, 10)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	orch, err := rag.NewOrchestrator(engine, emb, gen, "test-model")
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return orch
}

func TestNew_EndToEnd(t *testing.T) {
	t.Parallel()

	orch := newOrchestrator(t, stubGenerator{answer: "blue"}, "The sky is blue.", "Water boils at 100 degrees.")
	reg := prometheus.NewRegistry()
	s, err := New(orch, &Config{Logger: logging.Discard(), MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	w := postQuery(t, s.Handler(), `{"prompt":"What color is the sky?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp rag.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Body, "Context: the sky is blue.") {
		t.Errorf("answer was not grounded on the sky passage: %q", resp.Body)
	}
	if got := counterValue(t, reg, "lexrag_query_requests_total", "outcome", "ok"); got != 1 {
		t.Errorf("query counter: want 1, got %v", got)
	}
}

func TestNew_EndToEndBackendFailure(t *testing.T) {
	t.Parallel()

	orch := newOrchestrator(t, stubGenerator{err: errors.New("model not loaded")}, "The sky is blue.")
	reg := prometheus.NewRegistry()
	s, err := New(orch, &Config{Logger: logging.Discard(), MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	w := postQuery(t, s.Handler(), `{"prompt":"What color is the sky?"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Kind != kindBackend {
		t.Errorf("kind: got %q", resp.Kind)
	}
}

func TestNew_EmptyIndex(t *testing.T) {
	t.Parallel()

	orch := newOrchestrator(t, stubGenerator{answer: "x"})
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	s, err := New(orch, &Config{
		Logger:          logging.NewWith(&logs, "info", "json"),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		Pingers:         []Pinger{NewIndexPinger(orch.Engine())},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	w := postQuery(t, s.Handler(), `{"prompt":"What color is the sky?"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Kind != kindEmptyIndex || resp.Error != "no passages are indexed" {
		t.Errorf("error body: got %+v", resp)
	}
	if !strings.Contains(logs.String(), "lexrag seed") {
		t.Errorf("log line should carry the seeding hint: %s", logs.String())
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready: expected 503 for empty index, got %d", w.Code)
	}
}

func TestNew_NilOrchestrator(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil orchestrator")
	}
}
