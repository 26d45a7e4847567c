package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/ingestion"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/provider"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/retrieval"
	"github.com/54b3r/edupolicy-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fixedRetriever returns the same hits on every call.
type fixedRetriever struct {
	src  rag.Source
	hits []rag.Hit
}

func (f fixedRetriever) Source() rag.Source { return f.src }
func (f fixedRetriever) Retrieve(context.Context, *retrieval.Request) (retrieval.Outcome, error) {
	return retrieval.Outcome{Hits: f.hits}, nil
}

// fakeGenerator returns reply or err.
type fakeGenerator struct {
	reply string
	err   error
}

func (g fakeGenerator) Generate(context.Context, string, []*schema.Message) (string, error) {
	return g.reply, g.err
}

type mapChunks map[string]rag.Chunk

func (m mapChunks) GetChunks(_ context.Context, ids []string) (map[string]rag.Chunk, error) {
	out := map[string]rag.Chunk{}
	for _, id := range ids {
		if c, ok := m[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

var testChunks = mapChunks{
	"gitam:p1:c0": {ID: "gitam:p1:c0", DocID: "gitam", Page: 1, Text: "For B.Tech programmes: 60% aggregate in 10+2 with Physics, Chemistry and Mathematics."},
	"gitam:p2:c0": {ID: "gitam:p2:c0", DocID: "gitam", Page: 2, Text: "Candidates sit the entrance examination before a personal interview."},
}

// newController builds a real controller over fixed retrievers.
func newController(gen provider.Generator) *controller.Controller {
	return controller.New(controller.Deps{
		Retrievers: []retrieval.Retriever{
			fixedRetriever{src: rag.SourceDense, hits: []rag.Hit{
				{ChunkID: "gitam:p1:c0", Score: 0.9, Source: rag.SourceDense},
				{ChunkID: "gitam:p2:c0", Score: 0.7, Source: rag.SourceDense},
				{ChunkID: "gitam:p3:c0", Score: 0.1, Source: rag.SourceDense},
			}},
			fixedRetriever{src: rag.SourceSparse, hits: []rag.Hit{
				{ChunkID: "gitam:p1:c0", Score: 4.2, Source: rag.SourceSparse},
				{ChunkID: "gitam:p2:c0", Score: 2.0, Source: rag.SourceSparse},
			}},
		},
		Chunks:    testChunks,
		Generator: gen,
		Policy:    controller.DefaultPolicy(),
	})
}

// recordingQuerier captures the last request and returns res or err.
type recordingQuerier struct {
	mu   sync.Mutex
	last controller.Request
	res  *controller.Result
	err  error
}

func (q *recordingQuerier) Run(_ context.Context, req controller.Request) (*controller.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.last = req
	if q.err != nil {
		return nil, q.err
	}
	if q.res != nil {
		return q.res, nil
	}
	return &controller.Result{Answer: "ok", Citations: nil}, nil
}

type fakeDocs struct{}

func (fakeDocs) GetDocument(_ context.Context, id string) (*store.Document, []rag.Chunk, error) {
	if id != "gitam" {
		return nil, nil, fmt.Errorf("store: document %s: %w", id, store.ErrNotFound)
	}
	return &store.Document{ID: "gitam", Title: "GITAM Admission Policy 2024", Content: "..."},
		[]rag.Chunk{testChunks["gitam:p1:c0"]}, nil
}

type fakeFeedback struct {
	mu  sync.Mutex
	got []store.Feedback
	err error
}

func (f *fakeFeedback) AppendFeedback(_ context.Context, fb store.Feedback) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, fb)
	return "fb-1", nil
}

type fakeIngester struct {
	rep ingestion.Report
	err error
	got ingestion.DocumentSpec
}

func (f *fakeIngester) IngestDocument(_ context.Context, doc ingestion.DocumentSpec) (ingestion.Report, error) {
	f.got = doc
	return f.rep, f.err
}

// newTestServer builds a Server with an isolated registry and a generous
// rate limit. A nil Querier is replaced by a recordingQuerier.
func newTestServer(t *testing.T, b Backends, pingers ...Pinger) *Server {
	t.Helper()
	if b.Querier == nil {
		b.Querier = &recordingQuerier{}
	}
	reg := prometheus.NewRegistry()
	s, err := New(b, &Config{
		Logger:          logging.Discard(),
		Pingers:         pingers,
		RateLimit:       1000,
		RateBurst:       1000,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// do sends a request through the full handler chain.
func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v body: %s", err, w.Body.String())
	}
	if e.Error == "" || e.Details == "" {
		t.Errorf("error body missing fields: %+v", e)
	}
	return e
}

// ---------------------------------------------------------------------------
// POST /v1/query - validation
// ---------------------------------------------------------------------------

func TestNew_RequiresQuerier(t *testing.T) {
	t.Parallel()
	if _, err := New(Backends{}, nil); err == nil {
		t.Fatal("expected error for nil querier")
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `not-json`},
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"too long", fmt.Sprintf(`{"query":%q}`, strings.Repeat("a", 1001))},
		{"unknown field", `{"query":"fees?","workspaceDir":"/tmp"}`},
		{"bad thinking mode", `{"query":"fees?","thinking_mode":"creative"}`},
		{"trailing data", `{"query":"fees?"} {"query":"again"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := &recordingQuerier{}
			s := newTestServer(t, Backends{Querier: q})
			w := do(t, s, http.MethodPost, "/v1/query", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d body: %s", w.Code, w.Body.String())
			}
			decodeError(t, w)
			if q.last.Query != "" {
				t.Errorf("querier was called for an invalid request")
			}
		})
	}
}

func TestHandleQuery_LimitCountsCharacters(t *testing.T) {
	t.Parallel()
	q := &recordingQuerier{}
	s := newTestServer(t, Backends{Querier: q})

	// 1000 Devanagari characters are 3000 bytes but within the limit.
	body := fmt.Sprintf(`{"query":%q}`, strings.Repeat("प", 1000))
	if w := do(t, s, http.MethodPost, "/v1/query", body); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
}

func TestHandleQuery_PassesRequestThrough(t *testing.T) {
	t.Parallel()
	q := &recordingQuerier{}
	s := newTestServer(t, Backends{Querier: q})

	w := do(t, s, http.MethodPost, "/v1/query",
		`{"query":"  B.Tech eligibility?  ","model":"gpt-4o","thinking_mode":"deep","filters":{"year":"2024"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if q.last.Query != "B.Tech eligibility?" {
		t.Errorf("query = %q, want trimmed", q.last.Query)
	}
	if q.last.Model != "gpt-4o" || q.last.ThinkingMode != controller.ModeDeep {
		t.Errorf("model/mode = %q/%q", q.last.Model, q.last.ThinkingMode)
	}
	if q.last.Filters["year"] != "2024" {
		t.Errorf("filters = %v", q.last.Filters)
	}
}

func TestHandleQuery_QuerierError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Backends{Querier: &recordingQuerier{err: errors.New("boom")}})

	w := do(t, s, http.MethodPost, "/v1/query", `{"query":"fees?"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	decodeError(t, w)
}

// ---------------------------------------------------------------------------
// POST /v1/query - through a real controller
// ---------------------------------------------------------------------------

func TestHandleQuery_SimulateFailure(t *testing.T) {
	t.Parallel()
	reply := `{"answer":"B.Tech admission needs 60% in 10+2 with PCM.","citations":[{"chunk_id":"gitam:p1:c0"}]}`

	cases := []struct {
		name         string
		simulate     string
		wantDegraded bool
	}{
		{"false is accepted", "false", false},
		{"true degrades", "true", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, Backends{Querier: newController(fakeGenerator{reply: reply})})

			body := `{"query":"What is the B.Tech eligibility?","model":"deepseek-r1:7b","thinking_mode":"smart","simulate_failure":` + tc.simulate + `}`
			w := do(t, s, http.MethodPost, "/v1/query", body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
			}
			var res struct {
				Answer    string            `json:"answer"`
				Citations []json.RawMessage `json:"citations"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := strings.HasPrefix(res.Answer, "[degraded]"); got != tc.wantDegraded {
				t.Errorf("answer = %q, degraded = %v, want %v", res.Answer, got, tc.wantDegraded)
			}
			if tc.wantDegraded && len(res.Citations) != 0 {
				t.Errorf("citations = %d, want none on a degraded answer", len(res.Citations))
			}
			if !tc.wantDegraded && len(res.Citations) != 1 {
				t.Errorf("citations = %d, want 1", len(res.Citations))
			}
		})
	}
}

func TestHandleQuery_Answered(t *testing.T) {
	t.Parallel()
	reply := `{"answer":"B.Tech admission needs 60% in 10+2 with PCM.","citations":[{"chunk_id":"gitam:p1:c0"},{"chunk_id":"made:p9:c9"}]}`
	s := newTestServer(t, Backends{Querier: newController(fakeGenerator{reply: reply})})

	w := do(t, s, http.MethodPost, "/v1/query", `{"query":"What is the B.Tech eligibility?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"answer", "citations", "processing_trace", "risk_assessment"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing key %q", key)
		}
	}

	var res struct {
		Answer    string `json:"answer"`
		Citations []struct {
			DocID string `json:"docId"`
			Page  int    `json:"page"`
			Span  string `json:"span"`
		} `json:"citations"`
		Trace struct {
			Language   string `json:"language"`
			Retrieval  struct{ Dense, Sparse []string }
			KG         string `json:"kg_traversal"`
			Iterations int    `json:"controller_iterations"`
		} `json:"processing_trace"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Citations) != 1 || res.Citations[0].DocID != "gitam" || res.Citations[0].Page != 1 {
		t.Errorf("citations = %+v, want only the verified gitam p1 citation", res.Citations)
	}
	if res.Trace.Iterations != 1 {
		t.Errorf("controller_iterations = %d, want 1", res.Trace.Iterations)
	}
	if res.Trace.Language != "English" {
		t.Errorf("language = %q, want English", res.Trace.Language)
	}
}

func TestHandleQuery_GenerationUnavailableIs200(t *testing.T) {
	t.Parallel()
	gen := fakeGenerator{err: fmt.Errorf("provider: ollama: %w", provider.ErrGenerationUnavailable)}
	s := newTestServer(t, Backends{Querier: newController(gen)})

	w := do(t, s, http.MethodPost, "/v1/query", `{"query":"What is the B.Tech eligibility?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var res struct {
		Answer    string            `json:"answer"`
		Citations []json.RawMessage `json:"citations"`
		Risk      string            `json:"risk_assessment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Answer != controller.DegradedAnswer {
		t.Errorf("answer = %q, want degraded label", res.Answer)
	}
	if res.Citations == nil || len(res.Citations) != 0 {
		t.Errorf("citations = %v, want []", res.Citations)
	}
	if !strings.Contains(w.Body.String(), `"citations":[]`) {
		t.Errorf("citations must encode as [], body: %s", w.Body.String())
	}
	if !strings.HasPrefix(res.Risk, "high") {
		t.Errorf("risk = %q, want high", res.Risk)
	}
}

// ---------------------------------------------------------------------------
// GET /v1/document/{id}
// ---------------------------------------------------------------------------

func TestHandleDocument(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Backends{Documents: fakeDocs{}})

	w := do(t, s, http.MethodGet, "/v1/document/gitam", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var doc documentResponse
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != "gitam" || len(doc.Chunks) != 1 || doc.Chunks[0].ID != "gitam:p1:c0" {
		t.Errorf("document = %+v", doc)
	}

	w = do(t, s, http.MethodGet, "/v1/document/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	decodeError(t, w)
}

func TestHandleDocument_NoStore(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Backends{})
	if w := do(t, s, http.MethodGet, "/v1/document/x", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /v1/ingest
// ---------------------------------------------------------------------------

func TestHandleIngest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		ing        *fakeIngester
		body       string
		wantCode   int
		wantStatus string
	}{
		{
			name:       "completed",
			ing:        &fakeIngester{rep: ingestion.Report{Chunks: 3, Dense: true}},
			body:       `{"title":"Fee Policy","content":"Fees are due in July.","metadata":{"year":2024},"source":"https://www.gitam.edu/fees"}`,
			wantCode:   http.StatusOK,
			wantStatus: "completed",
		},
		{
			name:       "partial",
			ing:        &fakeIngester{rep: ingestion.Report{Chunks: 3}, err: errors.New("embedding unavailable")},
			body:       `{"title":"Fee Policy","content":"Fees are due in July."}`,
			wantCode:   http.StatusOK,
			wantStatus: "partial",
		},
		{
			name:     "store failure",
			ing:      &fakeIngester{err: errors.New("disk full")},
			body:     `{"title":"Fee Policy","content":"Fees are due in July."}`,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "missing title",
			ing:      &fakeIngester{},
			body:     `{"content":"x"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "title too long",
			ing:      &fakeIngester{},
			body:     fmt.Sprintf(`{"title":%q,"content":"x"}`, strings.Repeat("t", 201)),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty content",
			ing:      &fakeIngester{},
			body:     `{"title":"t","content":"  "}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, Backends{Ingest: tc.ing})
			w := do(t, s, http.MethodPost, "/v1/ingest", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d body: %s", tc.wantCode, w.Code, w.Body.String())
			}
			if tc.wantStatus == "" {
				decodeError(t, w)
				return
			}
			var resp ingestResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tc.wantStatus || resp.JobID == "" || resp.Message == "" {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestHandleIngest_StringifiesMetadata(t *testing.T) {
	t.Parallel()
	ing := &fakeIngester{rep: ingestion.Report{Chunks: 1}}
	s := newTestServer(t, Backends{Ingest: ing})

	w := do(t, s, http.MethodPost, "/v1/ingest", `{"title":"T","content":"a\fb","metadata":{"year":2024,"draft":false}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ing.got.Metadata["year"] != "2024" || ing.got.Metadata["draft"] != "false" {
		t.Errorf("metadata = %v", ing.got.Metadata)
	}
	if len(ing.got.Pages) != 2 {
		t.Errorf("pages = %d, want 2", len(ing.got.Pages))
	}
}

// ---------------------------------------------------------------------------
// POST /v1/feedback
// ---------------------------------------------------------------------------

func TestHandleFeedback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"ok", `{"query":"fees?","response":"Fees are due in July.","rating":5,"comments":"clear"}`, http.StatusOK},
		{"rating too low", `{"query":"fees?","response":"r","rating":0}`, http.StatusBadRequest},
		{"rating too high", `{"query":"fees?","response":"r","rating":6}`, http.StatusBadRequest},
		{"empty query", `{"query":"","response":"r","rating":3}`, http.StatusBadRequest},
		{"comments too long", fmt.Sprintf(`{"query":"q","response":"r","rating":3,"comments":%q}`, strings.Repeat("c", 1001)), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fb := &fakeFeedback{}
			s := newTestServer(t, Backends{Feedback: fb})
			w := do(t, s, http.MethodPost, "/v1/feedback", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d body: %s", tc.wantCode, w.Code, w.Body.String())
			}
			if tc.wantCode == http.StatusOK {
				if len(fb.got) != 1 || fb.got[0].Rating != 5 {
					t.Errorf("stored feedback = %+v", fb.got)
				}
				var resp feedbackResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Status != "received" {
					t.Errorf("response = %+v, %v", resp, err)
				}
			} else if len(fb.got) != 0 {
				t.Errorf("invalid feedback was stored")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestCORS(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Backends{})

	// Preflight from the local frontend.
	req := httptest.NewRequest(http.MethodOptions, "/v1/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	// Disallowed origin gets no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for disallowed origin", got)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Backends{})

	w := do(t, s, http.MethodGet, "/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want caller's id echoed", got)
	}
}
