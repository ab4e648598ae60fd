package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/metrics"
	"github.com/corpuslabs/corpusd/internal/ollama"
	"github.com/corpuslabs/corpusd/internal/pipeline"
	"github.com/corpuslabs/corpusd/internal/retrieval"
	"github.com/corpuslabs/corpusd/internal/store"
	"github.com/corpuslabs/corpusd/internal/vecstore"
)

type fakeQueue struct {
	jobs []pipeline.Job
	err  error
}

func (f *fakeQueue) Enqueue(job pipeline.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeSearcher struct {
	results []retrieval.Candidate
	err     error
	lastQ   string
}

func (f *fakeSearcher) Search(_ context.Context, query, _ string) ([]retrieval.Candidate, error) {
	f.lastQ = query
	return f.results, f.err
}

func (f *fakeSearcher) BuildContext(candidates []retrieval.Candidate) string {
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

type fakeGenerator struct {
	answer     string
	err        error
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.answer, f.err
}

type fakeVectors struct {
	deleted []string
}

func (f *fakeVectors) AddChunks(context.Context, string, []vecstore.Record) error { return nil }
func (f *fakeVectors) Close() error                                               { return nil }
func (f *fakeVectors) Search(context.Context, string, []float32, int) ([]vecstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteDocument(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fixture struct {
	server   *Server
	docs     *store.Store
	queue    *fakeQueue
	searcher *fakeSearcher
	gen      *fakeGenerator
	vectors  *fakeVectors
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Ingest.UploadDir = t.TempDir()
	cfg.Ingest.MaxFileSize = 1 << 20

	docs, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	f := &fixture{
		docs:     docs,
		queue:    &fakeQueue{},
		searcher: &fakeSearcher{},
		gen:      &fakeGenerator{answer: "the answer"},
		vectors:  &fakeVectors{},
	}
	f.server, err = NewServer(cfg, docs, f.vectors, f.queue, f.searcher, f.gen, reg, zap.NewNop())
	require.NoError(t, err)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set(echoContentType, writer.FormDataContentType())
	return req
}

const echoContentType = "Content-Type"

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "corpusd_")
}

func TestUploadAcceptsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartUpload(t, "notes.txt", "some text"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp.Filename)
	assert.Equal(t, store.StatusProcessing, resp.Status)

	doc, err := f.docs.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.FileExists(t, doc.FilePath)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, resp.ID, f.queue.jobs[0].DocumentID)
	assert.Equal(t, doc.FilePath, f.queue.jobs[0].Path)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartUpload(t, "binary.exe", "MZ"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t)
	f.server.cfg.Ingest.MaxFileSize = 4
	rec := f.do(multipartUpload(t, "big.txt", "way past four bytes"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadQueueFullRollsBack(t *testing.T) {
	f := newFixture(t)
	f.queue.err = pipeline.ErrQueueFull

	rec := f.do(multipartUpload(t, "notes.txt", "some text"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	docs, err := f.docs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs, "record rolled back when the job is rejected")
}

func TestGetDocumentNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndGetDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := &store.Document{ID: uuid.NewString(), Filename: "a.txt", FilePath: "/tmp/a.txt", Format: ".txt"}
	require.NoError(t, f.docs.Create(ctx, doc))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, doc.ID, list[0].ID)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteDocumentCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.server.cfg.Ingest.UploadDir + "/doomed.txt"
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	doc := &store.Document{ID: uuid.NewString(), Filename: "doomed.txt", FilePath: path, Format: ".txt"}
	require.NoError(t, f.docs.Create(ctx, doc))

	rec := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := f.docs.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{doc.ID}, f.vectors.deleted)
	assert.NoFileExists(t, path)

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchReturnsResults(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = []retrieval.Candidate{
		{ChunkID: "c1", Text: "first", Similarity: 0.9},
		{ChunkID: "c2", Text: "second", Similarity: 0.6},
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/search?q=revenue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "revenue", resp.Query)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "revenue", f.searcher.lastQ)
}

func TestSearchTopKClampsResults(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = []retrieval.Candidate{
		{ChunkID: "c1"}, {ChunkID: "c2"}, {ChunkID: "c3"},
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/search?q=x&top_k=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/search?q=x&top_k=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUnknownDocument(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/search?q=x&document_id="+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func askRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	return req
}

func TestAskAnswersWithSources(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = []retrieval.Candidate{{ChunkID: "c1", Text: "revenue grew 12%", PageNumber: 3}}

	rec := f.do(askRequest(t, `{"question":"how did revenue change?"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the answer", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Contains(t, f.gen.lastPrompt, "revenue grew 12%")
	assert.Contains(t, f.gen.lastPrompt, "how did revenue change?")
}

func TestAskWithoutMatchesSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	rec := f.do(askRequest(t, `{"question":"anything?"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, noContextAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, f.gen.lastPrompt)
}

func TestAskRequiresQuestion(t *testing.T) {
	f := newFixture(t)
	rec := f.do(askRequest(t, `{"document_id":"abc"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"model missing", fmt.Errorf("embed: %w", ollama.ErrModelNotFound), http.StatusServiceUnavailable},
		{"unavailable", fmt.Errorf("embed: %w", ollama.ErrUnavailable), http.StatusServiceUnavailable},
		{"bad request", fmt.Errorf("embed: %w", ollama.ErrBadRequest), http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.searcher.err = tt.err
			rec := f.do(httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
