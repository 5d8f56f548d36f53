package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/monitoring"
	"github.com/cinecard/cinecard/internal/refresh"
)

type fakeIngester struct {
	result *ingest.Result
	err    error

	ingestCalls []ingestRequest
	cardCalls   []int64
}

func (f *fakeIngester) Ingest(_ context.Context, externalID int64, force bool) (*ingest.Result, error) {
	f.ingestCalls = append(f.ingestCalls, ingestRequest{ExternalID: externalID, ForceRefresh: force})
	return f.result, f.err
}

func (f *fakeIngester) GetCard(_ context.Context, externalID int64) (*ingest.Result, error) {
	f.cardCalls = append(f.cardCalls, externalID)
	return f.result, f.err
}

type discoveryCall struct {
	source  discovery.Source
	maxNew  int
	trigger model.RunTrigger
}

type fakeDiscovery struct {
	calls []discoveryCall
	run   *model.IngestionRunLog
	err   error
}

func (f *fakeDiscovery) Run(_ context.Context, source discovery.Source, maxNew int, trigger model.RunTrigger) (*model.IngestionRunLog, error) {
	f.calls = append(f.calls, discoveryCall{source, maxNew, trigger})
	return f.run, f.err
}

type fakeBatch struct {
	res *refresh.BatchResult
	err error
}

func (f *fakeBatch) RunBatch(context.Context) (*refresh.BatchResult, error) { return f.res, f.err }

type fakeStats struct {
	lookback int
	err      error
}

func (f *fakeStats) Collect(_ context.Context, lookbackHours int) (*monitoring.Snapshot, error) {
	f.lookback = lookbackHours
	if f.err != nil {
		return nil, f.err
	}
	return &monitoring.Snapshot{QueueDepth: 4, LookbackHours: lookbackHours}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type harness struct {
	ing   *fakeIngester
	disc  *fakeDiscovery
	batch *fakeBatch
	stats *fakeStats
	srv   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ing: &fakeIngester{result: &ingest.Result{
			Status:     ingest.StatusCached,
			WorkID:     "w-1",
			ExternalID: 27205,
			Card:       json.RawMessage(`{"title":"Inception"}`),
			ETag:       "abc123",
		}},
		disc:  &fakeDiscovery{run: &model.IngestionRunLog{ID: "run-1", Source: "all", Ingested: 2}},
		batch: &fakeBatch{res: &refresh.BatchResult{Processed: 3, Succeeded: 2, Failed: 1}},
		stats: &fakeStats{},
	}
	h.srv = NewServer(Deps{
		Ingester:  h.ing,
		Discovery: h.disc,
		Refresh:   h.batch,
		Stats:     h.stats,
		Store:     fakePinger{},
	}, Options{}).Handler()
	return h
}

func (h *harness) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	srv := NewServer(Deps{Store: fakePinger{err: eris.New("conn refused")}}, Options{}).Handler()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngest(t *testing.T) {
	h := newHarness(t)
	h.ing.result.Status = ingest.StatusIngested

	rec := h.do(http.MethodPost, "/ingest", `{"external_id":27205,"force_refresh":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, "ingested", body["status"])
	assert.Equal(t, "w-1", body["work_id"])
	require.Len(t, h.ing.ingestCalls, 1)
	assert.Equal(t, ingestRequest{ExternalID: 27205, ForceRefresh: true}, h.ing.ingestCalls[0])
}

func TestIngest_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{}`},
		{"negative id", `{"external_id":-1}`},
		{"malformed", `{"external_id":`},
		{"unknown field", `{"external_id":1,"bogus":true}`},
		{"string id", `{"external_id":"27205"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPost, "/ingest", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", decode(t, rec)["status"])
			assert.Empty(t, h.ing.ingestCalls)
		})
	}
}

func TestIngest_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"in progress", ingest.ErrInProgress, http.StatusConflict},
		{"wrapped in progress", eris.Wrap(ingest.ErrInProgress, "outer"), http.StatusConflict},
		{"not found", ingest.ErrNotFound, http.StatusNotFound},
		{"provider failure", eris.New("tmdb: /movie/1 returned status 500"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ing.result, h.ing.err = nil, tt.err

			rec := h.do(http.MethodPost, "/ingest", `{"external_id":1}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "error", decode(t, rec)["status"])
		})
	}
}

func TestIngest_InProgressAdvertisesRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.ing.result, h.ing.err = nil, ingest.ErrInProgress

	rec := h.do(http.MethodPost, "/ingest", `{"external_id":1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 5, decode(t, rec)["retry_after"])
}

func TestCard_Post(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/card", `{"external_id":27205}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"abc123"`, rec.Header().Get("ETag"))

	body := decode(t, rec)
	assert.Equal(t, "cached", body["status"])
	assert.Equal(t, map[string]any{"title": "Inception"}, body["card"])
	assert.Equal(t, []int64{27205}, h.ing.cardCalls)
}

func TestCard_Get(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/cards/27205", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{27205}, h.ing.cardCalls)
}

func TestCard_GetNotModified(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/cards/27205", "", "If-None-Match", `"abc123"`)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = h.do(http.MethodGet, "/cards/27205", "", "If-None-Match", `W/"other", W/"abc123"`)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = h.do(http.MethodGet, "/cards/27205", "", "If-None-Match", `"stale"`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCard_GetInvalidID(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/cards/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/cards/0", "").Code)
	assert.Empty(t, h.ing.cardCalls)
}

func TestDiscovery_Defaults(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/discovery/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	run, ok := body["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", run["id"])

	require.Len(t, h.disc.calls, 1)
	assert.Equal(t, discoveryCall{discovery.SourceAll, 0, model.TriggerAPI}, h.disc.calls[0])
}

func TestDiscovery_ExplicitParams(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/discovery/run", `{"source":"Trending","max_new":7,"trigger":"scheduled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, discoveryCall{discovery.SourceTrending, 7, model.TriggerScheduled}, h.disc.calls[0])
}

func TestDiscovery_BadParams(t *testing.T) {
	for _, body := range []string{
		`{"source":"upcoming"}`,
		`{"trigger":"cron"}`,
		`{"max_new":-3}`,
	} {
		h := newHarness(t)
		rec := h.do(http.MethodPost, "/discovery/run", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Empty(t, h.disc.calls)
	}
}

func TestDiscovery_RunErrorIncludesRun(t *testing.T) {
	h := newHarness(t)
	h.disc.err = eris.New("discovery: lookup existing ids")

	rec := h.do(http.MethodPost, "/discovery/run", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.NotNil(t, body["run"])
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/refresh/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	result := body["result"].(map[string]any)
	assert.EqualValues(t, 3, result["processed"])
	assert.EqualValues(t, 1, result["failed"])
}

func TestRefresh_Error(t *testing.T) {
	h := newHarness(t)
	h.batch.res, h.batch.err = nil, eris.New("refresh: claim items")
	rec := h.do(http.MethodPost, "/refresh/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/stats?lookback_hours=6", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, h.stats.lookback)

	stats := decode(t, rec)["stats"].(map[string]any)
	assert.EqualValues(t, 4, stats["queue_depth"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/stats?lookback_hours=x", "").Code)
}

func TestStats_DefaultLookback(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/stats", "")
	assert.Equal(t, 24, h.stats.lookback)
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(Deps{}, Options{CORSOrigins: []string{"https://app.example"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/ingest", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEtagMatches(t *testing.T) {
	assert.False(t, etagMatches("", `"a"`))
	assert.True(t, etagMatches("*", `"a"`))
	assert.True(t, etagMatches(`"a"`, `"a"`))
	assert.True(t, etagMatches(`"b", W/"a"`, `"a"`))
	assert.False(t, etagMatches(`"b"`, `"a"`))
}

func TestAssets(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/works/27205/poster_w342.jpg", []byte("jpegdata"), 0o644))

	srv := NewServer(Deps{}, Options{Assets: fs}).Handler()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/works/27205/poster_w342.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpegdata", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/works/1/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
