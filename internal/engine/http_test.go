package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/blocks"
	"github.com/pamdocs/docpipe/internal/common"
)

func newEngine(t *testing.T, h http.HandlerFunc) *HTTPEngine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPEngine(common.EngineConfig{BaseURL: srv.URL}, zap.NewNop().Sugar())
}

func TestStartAccepted(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/jobs", r.URL.Path)
		var req StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "docs", req.Bucket)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
	})

	res, err := e.Start(context.Background(), StartRequest{Bucket: "docs", FileName: "a.pdf"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "job-1", res.JobID)
}

func TestStartRejected(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported document", http.StatusUnprocessableEntity)
	})

	res, err := e.Start(context.Background(), StartRequest{Bucket: "docs", FileName: "a.bin"})
	require.NoError(t, err, "a refusal is an outcome, not an error")
	assert.False(t, res.Accepted)
	assert.Empty(t, res.JobID)
}

func TestStartEmptyJobIDMeansRejected(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})

	res, err := e.Start(context.Background(), StartRequest{Bucket: "docs", FileName: "a.pdf"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
}

func TestStartServerError(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := e.Start(context.Background(), StartRequest{Bucket: "docs", FileName: "a.pdf"})
	assert.Error(t, err)
}

func TestFetchAllPaginates(t *testing.T) {
	text := func(s string) *blocks.Block { return &blocks.Block{Text: s} }
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/job-1/results", r.URL.Path)
		switch r.URL.Query().Get("nextToken") {
		case "":
			_ = json.NewEncoder(w).Encode(Page{Blocks: []blocks.Block{*text("one")}, NextToken: "t2"})
		case "t2":
			_ = json.NewEncoder(w).Encode(Page{Blocks: []blocks.Block{*text("two")}})
		default:
			http.Error(w, "bad token", http.StatusBadRequest)
		}
	})

	got, err := FetchAll(context.Background(), e, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "two", got[1].Text)
}

func TestFetchPageFailureIsEngineFetch(t *testing.T) {
	calls := 0
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_ = json.NewEncoder(w).Encode(Page{Blocks: []blocks.Block{{Text: "one"}}, NextToken: "t2"})
			return
		}
		http.Error(w, "still running", http.StatusConflict)
	})

	_, err := FetchAll(context.Background(), e, "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEngineFetch)
}
