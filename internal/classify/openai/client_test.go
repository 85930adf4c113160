package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/classify"
	"github.com/pamdocs/docpipe/internal/common"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop().Sugar())
}

func TestClassifyOK(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(chatResponse(
			`{"summary":"A lease for a flat.","classification":"lease agreement","category":"legal","relevant_dates":["2026-09-01"],"contact":["Alex Ltd"]}`))
	})

	out, raw, err := c.Classify(context.Background(), classify.Request{Text: "LEASE AGREEMENT ...", PagesCount: 4})
	require.NoError(t, err)
	assert.Equal(t, "legal", out.Category)
	assert.Equal(t, []string{"2026-09-01"}, out.RelevantDates)
	assert.Equal(t, 4, out.PagesCount, "pages fall back to the request hint")
	assert.NotEmpty(t, raw)
}

func TestClassifyLenientSanitize(t *testing.T) {
	// Unknown category plus an extra key: strict validation fails, the
	// sanitize pass coerces the document into shape.
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse(
			`{"summary":"s","classification":"memo","category":"Paperwork","confidence":0.4}`))
	})

	out, _, err := c.Classify(context.Background(), classify.Request{Text: "..."})
	require.NoError(t, err)
	assert.Equal(t, "other", out.Category)
}

func TestClassifyInvalidAfterSanitize(t *testing.T) {
	// Missing required field survives sanitize; the stage must fail.
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse(`{"category":"legal"}`))
	})

	_, _, err := c.Classify(context.Background(), classify.Request{Text: "..."})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrClassification)
}

func TestClassifyHTTPFailure(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, _, err := c.Classify(context.Background(), classify.Request{Text: "..."})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrClassification)
}

func TestClassifyNoChoices(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, _, err := c.Classify(context.Background(), classify.Request{Text: "..."})
	assert.ErrorIs(t, err, common.ErrClassification)
}
