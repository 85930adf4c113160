package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pamdocs/docpipe/internal/common"
)

// HTTPEngine is the JSON-over-HTTP TextEngine client.
type HTTPEngine struct {
	cfg        common.EngineConfig
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewHTTPEngine builds the client from config.
func NewHTTPEngine(cfg common.EngineConfig, log *zap.SugaredLogger) *HTTPEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (e *HTTPEngine) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	start := time.Now()
	e.log.Infow("engine.start.request", "bucket", req.Bucket, "file_name", req.FileName)

	raw, status, err := e.post(ctx, "/jobs", req)
	if err != nil {
		// A 4xx is the engine refusing the document, not a transport fault.
		if status >= 400 && status < 500 {
			e.log.Warnw("engine.start.rejected", "file_name", req.FileName, "status", status,
				"elapsed_ms", time.Since(start).Milliseconds())
			return StartResult{Accepted: false}, nil
		}
		e.log.Errorw("engine.start.failed", "file_name", req.FileName, "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return StartResult{}, err
	}

	var res StartResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return StartResult{}, fmt.Errorf("decode start response: %w", err)
	}
	if res.JobID == "" {
		e.log.Warnw("engine.start.rejected", "file_name", req.FileName,
			"elapsed_ms", time.Since(start).Milliseconds())
		return StartResult{Accepted: false}, nil
	}
	res.Accepted = true
	e.log.Infow("engine.start.ok", "file_name", req.FileName, "job_id", res.JobID,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (e *HTTPEngine) FetchPage(ctx context.Context, jobID, nextToken string) (Page, error) {
	q := url.Values{}
	if nextToken != "" {
		q.Set("nextToken", nextToken)
	}
	endpoint := e.endpoint("/jobs/"+url.PathEscape(jobID)+"/results", q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("engine fetch: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.log.Warnw("engine.fetch.body_close_error", "err", cerr)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		e.log.Errorw("engine.fetch.failed", "job_id", jobID, "status", resp.StatusCode)
		return Page{}, fmt.Errorf("engine status %d: %s: %w", resp.StatusCode, string(raw), common.ErrEngineFetch)
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return Page{}, fmt.Errorf("decode results page: %w", err)
	}
	e.log.Debugw("engine.fetch.page", "job_id", jobID, "blocks", len(page.Blocks), "more", page.NextToken != "")
	return page, nil
}

func (e *HTTPEngine) endpoint(path string, q url.Values) string {
	u := strings.TrimRight(e.cfg.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (e *HTTPEngine) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(path, nil), bytes.NewReader(bs))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.log.Warnw("engine.post.body_close_error", "err", cerr)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("engine status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}
