// Package engine talks to the asynchronous text-recognition service: submit a
// stored document, then page through the block results once the job finishes.
package engine

import (
	"context"

	"github.com/pamdocs/docpipe/internal/blocks"
)

// StartRequest names the stored document to recognize.
type StartRequest struct {
	Bucket   string `json:"bucket"`
	FileName string `json:"fileName"`
}

// StartResult is the engine's answer to a submission. Accepted is false when
// the engine refused the document; JobID is empty in that case.
type StartResult struct {
	JobID    string `json:"jobId"`
	Accepted bool   `json:"accepted"`
}

// Page is one page of recognition results. NextToken is empty on the last
// page.
type Page struct {
	Blocks    []blocks.Block `json:"blocks"`
	NextToken string         `json:"nextToken"`
}

// TextEngine is the recognition-engine contract the pipeline depends on.
type TextEngine interface {
	// Start submits a document for asynchronous recognition.
	Start(ctx context.Context, req StartRequest) (StartResult, error)

	// FetchPage retrieves one page of results for a finished job. Pass the
	// previous page's NextToken to continue; empty for the first page.
	FetchPage(ctx context.Context, jobID, nextToken string) (Page, error)
}

// FetchAll drains every result page for a job. Any page failure aborts the
// whole fetch with no partial result.
func FetchAll(ctx context.Context, e TextEngine, jobID string) ([]blocks.Block, error) {
	var all []blocks.Block
	token := ""
	for {
		page, err := e.FetchPage(ctx, jobID, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Blocks...)
		if page.NextToken == "" {
			return all, nil
		}
		token = page.NextToken
	}
}
