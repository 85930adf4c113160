// Package classify derives document-level metadata (summary, classification,
// category, dates, contacts) from recognized text.
package classify

import "context"

// Classification is the normalized shape we want from the model.
type Classification struct {
	Summary        string   `json:"summary"`
	Classification string   `json:"classification"`
	Category       string   `json:"category"`
	RelevantDates  []string `json:"relevant_dates,omitempty"` // YYYY-MM-DD
	PagesCount     int      `json:"pages_count,omitempty"`
	Contact        []string `json:"contact,omitempty"`
}

// Request carries the document text and hints for classification.
type Request struct {
	Text         string
	FilenameHint string
	PagesCount   int
}

// Classifier is the interface the pipeline depends on.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Classification, []byte /*rawJSON*/, error)
}
