// Package store implements the stage store adapter: typed reads and
// field-level merges against the durable job record.
package store

import (
	"context"

	"github.com/pamdocs/docpipe/constants"
	"github.com/pamdocs/docpipe/internal/store/model"
)

// ListQuery selects a page of job records within one partition, ordered by
// sort key (creation time).
type ListQuery struct {
	PartitionKey string
	// Step filters by current step when non-empty.
	Step constants.Step
	// Limit caps the page size; 0 means the default page size.
	Limit int
	// Token is the opaque continuation token from a previous page.
	Token string
	// Descending reverses the chronological order.
	Descending bool
}

// Page is one page of list results plus the token for the next page.
// NextToken is empty on the last page.
type Page struct {
	Items     []model.JobRecord `json:"items"`
	Count     int               `json:"count"`
	NextToken string            `json:"nextToken,omitempty"`
}

// JobStore is the record-store contract the orchestrator depends on.
// Merges are atomic per record: concurrent writers never interleave partial
// field applications within a single merge.
type JobStore interface {
	// Create inserts a brand-new job record.
	Create(ctx context.Context, rec *model.JobRecord) error

	// Get fetches a record by its primary (partition, sort) key.
	Get(ctx context.Context, partitionKey, sortKey string) (*model.JobRecord, error)

	// GetByExternalJobID resolves a record through the engine-job-id index.
	// Returns common.ErrNotFound (wrapped) when no record matches.
	GetByExternalJobID(ctx context.Context, jobID string) (*model.JobRecord, error)

	// UpdateFields applies a field-level merge: only the named columns
	// change, everything else persists. With mustExist set the merge fails
	// on a missing record instead of silently updating zero rows.
	// Returns the post-merge record.
	UpdateFields(ctx context.Context, partitionKey, sortKey string, fields map[string]any, mustExist bool) (*model.JobRecord, error)

	// List returns one chronologically ordered page of records.
	List(ctx context.Context, q ListQuery) (*Page, error)

	// Count reports the number of records in a partition.
	Count(ctx context.Context, partitionKey string) (int64, error)
}
