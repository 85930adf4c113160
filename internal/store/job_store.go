package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/store/model"
)

const defaultPageSize = 50

type jobStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewJobStore returns the gorm-backed JobStore.
func NewJobStore(db *gorm.DB, log *zap.SugaredLogger) JobStore {
	return &jobStore{db: db, log: log}
}

func (s *jobStore) Create(ctx context.Context, rec *model.JobRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.log.Errorw("store.create.failed", "pk", rec.PartitionKey, "sk", rec.SortKey, "err", err)
		return common.NewAppError("STORE_WRITE", "create job record", errors.Join(common.ErrStoreWrite, err))
	}
	s.log.Infow("store.create.ok", "pk", rec.PartitionKey, "sk", rec.SortKey, "step", rec.CurrentStep)
	return nil
}

func (s *jobStore) Get(ctx context.Context, partitionKey, sortKey string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := s.db.WithContext(ctx).
		Where("partition_key = ? AND sort_key = ?", partitionKey, sortKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job record %s/%s: %w", partitionKey, sortKey, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *jobStore) GetByExternalJobID(ctx context.Context, jobID string) (*model.JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("empty job id: %w", common.ErrInvalidInput)
	}
	var rec model.JobRecord
	err := s.db.WithContext(ctx).
		Where("external_job_id = ?", jobID).
		Order("sort_key ASC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *jobStore) UpdateFields(ctx context.Context, partitionKey, sortKey string, fields map[string]any, mustExist bool) (*model.JobRecord, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update: %w", common.ErrInvalidInput)
	}

	if mustExist {
		if _, err := s.Get(ctx, partitionKey, sortKey); err != nil {
			return nil, err
		}
	}

	res := s.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Where("partition_key = ? AND sort_key = ?", partitionKey, sortKey).
		Updates(fields)
	if res.Error != nil {
		s.log.Errorw("store.merge.failed", "pk", partitionKey, "sk", sortKey, "err", res.Error)
		return nil, common.NewAppError("STORE_WRITE", "merge job record", errors.Join(common.ErrStoreWrite, res.Error))
	}

	rec, err := s.Get(ctx, partitionKey, sortKey)
	if err != nil {
		return nil, err
	}
	s.log.Debugw("store.merge.ok", "pk", partitionKey, "sk", sortKey, "fields", len(fields), "step", rec.CurrentStep)
	return rec, nil
}

func (s *jobStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	tx := s.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Where("partition_key = ?", q.PartitionKey)
	if q.Step != "" {
		tx = tx.Where("current_step = ?", string(q.Step))
	}

	if q.Token != "" {
		last, err := decodeToken(q.Token)
		if err != nil {
			return nil, fmt.Errorf("continuation token: %w", common.ErrInvalidInput)
		}
		if q.Descending {
			tx = tx.Where("sort_key < ?", last.SortKey)
		} else {
			tx = tx.Where("sort_key > ?", last.SortKey)
		}
	}

	order := "sort_key ASC"
	if q.Descending {
		order = "sort_key DESC"
	}

	var items []model.JobRecord
	// Fetch one extra row to learn whether another page exists.
	if err := tx.Order(order).Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, err
	}

	page := &Page{}
	if len(items) > limit {
		items = items[:limit]
		page.NextToken = encodeToken(lastKey{
			PartitionKey: items[len(items)-1].PartitionKey,
			SortKey:      items[len(items)-1].SortKey,
		})
	}
	page.Items = items
	page.Count = len(items)
	return page, nil
}

func (s *jobStore) Count(ctx context.Context, partitionKey string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.JobRecord{}).
		Where("partition_key = ?", partitionKey).
		Count(&n).Error
	return n, err
}

// lastKey is the continuation token payload: the primary key of the last row
// the previous page returned.
type lastKey struct {
	PartitionKey string `json:"pk"`
	SortKey      string `json:"sk"`
}

func encodeToken(k lastKey) string {
	b, _ := json.Marshal(k)
	return base64.URLEncoding.EncodeToString(b)
}

func decodeToken(tok string) (lastKey, error) {
	var k lastKey
	b, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		return k, err
	}
	if err := json.Unmarshal(b, &k); err != nil {
		return k, err
	}
	return k, nil
}
