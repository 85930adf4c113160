// Package pipeline drives a document through its staged lifecycle: intake,
// block retrieval, parsing, classification. Each stage is triggered by a queue
// message, loads its input, and merges only the fields it owns into the job
// record before emitting the next trigger.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/pamdocs/docpipe/constants"
	"github.com/pamdocs/docpipe/internal/blob"
	"github.com/pamdocs/docpipe/internal/blocks"
	"github.com/pamdocs/docpipe/internal/classify"
	"github.com/pamdocs/docpipe/internal/common"
	"github.com/pamdocs/docpipe/internal/engine"
	"github.com/pamdocs/docpipe/internal/queue"
	"github.com/pamdocs/docpipe/internal/store"
	"github.com/pamdocs/docpipe/internal/store/model"
)

// sortKeyLayout renders the creation instant the way the record store orders
// it: ISO-8601 with millisecond precision, always UTC.
const sortKeyLayout = "2006-01-02T15:04:05.000Z"

// Config is the orchestrator's behavior knobs.
type Config struct {
	// PartitionKey groups all job records under one partition.
	PartitionKey string
	// Bucket names the document store the engine reads submissions from.
	Bucket string
	// ProcessDelay defers the first stage, giving the engine time to finish.
	ProcessDelay time.Duration
	// SearchKeyFields are the normalized form keys concatenated into the
	// record's search key.
	SearchKeyFields []string
}

// Orchestrator wires the stages to their collaborators.
type Orchestrator struct {
	log        *zap.SugaredLogger
	cfg        Config
	store      store.JobStore
	blobs      *blob.Store
	engine     engine.TextEngine
	classifier classify.Classifier
	dispatch   queue.Dispatcher

	now func() time.Time
}

// New builds the orchestrator. dispatch may be bound after construction via
// SetDispatcher when the queue needs the orchestrator as its handler.
func New(log *zap.SugaredLogger, cfg Config, st store.JobStore, blobs *blob.Store,
	eng engine.TextEngine, cl classify.Classifier, dispatch queue.Dispatcher) *Orchestrator {
	return &Orchestrator{
		log:        log,
		cfg:        cfg,
		store:      st,
		blobs:      blobs,
		engine:     eng,
		classifier: cl,
		dispatch:   dispatch,
		now:        time.Now,
	}
}

// SetDispatcher late-binds the queue dispatcher.
func (o *Orchestrator) SetDispatcher(d queue.Dispatcher) { o.dispatch = d }

// SubmitRequest describes one stored document entering the pipeline.
type SubmitRequest struct {
	FileID           string `json:"fileId"`
	FileName         string `json:"fileName"`
	FileType         string `json:"fileType"`
	URL              string `json:"url"`
	OriginalFilename string `json:"originalFilename"`
}

// Submit hands the document to the recognition engine and writes the intake
// record. An accepted submission lands as PENDING and schedules the first
// stage after ProcessDelay; a refused one lands as ERROR and schedules
// nothing. Both outcomes return the created record.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.JobRecord, error) {
	if req.FileName == "" {
		return nil, fmt.Errorf("file name is required: %w", common.ErrInvalidInput)
	}
	if req.FileID == "" {
		req.FileID = uuid.New().String()
	}

	rec := &model.JobRecord{
		PartitionKey:     o.cfg.PartitionKey,
		SortKey:          o.now().UTC().Format(sortKeyLayout),
		FileID:           req.FileID,
		FileName:         req.FileName,
		FileType:         req.FileType,
		URL:              req.URL,
		OriginalFilename: req.OriginalFilename,
	}

	res, err := o.engine.Start(ctx, engine.StartRequest{Bucket: o.cfg.Bucket, FileName: req.FileName})
	switch {
	case err != nil:
		rec.CurrentStep = string(constants.StepError)
		rec.LastError = err.Error()
		o.log.Errorw("pipeline.submit.engine_error", "file_name", req.FileName, "err", err)
	case !res.Accepted:
		rec.CurrentStep = string(constants.StepError)
		rec.LastError = common.ErrIntakeRejected.Error()
		o.log.Warnw("pipeline.submit.rejected", "file_name", req.FileName)
	default:
		rec.CurrentStep = string(constants.StepPending)
		rec.ExternalJobID = res.JobID
	}

	if err := o.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	if rec.CurrentStep != string(constants.StepPending) {
		return rec, nil
	}

	msg := queue.Message{Type: queue.MessageProcessDocument, Job: queue.JobPayload{JobID: rec.ExternalJobID}}
	if err := o.dispatch.Send(ctx, msg, o.cfg.ProcessDelay); err != nil {
		// The record is already durable; the stage can be re-triggered.
		o.log.Errorw("pipeline.submit.dispatch_failed", "job_id", rec.ExternalJobID, "err", err)
		return rec, err
	}
	o.log.Infow("pipeline.submit.ok", "job_id", rec.ExternalJobID, "file_id", rec.FileID, "sk", rec.SortKey)
	return rec, nil
}

// HandleMessage routes one queue message to its stage.
func (o *Orchestrator) HandleMessage(ctx context.Context, m queue.Message) error {
	ctx = common.WithJobID(ctx, m.Job.JobID)
	switch m.Type {
	case queue.MessageProcessDocument:
		return o.OnProcessDocument(ctx, m.Job.JobID)
	case queue.MessageParseDocument:
		return o.OnParseDocument(ctx, m.Job.JobID)
	case queue.MessageRefineDocument:
		return o.OnRefineDocument(ctx, m.Job.JobID)
	}
	return fmt.Errorf("unknown message type %q: %w", m.Type, common.ErrInvalidInput)
}

// OnProcessDocument drains every result page from the engine, dumps the raw
// blocks to blob storage, and advances the record to PARTIAL:BLOCKS. A fetch
// failure on any page aborts the stage with nothing written.
func (o *Orchestrator) OnProcessDocument(ctx context.Context, jobID string) error {
	rec, err := o.store.GetByExternalJobID(ctx, jobID)
	if err != nil {
		return err
	}

	blks, err := engine.FetchAll(ctx, o.engine, jobID)
	if err != nil {
		o.log.Errorw("pipeline.process.fetch_failed", "job_id", jobID, "err", err)
		return fmt.Errorf("fetch results for %s: %w", jobID, err)
	}

	key := blocksKey(rec.FileID)
	if err := o.blobs.PutJSON(ctx, key, blks); err != nil {
		return fmt.Errorf("persist blocks for %s: %w", jobID, err)
	}

	if _, err := o.store.UpdateFields(ctx, rec.PartitionKey, rec.SortKey, map[string]any{
		model.FieldCurrentStep:    string(constants.StepBlocks),
		model.FieldBlocksLocation: key,
	}, true); err != nil {
		return err
	}

	o.log.Infow("pipeline.process.ok", "job_id", jobID, "blocks", len(blks), "key", key)
	return o.dispatch.Send(ctx, queue.Message{Type: queue.MessageParseDocument, Job: queue.JobPayload{JobID: jobID}}, 0)
}

// OnParseDocument derives form fields, tables, confidence and handwritten
// sentences from the stored blocks and advances the record to PARTIAL:PARSED.
func (o *Orchestrator) OnParseDocument(ctx context.Context, jobID string) error {
	rec, err := o.store.GetByExternalJobID(ctx, jobID)
	if err != nil {
		return err
	}

	// A redelivery that arrives after classification finished must not drag
	// the record back out of its terminal step. Explicit re-parsing stays
	// available through Reparse.
	if rec.CurrentStep == string(constants.StepClassified) {
		o.log.Infow("pipeline.parse.skipped_terminal", "job_id", jobID)
		return nil
	}

	if _, err := o.parse(ctx, rec); err != nil {
		return err
	}
	return o.dispatch.Send(ctx, queue.Message{Type: queue.MessageRefineDocument, Job: queue.JobPayload{JobID: jobID}}, 0)
}

// Reparse re-runs the parsing stage synchronously and returns the refreshed
// record. The classification fields are left untouched.
func (o *Orchestrator) Reparse(ctx context.Context, jobID string) (*model.JobRecord, error) {
	rec, err := o.store.GetByExternalJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.parse(ctx, rec)
}

func (o *Orchestrator) parse(ctx context.Context, rec *model.JobRecord) (*model.JobRecord, error) {
	if rec.BlocksLocation == "" {
		return nil, fmt.Errorf("job %s has no stored blocks: %w", rec.ExternalJobID, common.ErrInvalidInput)
	}

	var blks []blocks.Block
	if err := o.blobs.GetJSON(ctx, rec.BlocksLocation, &blks); err != nil {
		return nil, fmt.Errorf("load blocks for %s: %w", rec.ExternalJobID, err)
	}

	result := blocks.Parse(blks)
	form := mustMarshal(result.Form)
	tables := mustMarshal(result.Tables)
	handwritten := mustMarshal(result.Handwritten)

	out, err := o.store.UpdateFields(ctx, rec.PartitionKey, rec.SortKey, map[string]any{
		model.FieldForm:        datatypes.JSON(form),
		model.FieldTableData:   datatypes.JSON(tables),
		model.FieldConfidence:  result.Confidence,
		model.FieldHandwritten: datatypes.JSON(handwritten),
		model.FieldCurrentStep: string(constants.StepParsed),
	}, true)
	if err != nil {
		return nil, err
	}

	o.log.Infow("pipeline.parse.ok", "job_id", rec.ExternalJobID,
		"fields", len(result.Form), "tables", len(result.Tables),
		"confidence", result.Confidence, "handwritten", len(result.Handwritten))
	return out, nil
}

// OnRefineDocument classifies the document body and completes the record at
// PARTIAL:CLASSIFIED, the terminal step.
func (o *Orchestrator) OnRefineDocument(ctx context.Context, jobID string) error {
	rec, err := o.store.GetByExternalJobID(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.BlocksLocation == "" {
		return fmt.Errorf("job %s has no stored blocks: %w", jobID, common.ErrInvalidInput)
	}

	var blks []blocks.Block
	if err := o.blobs.GetJSON(ctx, rec.BlocksLocation, &blks); err != nil {
		return fmt.Errorf("load blocks for %s: %w", jobID, err)
	}

	cl, _, err := o.classifier.Classify(ctx, classify.Request{
		Text:         blocks.PlainText(blks),
		FilenameHint: rec.OriginalFilename,
		PagesCount:   maxPage(blks),
	})
	if err != nil {
		o.log.Errorw("pipeline.refine.classify_failed", "job_id", jobID, "err", err)
		return err
	}

	form, err := rec.DecodeForm()
	if err != nil {
		return fmt.Errorf("decode form for %s: %w", jobID, err)
	}

	if _, err := o.store.UpdateFields(ctx, rec.PartitionKey, rec.SortKey, map[string]any{
		model.FieldSummary:        cl.Summary,
		model.FieldClassification: cl.Classification,
		model.FieldCategory:       cl.Category,
		model.FieldRelevantDates:  datatypes.JSON(mustMarshal(cl.RelevantDates)),
		model.FieldContact:        datatypes.JSON(mustMarshal(cl.Contact)),
		model.FieldPagesCount:     cl.PagesCount,
		model.FieldSearchKey:      searchKey(form, o.cfg.SearchKeyFields),
		model.FieldCurrentStep:    string(constants.StepClassified),
	}, true); err != nil {
		return err
	}

	o.log.Infow("pipeline.refine.ok", "job_id", jobID, "category", cl.Category, "pages", cl.PagesCount)
	return nil
}

func blocksKey(fileID string) string {
	return fmt.Sprintf("documents/%s/%s.blocks.json", fileID, fileID)
}

// searchKey concatenates the chosen form field values, lower-cased, so simple
// substring search can find the record.
func searchKey(form map[string]string, fields []string) string {
	var parts []string
	for _, f := range fields {
		if v, ok := form[f]; ok && v != "" {
			parts = append(parts, strings.ToLower(v))
		}
	}
	return strings.Join(parts, " ")
}

func maxPage(blks []blocks.Block) int {
	pages := 0
	for i := range blks {
		if blks[i].Page > pages {
			pages = blks[i].Page
		}
	}
	if pages == 0 && len(blks) > 0 {
		pages = 1
	}
	return pages
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All inputs are marshalable types built above.
		panic(err)
	}
	return b
}
