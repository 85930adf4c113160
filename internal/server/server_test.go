package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocloud.dev/blob/memblob"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pamdocs/docpipe/constants"
	"github.com/pamdocs/docpipe/internal/blob"
	"github.com/pamdocs/docpipe/internal/classify"
	"github.com/pamdocs/docpipe/internal/engine"
	"github.com/pamdocs/docpipe/internal/export"
	"github.com/pamdocs/docpipe/internal/pipeline"
	"github.com/pamdocs/docpipe/internal/queue"
	"github.com/pamdocs/docpipe/internal/store"
	"github.com/pamdocs/docpipe/internal/store/model"
)

type stubEngine struct {
	result engine.StartResult
	err    error
}

func (f *stubEngine) Start(context.Context, engine.StartRequest) (engine.StartResult, error) {
	return f.result, f.err
}
func (f *stubEngine) FetchPage(context.Context, string, string) (engine.Page, error) {
	return engine.Page{}, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, classify.Request) (classify.Classification, []byte, error) {
	return classify.Classification{}, nil, nil
}

type stubDispatcher struct{ sent []queue.Message }

func (d *stubDispatcher) Send(_ context.Context, m queue.Message, _ time.Duration) error {
	d.sent = append(d.sent, m)
	return nil
}

type testApp struct {
	srv   *httptest.Server
	store store.JobStore
	eng   *stubEngine
	disp  *stubDispatcher
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zap.NewNop().Sugar()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.JobRecord{}))
	st := store.NewJobStore(db, log)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	eng := &stubEngine{result: engine.StartResult{JobID: "job-1", Accepted: true}}
	disp := &stubDispatcher{}
	orch := pipeline.New(log, pipeline.Config{
		PartitionKey:    "ocr-job",
		Bucket:          "documents",
		SearchKeyFields: []string{"name"},
	}, st, blob.NewStore(bucket, log), eng, stubClassifier{}, disp)

	s := New(log, orch, st, export.NewService(st, log), "ocr-job")
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, store: st, eng: eng, disp: disp}
}

func (a *testApp) seed(t *testing.T, sk, jobID string, step constants.Step) {
	t.Helper()
	require.NoError(t, a.store.Create(context.Background(), &model.JobRecord{
		PartitionKey:  "ocr-job",
		SortKey:       sk,
		ExternalJobID: jobID,
		CurrentStep:   string(step),
		FileName:      "scan.pdf",
	}))
}

func decodeEnvelope(t *testing.T, resp *http.Response) (json.RawMessage, string) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Data, env.Error
}

func TestSubmitEndpoint(t *testing.T) {
	app := newTestApp(t)

	body := bytes.NewBufferString(`{"fileName":"scan.pdf","fileType":"pdf","url":"https://cdn/doc"}`)
	resp, err := http.Post(app.srv.URL+"/documents", "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
		JobID   string `json:"jobId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "https://cdn/doc", out.URL)
	assert.Equal(t, "job-1", out.JobID)
	require.Len(t, app.disp.sent, 1)
}

func TestSubmitRejected(t *testing.T) {
	app := newTestApp(t)
	app.eng.result = engine.StartResult{Accepted: false}

	resp, err := http.Post(app.srv.URL+"/documents", "application/json",
		bytes.NewBufferString(`{"fileName":"weird.bin"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Empty(t, app.disp.sent)
}

func TestSubmitBadBody(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Post(app.srv.URL+"/documents", "application/json",
		bytes.NewBufferString(`{not json`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.seed(t, "2026-01-02T10:00:00.000Z", "job-7", constants.StepPending)

	resp, err := http.Get(app.srv.URL + "/documents/job-7")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, errMsg := decodeEnvelope(t, resp)
	assert.Empty(t, errMsg)
	var rec model.JobRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "job-7", rec.ExternalJobID)
}

func TestGetMissingIs404WithNullData(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.srv.URL + "/documents/ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	data, errMsg := decodeEnvelope(t, resp)
	assert.Equal(t, "null", string(data))
	assert.NotEmpty(t, errMsg)
}

func TestListEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.seed(t, "2026-01-02T10:00:00.000Z", "job-a", constants.StepPending)
	app.seed(t, "2026-01-02T11:00:00.000Z", "job-b", constants.StepClassified)

	resp, err := http.Get(app.srv.URL + "/documents?status=PARTIAL:CLASSIFIED")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, _ := decodeEnvelope(t, resp)
	var page store.Page
	require.NoError(t, json.Unmarshal(data, &page))
	require.Equal(t, 1, page.Count)
	assert.Equal(t, "job-b", page.Items[0].ExternalJobID)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.srv.URL + "/documents?status=WAITING")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCountEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.seed(t, "2026-01-02T10:00:00.000Z", "job-a", constants.StepPending)

	resp, err := http.Get(app.srv.URL + "/documents/count")
	require.NoError(t, err)

	data, _ := decodeEnvelope(t, resp)
	var out map[string]int64
	require.NoError(t, json.Unmarshal(data, &out))
	assert.EqualValues(t, 1, out["count"])
}

func TestExportEndpointHeaders(t *testing.T) {
	app := newTestApp(t)
	app.seed(t, "2026-01-02T10:00:00.000Z", "job-a", constants.StepClassified)

	resp, err := http.Get(app.srv.URL + "/documents/job-a/export")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "job-a.xlsx")
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
