package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AndPuQing/gflow/pkg/clock"
	"github.com/AndPuQing/gflow/pkg/executor"
	"github.com/AndPuQing/gflow/pkg/gpu"
	"github.com/AndPuQing/gflow/pkg/logging"
	"github.com/AndPuQing/gflow/pkg/metrics"
	"github.com/AndPuQing/gflow/pkg/models"
	"github.com/AndPuQing/gflow/pkg/ratelimit"
	"github.com/AndPuQing/gflow/pkg/scheduler"
	"github.com/AndPuQing/gflow/pkg/store"
	"github.com/AndPuQing/gflow/pkg/tracing"
)

type memStore struct{ state *models.SchedulerState }

func (m *memStore) Load() (*models.SchedulerState, error) { return m.state, nil }
func (m *memStore) Save(s *models.SchedulerState) error   { m.state = s; return nil }
func (m *memStore) Status() store.Status                  { return store.StatusOK }

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	sched, err := scheduler.New(scheduler.Config{
		Store:        &memStore{state: models.NewSchedulerState()},
		Executor:     executor.NewFakeExecutor(),
		GPUProbe:     gpu.StaticProbe{IDs: []models.GPUID{0, 1}},
		Audit:        store.NoopAuditSink{},
		Clock:        clock.NewFakeClock(time.Now()),
		Logger:       logging.NewLogger(logging.ERROR, false),
		LogDir:       t.TempDir(),
		TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	tp, err := tracing.InitTracer(tracing.Config{ServiceName: "test", Enabled: false}, logging.NewLogger(logging.ERROR, false))
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	m := metrics.NewCollector(prometheus.NewRegistry())
	limiter := ratelimit.NewLimiter(1000, 1000)
	h := NewHandler(sched, logging.NewLogger(logging.ERROR, false), limiter, m, tp, func() {})

	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestSubmitAndGetJob(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/jobs", models.SubmissionRequest{Command: "train.py", GPUsRequested: 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID == 0 || resp.Name == "" {
		t.Fatalf("got empty submit response: %+v", resp)
	}

	rr = doJSON(t, r, http.MethodGet, "/jobs/"+itoa(resp.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", rr.Code, rr.Body.String())
	}
	var job models.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.State != models.JobQueued {
		t.Errorf("state = %s, want Queued", job.State)
	}
}

func TestSubmitValidationError(t *testing.T) {
	r := newTestRouter(t)
	rr := doJSON(t, r, http.MethodPost, "/jobs", models.SubmissionRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}
}

func TestGetUnknownJobIs404(t *testing.T) {
	r := newTestRouter(t)
	rr := doJSON(t, r, http.MethodGet, "/jobs/999", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestSubmitBatchSharesGroupID(t *testing.T) {
	r := newTestRouter(t)
	reqs := []models.SubmissionRequest{
		{Command: "a.py"},
		{Command: "b.py"},
	}
	rr := doJSON(t, r, http.MethodPost, "/jobs/batch", reqs)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		GroupID string `json:"group_id"`
		Jobs    []struct {
			ID   uint64 `json:"id"`
			Name string `json:"name"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.GroupID == "" {
		t.Error("expected an auto-generated group id")
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(resp.Jobs))
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)
	rr := doJSON(t, r, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSetAllowedGPUsAndListGPUs(t *testing.T) {
	r := newTestRouter(t)
	rr := doJSON(t, r, http.MethodPost, "/gpus/allowed", map[string]string{"spec": "0"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, r, http.MethodGet, "/gpus", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func itoa(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
