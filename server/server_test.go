package server

import (
	"CDEvalServer/config"
	"CDEvalServer/dataset"
	iface "CDEvalServer/interface"
	"CDEvalServer/metric"
	"CDEvalServer/model"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorgonia.org/tensor"
)

type MockWriter struct {
	tags []string
}

func (w *MockWriter) AddScalar(tag string, value float64, step int) error {
	w.tags = append(w.tags, tag)
	return nil
}

func testBatch() iface.Batch {
	return iface.Batch{
		A:  tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float32{1, 1, 0, 0})),
		B:  tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float32{0, 0, 0, 0})),
		GT: tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking([]float32{0, 0, 1, 1, 1, 1, 0, 0})),
	}
}

func newTestRunner(queueSize int) (*Runner, *MockWriter) {
	cfg := config.Default()
	cfg.Eval.Metric = []string{metric.Precision, metric.Recall}
	w := &MockWriter{}
	loader := dataset.NewMemory(testBatch(), testBatch())
	return NewRunner(cfg, model.NewDifference(0.5), loader, w, queueSize), w
}

type jobResponse struct {
	Data  Job    `json:"data"`
	WsURL string `json:"wsURL"`
	Error string `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (int, jobResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	var resp jobResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func waitJob(t *testing.T, h http.Handler, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		code, resp := doJSON(t, h, http.MethodGet, "/api/eval/"+id, "")
		job = resp.Data
		return code == http.StatusOK && job.terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, w := newTestRunner(4)
	go r.Run(ctx)
	router := NewRouter(r)

	t.Run("Test Ping", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "pong")
	})

	t.Run("Test Eval", func(t *testing.T) {
		code, resp := doJSON(t, router, http.MethodPost, "/api/eval", `{"step": 3, "withLoss": true}`)
		require.Equal(t, http.StatusAccepted, code)
		assert.NotEmpty(t, resp.Data.ID)
		assert.Contains(t, resp.WsURL, resp.Data.ID)

		job := waitJob(t, router, resp.Data.ID)
		assert.Equal(t, Done, job.Status)
		assert.Equal(t, 2, job.Batches)
		assert.Equal(t, 3, job.Step)
		assert.InDelta(t, 1.0, job.Result[metric.Precision], 1e-9)
		assert.InDelta(t, 1.0, job.Result[metric.Recall], 1e-9)
		assert.NotNil(t, job.FinishedAt)
		assert.Contains(t, w.tags, "test/loss")
	})

	t.Run("Test Eval Without Save Root", func(t *testing.T) {
		code, _ := doJSON(t, router, http.MethodPost, "/api/eval", `{"saveImages": true}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("Test Unknown Job", func(t *testing.T) {
		code, resp := doJSON(t, router, http.MethodGet, "/api/eval/nope", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "Job not found", resp.Error)
	})

	t.Run("Test Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "eval_batches_total")
	})
}

func TestRouter_QueueFull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r, _ := newTestRunner(1)
	router := NewRouter(r)
	code, _ := doJSON(t, router, http.MethodPost, "/api/eval", `{}`)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = doJSON(t, router, http.MethodPost, "/api/eval", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRunner_Failure(t *testing.T) {
	cfg := config.Default()
	r := NewRunner(cfg, model.NewDifference(0.5), dataset.NewMemory(), nil, 1)
	job, err := r.Submit(EvalRequest{})
	require.NoError(t, err)
	r.run(context.Background(), <-r.queue)
	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, Failed, got.Status)
	assert.Contains(t, got.Error, "no batches")
}

func TestRunner_Shutdown(t *testing.T) {
	r, _ := newTestRunner(4)
	first, err := r.Submit(EvalRequest{})
	require.NoError(t, err)
	second, err := r.Submit(EvalRequest{})
	require.NoError(t, err)
	events, cancelWatch := r.hub.subscribe(second.ID)
	defer cancelWatch()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	for _, id := range []string{first.ID, second.ID} {
		job, ok := r.Get(id)
		require.True(t, ok)
		assert.Equal(t, Failed, job.Status)
		assert.NotNil(t, job.FinishedAt)
	}
	// run or drained, the job fails with the cancellation
	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, EventFailed, ev.Type)
	assert.Contains(t, ev.Error, context.Canceled.Error())

	_, err = r.Submit(EvalRequest{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _ := newTestRunner(4)
	srv := httptest.NewServer(NewRouter(r))
	defer srv.Close()

	job, err := r.Submit(EvalRequest{})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/"+job.ID, nil)
	require.NoError(t, err)
	defer conn.Close()
	go r.Run(ctx)

	var last Event
	var batches int
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Type == EventBatch {
			batches++
		}
		last = ev
	}
	assert.Equal(t, EventDone, last.Type)
	assert.InDelta(t, 1.0, last.Metrics[metric.Precision], 1e-9)
	assert.LessOrEqual(t, batches, 2)

	t.Run("Test Finished Job", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/"+job.ID, nil)
		require.NoError(t, err)
		defer conn.Close()
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, EventDone, ev.Type)
	})
}

func TestHealthServer(t *testing.T) {
	s, hs, err := StartHealthServer(50061)
	require.NoError(t, err)
	defer s.GracefulStop()

	conn, err := grpc.NewClient("localhost:50061", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
