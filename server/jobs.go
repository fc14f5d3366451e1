package server

import (
	"CDEvalServer/config"
	"CDEvalServer/engine"
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"CDEvalServer/metric"
	"CDEvalServer/monitor"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	Queued  Status = "queued"
	Running Status = "running"
	Done    Status = "done"
	Failed  Status = "failed"
)

var (
	ErrQueueFull = errors.New("evaluation queue is full")
	ErrStopped   = errors.New("evaluation worker is stopped")
)

type EvalRequest struct {
	SaveImages *bool `json:"saveImages"`
	WithLoss   *bool `json:"withLoss"`
	Step       int   `json:"step"`
}

type Job struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	SaveImages bool            `json:"saveImages"`
	WithLoss   bool            `json:"withLoss"`
	Step       int             `json:"step"`
	Batches    int             `json:"batches"`
	Result     iface.MetricSet `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func (j *Job) terminal() bool {
	return j.Status == Done || j.Status == Failed
}

// Runner owns the model and evaluates queued jobs one at a time, since an
// evaluation switches the model's mode for its whole duration.
type Runner struct {
	cfg    *config.Config
	model  iface.Model
	loader iface.Loader
	writer iface.Writer
	queue  chan *Job
	mu     sync.RWMutex
	jobs   map[string]*Job
	hub    *hub
	// stopped is set once Run has drained the queue; guarded by mu
	stopped bool
}

func NewRunner(cfg *config.Config, model iface.Model, loader iface.Loader, writer iface.Writer, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Runner{
		cfg:    cfg,
		model:  model,
		loader: loader,
		writer: writer,
		queue:  make(chan *Job, queueSize),
		jobs:   make(map[string]*Job),
		hub:    newHub(),
	}
}

func (r *Runner) Submit(req EvalRequest) (Job, error) {
	job := &Job{
		ID:         uuid.New().String(),
		Status:     Queued,
		SaveImages: r.cfg.Eval.SaveImages,
		WithLoss:   r.cfg.Eval.WithLoss,
		Step:       req.Step,
		CreatedAt:  time.Now(),
	}
	if req.SaveImages != nil {
		job.SaveImages = *req.SaveImages
	}
	if req.WithLoss != nil {
		job.WithLoss = *req.WithLoss
	}
	if job.SaveImages && r.cfg.Eval.SaveImageRoot == "" {
		return Job{}, errors.New("saveImages requested but eval.saveImageRoot is not configured")
	}
	// enqueue under mu so a job cannot slip in after Run drained the queue
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return Job{}, ErrStopped
	}
	select {
	case r.queue <- job:
		r.jobs[job.ID] = job
		return *job, nil
	default:
		return Job{}, ErrQueueFull
	}
}

func (r *Runner) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run consumes the queue until ctx is done. Jobs still queued at that point
// fail with ctx.Err() and later submissions are rejected with ErrStopped.
func (r *Runner) Run(ctx context.Context) {
	log := logger.Named("runner")
	log.Info("evaluation worker started")
	for {
		select {
		case <-ctx.Done():
			n := r.drain(ctx.Err())
			log.Info("evaluation worker stopped", zap.Int("abandoned", n))
			return
		case job := <-r.queue:
			r.run(ctx, job)
		}
	}
}

func (r *Runner) drain(cause error) int {
	r.mu.Lock()
	r.stopped = true
	var pending []*Job
	// Run is the only receiver, so these receives never block
	for len(r.queue) > 0 {
		pending = append(pending, <-r.queue)
	}
	r.mu.Unlock()
	for _, job := range pending {
		r.complete(job, nil, fmt.Errorf("job abandoned on shutdown: %w", cause))
	}
	return len(pending)
}

func (r *Runner) run(ctx context.Context, job *Job) {
	log := logger.Named("runner").With(zap.String("job", job.ID))
	r.mu.Lock()
	job.Status = Running
	saveImages, withLoss, step := job.SaveImages, job.WithLoss, job.Step
	r.mu.Unlock()

	opts := engine.Options{
		Writer:     r.writer,
		Step:       step,
		SaveImages: saveImages,
		OnBatch: func(index int, ms iface.MetricSet) error {
			monitor.ObserveBatch()
			r.mu.Lock()
			job.Batches = index + 1
			r.mu.Unlock()
			r.hub.publish(job.ID, Event{Type: EventBatch, Index: index, Metrics: ms.Clone()})
			return nil
		},
	}
	if withLoss {
		opts.Loss = metric.CrossEntropy
	}

	result, err := r.evaluate(ctx, opts)
	monitor.ObserveRun(result, err)
	final := r.complete(job, result, err)
	if err != nil {
		log.Error("evaluation failed", zap.Error(err))
		return
	}
	log.Info("evaluation done", zap.Int("batches", final.Batches))
}

// complete records the job's outcome and sends watchers the final event.
func (r *Runner) complete(job *Job, result iface.MetricSet, err error) Job {
	now := time.Now()
	r.mu.Lock()
	job.FinishedAt = &now
	if err != nil {
		job.Status = Failed
		job.Error = err.Error()
	} else {
		job.Status = Done
		job.Result = result
	}
	final := *job
	r.mu.Unlock()
	r.hub.finish(job.ID, finalEvent(final))
	return final
}

// evaluate turns a panic inside the model or loader into a failed job so the
// worker keeps serving.
func (r *Runner) evaluate(ctx context.Context, opts engine.Options) (result iface.MetricSet, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluation panic: %v", rec)
		}
	}()
	return engine.Evaluate(ctx, r.model, r.loader, r.cfg, opts)
}
