package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vigil/internal/detection"
	"vigil/internal/history"
	"vigil/internal/media"
	"vigil/internal/report"
)

// HistoryWriter is the slice of the history store the orchestrator needs.
type HistoryWriter interface {
	Put(ctx context.Context, e history.Entry) error
	Get(ctx context.Context, jobID string) (*history.Entry, error)
}

// Orchestrator owns the job lifecycle: it accepts submissions, drives decode
// → detect → aggregate, persists terminal results and answers status
// queries. It is the only writer of job state.
type Orchestrator struct {
	decoder    *media.Decoder
	registry   *detection.Registry
	aggregator *report.Aggregator
	store      HistoryWriter
	workers    int
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

type jobState struct {
	job       Job
	cancel    context.CancelFunc
	cancelled bool
}

// New creates an orchestrator. workers bounds concurrent per-frame detector
// calls within a single job.
func New(decoder *media.Decoder, registry *detection.Registry, aggregator *report.Aggregator,
	store HistoryWriter, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		decoder:    decoder,
		registry:   registry,
		aggregator: aggregator,
		store:      store,
		workers:    workers,
		logger:     logger,
		jobs:       make(map[string]*jobState),
	}
}

// SubmitInput describes one upload to process.
type SubmitInput struct {
	SourceName string
	SourcePath string
	// Detectors selects backend variants by name; empty means all registered.
	Detectors []string
}

// Submit validates the input, creates a Pending job and starts it in the
// background. The job id is returned immediately.
func (o *Orchestrator) Submit(in SubmitInput) (*Job, error) {
	kind, err := media.KindForExt(filepath.Ext(in.SourceName))
	if err != nil {
		return nil, err
	}

	names := in.Detectors
	if len(names) == 0 {
		names = o.registry.Names()
	}
	if len(o.registry.ByNames(names)) == 0 {
		return nil, fmt.Errorf("no registered detector matches %v", names)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := Job{
		ID:         uuid.NewString(),
		SourceName: in.SourceName,
		SourcePath: in.SourcePath,
		SourceKind: kind,
		Detectors:  names,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	o.mu.Lock()
	o.jobs[job.ID] = &jobState{job: job, cancel: cancel}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(jobCtx, job.ID)
	}()

	o.logger.Info("job submitted", "job", job.ID, "source", job.SourceName, "kind", kind, "detectors", names)
	return &job, nil
}

// Status returns the current job state; terminal jobs come from the history
// store, which also carries the report for succeeded jobs.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*history.Entry, error) {
	o.mu.Lock()
	st, ok := o.jobs[jobID]
	if ok {
		job := st.job
		o.mu.Unlock()
		return &history.Entry{
			JobID:      job.ID,
			SourceName: job.SourceName,
			SourcePath: job.SourcePath,
			SourceKind: string(job.SourceKind),
			Detectors:  job.Detectors,
			Status:     string(job.Status),
			Error:      job.Error,
			CreatedAt:  job.CreatedAt,
			FinishedAt: job.FinishedAt,
		}, nil
	}
	o.mu.Unlock()
	return o.store.Get(ctx, jobID)
}

// Cancel requests cancellation of a running job. In-flight detector calls
// finish but their results are discarded and the job fails with reason
// "cancelled". Cancelling a terminal or unknown job is a no-op returning
// false.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[jobID]
	if !ok || st.job.Status.Terminal() {
		return false
	}
	st.cancelled = true
	st.cancel()
	return true
}

// Shutdown waits for in-flight jobs to reach a terminal state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID string) {
	o.setStatus(jobID, StatusRunning, "")
	started := time.Now()

	rep, err := o.process(ctx, jobID)

	if o.isCancelled(jobID) {
		rep, err = nil, errors.New(CancelReason)
	}

	elapsedMs := float64(time.Since(started)) / float64(time.Millisecond)
	if err != nil {
		o.finish(jobID, StatusFailed, err.Error(), nil, elapsedMs)
		o.logger.Error("job failed", "job", jobID, "err", err)
		return
	}
	o.finish(jobID, StatusSucceeded, "", rep, elapsedMs)
	o.logger.Info("job succeeded", "job", jobID,
		"detections", len(rep.Detections), "frames", rep.FramesProcessed, "weapon", rep.HasWeapon)
}

// process drives decode → detect → aggregate for one job. Frame detection is
// fanned out over a bounded worker group; the aggregator only runs once every
// frame has a result or a skip marker.
func (o *Orchestrator) process(ctx context.Context, jobID string) (*report.Report, error) {
	job, ok := o.snapshot(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s disappeared", jobID)
	}

	detectors := healthyOf(o.registry.ByNames(job.Detectors))
	if len(detectors) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, detection.ErrUnavailable)
	}

	src, err := o.decoder.Open(job.SourcePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var (
		resMu   sync.Mutex
		results = make(map[int]report.FrameResult)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	var decodeErr error
	frameCount := 0
	for {
		frame, err := src.Next(gctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A decode failure mid-stream aborts the job; already-dispatched
			// detections are discarded with it.
			decodeErr = err
			break
		}
		frameCount++

		g.Go(func() error {
			fr, err := o.detectFrame(gctx, detectors, frame)
			if err != nil {
				return err
			}
			resMu.Lock()
			results[frame.Index] = fr
			resMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ordered := make([]report.FrameResult, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		if fr, ok := results[i]; ok {
			ordered = append(ordered, fr)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	return o.aggregator.Aggregate(jobID, ordered), nil
}

// detectFrame runs every selected detector against one frame. A single
// detector failure is absorbed; the job only aborts when every backend is
// unavailable for the frame.
func (o *Orchestrator) detectFrame(ctx context.Context, detectors []detection.Detector, frame *media.Frame) (report.FrameResult, error) {
	fr := report.FrameResult{Index: frame.Index}

	unavailable := 0
	var lastErr error
	for _, d := range detectors {
		dets, err := d.Detect(ctx, frame)
		if err != nil {
			if errors.Is(err, detection.ErrUnavailable) {
				unavailable++
			}
			lastErr = err
			o.logger.Warn("frame detection failed", "frame", frame.Index, "detector", d.Name(), "err", err)
			continue
		}
		fr.Detections = append(fr.Detections, dets...)
	}

	if unavailable > 0 && unavailable == len(detectors) {
		return fr, fmt.Errorf("frame %d: %w", frame.Index, detection.ErrUnavailable)
	}
	if len(fr.Detections) == 0 && lastErr != nil {
		ferr := &detection.FrameError{FrameIndex: frame.Index, Err: lastErr}
		fr.SkipReason = ferr.Error()
	}
	return fr, nil
}

func healthyOf(detectors []detection.Detector) []detection.Detector {
	out := make([]detection.Detector, 0, len(detectors))
	for _, d := range detectors {
		if d.IsHealthy() {
			out = append(out, d)
		}
	}
	return out
}

func (o *Orchestrator) snapshot(jobID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return st.job, true
}

func (o *Orchestrator) isCancelled(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[jobID]
	return ok && st.cancelled
}

func (o *Orchestrator) setStatus(jobID string, status Status, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.jobs[jobID]
	if !ok || st.job.Status.Terminal() {
		return
	}
	st.job.Status = status
	st.job.Error = reason
}

// finish moves the job to a terminal state and persists it. The history
// entry carries the report only for succeeded jobs; a storage failure on a
// succeeding job demotes it to failed since the report was never durable.
func (o *Orchestrator) finish(jobID string, status Status, reason string, rep *report.Report, elapsedMs float64) {
	o.mu.Lock()
	st, ok := o.jobs[jobID]
	if !ok || st.job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	st.job.Status = status
	st.job.Error = reason
	st.job.FinishedAt = time.Now().UTC()
	job := st.job
	o.mu.Unlock()

	entry := history.Entry{
		JobID:        job.ID,
		SourceName:   job.SourceName,
		SourcePath:   job.SourcePath,
		SourceKind:   string(job.SourceKind),
		Detectors:    job.Detectors,
		Status:       string(job.Status),
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
		ProcessingMs: elapsedMs,
		Report:       rep,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Put(ctx, entry); err != nil {
		o.logger.Error("history write failed", "job", jobID, "err", err)
		if status == StatusSucceeded {
			o.mu.Lock()
			st.job.Status = StatusFailed
			st.job.Error = fmt.Sprintf("history write failed: %v", err)
			o.mu.Unlock()
			entry.Status = string(StatusFailed)
			entry.Error = st.job.Error
			entry.Report = nil
			if err := o.store.Put(ctx, entry); err == nil {
				o.forget(jobID)
			}
		}
		return
	}
	o.forget(jobID)
}

// forget drops the in-memory state once the terminal entry is durable;
// status queries are served from the store afterwards.
func (o *Orchestrator) forget(jobID string) {
	o.mu.Lock()
	delete(o.jobs, jobID)
	o.mu.Unlock()
}
