package parsing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Submission is the validated input for a new parsing job.
type Submission struct {
	Data        []byte
	SourceName  string
	ContentType string
	PagePrefix  string
	PageSuffix  string
}

// DefaultPageDelimiter wraps each page's extracted text when the caller
// doesn't supply delimiters.
const DefaultPageDelimiter = "\n---\n"

// Driver owns the job lifecycle: it creates records, runs the pipeline in
// the background and applies every state transition exactly once.
type Driver struct {
	store      Store
	rasterizer Rasterizer
	pipeline   *Pipeline
	logger     *logrus.Logger

	// background tracks in-flight processing goroutines so tests and
	// shutdown can wait for them.
	background sync.WaitGroup
}

// NewDriver wires the parsing components together.
func NewDriver(store Store, rasterizer Rasterizer, pipeline *Pipeline, logger *logrus.Logger) *Driver {
	return &Driver{
		store:      store,
		rasterizer: rasterizer,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Submit validates the submission, stores a PENDING job and schedules
// processing. It returns the stored job immediately; submission latency is
// independent of document length.
func (d *Driver) Submit(ctx context.Context, sub Submission) (Job, error) {
	if len(sub.Data) == 0 {
		return Job{}, ErrValidation
	}

	if sub.PagePrefix == "" {
		sub.PagePrefix = DefaultPageDelimiter
	}
	if sub.PageSuffix == "" {
		sub.PageSuffix = DefaultPageDelimiter
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		SourceName:  sub.SourceName,
		ContentType: sub.ContentType,
		PagePrefix:  sub.PagePrefix,
		PageSuffix:  sub.PageSuffix,
		source:      sub.Data,
	}

	if err := d.store.Put(job); err != nil {
		return Job{}, err
	}

	d.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"file":   job.SourceName,
		"bytes":  len(sub.Data),
	}).Info("Created parsing job")

	// Processing runs independently of the calling request; the submitter
	// polls the job endpoints for progress.
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		d.process(context.WithoutCancel(ctx), job.ID, sub)
	}()

	return *job, nil
}

// Wait blocks until all in-flight jobs have reached a terminal state.
func (d *Driver) Wait() {
	d.background.Wait()
}

// process drives one job from PENDING to a terminal state. Each transition
// is applied through the store exactly once; terminal states are never
// revisited.
func (d *Driver) process(ctx context.Context, jobID string, sub Submission) {
	logger := d.logger.WithField("job_id", jobID)

	if err := d.store.Update(jobID, func(job *Job) {
		job.Status = StatusProcessing
	}); err != nil {
		logger.WithError(err).Error("Job vanished before processing started")
		return
	}

	pages, err := d.rasterizer.Rasterize(ctx, sub.Data)
	if err != nil {
		d.fail(jobID, err)
		return
	}

	document, err := d.pipeline.Run(ctx, pages, sub.PagePrefix, sub.PageSuffix)
	if err != nil {
		d.fail(jobID, err)
		return
	}

	if err := d.store.Update(jobID, func(job *Job) {
		job.Status = StatusSuccess
		job.Result = document
		job.source = nil
	}); err != nil {
		logger.WithError(err).Error("Failed to record job result")
		return
	}

	logger.WithField("chars", len(document)).Info("Parsing job succeeded")
}

// fail records a terminal failure with a message describing the cause.
func (d *Driver) fail(jobID string, cause error) {
	message := cause.Error()
	if errors.Is(cause, ErrEmptyDocument) {
		message = "PDF processing returned empty content"
	}

	if err := d.store.Update(jobID, func(job *Job) {
		job.Status = StatusFailed
		job.Error = message
		job.source = nil
	}); err != nil {
		d.logger.WithError(err).WithField("job_id", jobID).Error("Failed to record job failure")
		return
	}

	d.logger.WithField("job_id", jobID).WithField("error", message).Warn("Parsing job failed")
}
