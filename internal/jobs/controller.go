package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"catalog-import-service/internal/cache"
	"catalog-import-service/internal/events"
	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxErrors = 1000

	cancelledMessage   = "import cancelled by user"
	interruptedMessage = "import interrupted by service restart"
	snapshotTimeout    = 2 * time.Second
)

var errCancelled = errors.New("import cancelled")

// Catalog is the store the worker resolves categories and upserts products in.
type Catalog interface {
	importer.CategoryStore
	importer.ProductStore
}

// SnapshotStore keeps job snapshots outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, job models.ImportJob) error
	Load(ctx context.Context, jobID string) (*models.ImportJob, error)
}

// EventPublisher announces job lifecycle transitions.
type EventPublisher interface {
	PublishImportEvent(ctx context.Context, eventType string, job models.ImportJob) error
}

// Upload is a file accepted for import. Open may be called once by the
// worker; Cleanup runs when the upload is no longer needed.
type Upload struct {
	Filename    string
	Format      models.ImportFormat
	RequestedBy string
	Open        func() (io.ReadSeekCloser, error)
	Cleanup     func()
}

type Options struct {
	MaxErrors int
	Snapshots SnapshotStore
	Events    EventPublisher
}

// Controller admits uploads and runs at most one import worker at a time.
type Controller struct {
	registry  *Registry
	decoder   importer.RowDecoder
	catalog   Catalog
	snapshots SnapshotStore
	events    EventPublisher
	maxErrors int
	logger    *logrus.Entry
	wg        sync.WaitGroup
}

func NewController(registry *Registry, decoder importer.RowDecoder, catalog Catalog, opts Options, logger *logrus.Logger) *Controller {
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Controller{
		registry:  registry,
		decoder:   decoder,
		catalog:   catalog,
		snapshots: opts.Snapshots,
		events:    opts.Events,
		maxErrors: maxErrors,
		logger:    logger.WithField("component", "import-controller"),
	}
}

// Submit starts an import of upload unless one is already running, in which
// case the running job's id is returned with AlreadyActive set.
func (c *Controller) Submit(ctx context.Context, upload Upload) models.ImportSubmitResponse {
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &models.ImportJob{
		ID:          uuid.New().String(),
		Status:      models.ImportStatusPending,
		Errors:      []models.ImportRowError{},
		Filename:    upload.Filename,
		Format:      upload.Format,
		RequestedBy: upload.RequestedBy,
		CreatedAt:   time.Now().UTC(),
	}

	id, admitted := c.registry.Admit(job, cancel)
	if !admitted {
		cancel()
		if upload.Cleanup != nil {
			upload.Cleanup()
		}
		c.logger.WithField("job_id", id).Info("Import already running, returning active job")
		return models.ImportSubmitResponse{JobID: id, AlreadyActive: true}
	}

	if snapshot, ok := c.registry.Get(id); ok {
		c.mirror(ctx, snapshot)
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":   id,
		"filename": upload.Filename,
		"format":   upload.Format,
		"user_id":  upload.RequestedBy,
	}).Info("Import job admitted")

	c.wg.Add(1)
	go c.run(jobCtx, id, upload)

	return models.ImportSubmitResponse{JobID: id, AlreadyActive: false}
}

// Status returns the job snapshot, falling back to the snapshot store for
// jobs this process does not know. A stored job that never reached a final
// state belonged to a worker that no longer exists and is reported as failed.
func (c *Controller) Status(ctx context.Context, jobID string) (models.ImportJob, error) {
	if job, ok := c.registry.Get(jobID); ok {
		return job, nil
	}
	if c.snapshots == nil {
		return models.ImportJob{}, ErrJobNotFound
	}
	job, err := c.snapshots.Load(ctx, jobID)
	if errors.Is(err, cache.ErrSnapshotNotFound) {
		return models.ImportJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.ImportJob{}, err
	}
	if !job.Status.IsTerminal() {
		job.Status = models.ImportStatusError
		job.Message = interruptedMessage
	}
	return *job, nil
}

func (c *Controller) Active() models.ActiveImportResponse {
	job, ok := c.registry.Active()
	if !ok {
		return models.ActiveImportResponse{Active: false}
	}
	return models.ActiveImportResponse{Active: true, JobID: job.ID, Status: &job}
}

// Cancel asks the worker to stop before its next row.
func (c *Controller) Cancel(jobID string) error {
	if err := c.registry.RequestCancel(jobID); err != nil {
		return err
	}
	c.logger.WithField("job_id", jobID).Info("Import cancellation requested")
	return nil
}

// Shutdown cancels the running job and waits for its worker to finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.registry.CancelActive() {
		c.logger.Info("Cancelling running import for shutdown")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("import worker did not stop: %w", ctx.Err())
	}
}

// Wait blocks until no worker is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, jobID string, upload Upload) {
	defer c.wg.Done()
	if upload.Cleanup != nil {
		defer upload.Cleanup()
	}

	log := c.logger.WithField("job_id", jobID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Import worker panicked")
			c.finish(jobID, models.ImportStatusError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	err := c.process(ctx, jobID, upload)
	switch {
	case err == nil:
		c.finish(jobID, models.ImportStatusDone, "")
	case errors.Is(err, errCancelled):
		c.finish(jobID, models.ImportStatusCancelled, cancelledMessage)
	default:
		log.WithError(err).Error("Import failed")
		c.finish(jobID, models.ImportStatusError, err.Error())
	}
}

func (c *Controller) process(ctx context.Context, jobID string, upload Upload) error {
	// cancelled while still pending
	if ctx.Err() != nil {
		return errCancelled
	}

	snapshot, err := c.registry.Update(jobID, func(job *models.ImportJob) {
		now := time.Now().UTC()
		job.Status = models.ImportStatusProcessing
		job.StartedAt = &now
	})
	if err != nil {
		return err
	}
	c.mirror(ctx, snapshot)
	c.publish(events.ImportStarted, snapshot)

	file, err := upload.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer file.Close()

	if ctx.Err() != nil {
		return errCancelled
	}

	rows, err := c.decoder.Decode(file, upload.Format)
	if err != nil {
		return fmt.Errorf("failed to read %s file: %w", upload.Format, err)
	}
	defer rows.Close()

	total := rows.Total()
	if _, err := c.registry.Update(jobID, func(job *models.ImportJob) { job.TotalRows = total }); err != nil {
		return err
	}

	// A row that reached the store is allowed to commit even if cancellation
	// arrives meanwhile.
	storeCtx := context.WithoutCancel(ctx)
	resolver := importer.NewCategoryResolver(c.catalog)
	upserter := importer.NewUpserter(c.catalog)
	lastProgress := 0

	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return errCancelled
		}

		row, err := rows.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}

		created, rowErr := c.processRow(storeCtx, resolver, upserter, row)

		snapshot, err := c.registry.Update(jobID, func(job *models.ImportJob) {
			job.CurrentRow = i
			if job.TotalRows < i+1 {
				job.TotalRows = i + 1
			}
			if p := rowProgress(i, job.TotalRows); p > job.Progress {
				job.Progress = p
			}
			switch {
			case rowErr != nil:
				job.ErrorCount++
				if len(job.Errors) < c.maxErrors {
					job.Errors = append(job.Errors, *rowErr)
				}
			case created:
				job.Created++
			default:
				job.Updated++
			}
		})
		if err != nil {
			return err
		}
		if snapshot.Progress != lastProgress {
			lastProgress = snapshot.Progress
			c.mirror(ctx, snapshot)
		}
	}
}

// processRow runs one row through normalisation, category resolution,
// validation and upsert. Every failure, a panic included, becomes a row error.
func (c *Controller) processRow(ctx context.Context, resolver *importer.CategoryResolver, upserter *importer.Upserter, row importer.Row) (created bool, rowErr *models.ImportRowError) {
	normalized := importer.Normalize(row)
	key := normalized.ProductCode
	if key == "" {
		key = fmt.Sprintf("row %d", row.Number)
	}
	fail := func(code, message string) *models.ImportRowError {
		return &models.ImportRowError{Row: row.Number, Key: key, Code: code, Message: message}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{"row": row.Number, "panic": r}).Error("Import row panicked")
			created, rowErr = false, fail(models.RowErrorPanic, fmt.Sprintf("row aborted: %v", r))
		}
	}()

	categoryID, err := resolver.Resolve(ctx, normalized.Category)
	if err != nil {
		return false, fail(models.RowErrorCategory, err.Error())
	}

	input, err := importer.Validate(normalized, categoryID)
	if err != nil {
		return false, fail(models.RowErrorRequired, err.Error())
	}

	created, err = upserter.Upsert(ctx, input)
	if err != nil {
		return false, fail(models.RowErrorStore, err.Error())
	}
	return created, nil
}

func (c *Controller) finish(jobID string, status models.ImportStatus, message string) {
	snapshot, err := c.registry.Update(jobID, func(job *models.ImportJob) {
		now := time.Now().UTC()
		job.Status = status
		job.Message = message
		job.FinishedAt = &now
		if status == models.ImportStatusDone {
			job.Progress = 100
		}
	})
	if err != nil {
		c.logger.WithField("job_id", jobID).WithError(err).Warn("Could not finalize import job")
		return
	}

	c.mirror(context.Background(), snapshot)
	c.publish(events.EventTypeFor(status), snapshot)

	c.logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"status":     status,
		"created":    snapshot.Created,
		"updated":    snapshot.Updated,
		"errors":     snapshot.ErrorCount,
		"total_rows": snapshot.TotalRows,
	}).Info("Import job finished")
}

// rowProgress is the percentage after row i (zero-based) of total, kept below
// 100 until the job is done.
func rowProgress(i, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(i+1) / float64(total) * 100))
	if p > 99 {
		p = 99
	}
	return p
}

func (c *Controller) mirror(ctx context.Context, job models.ImportJob) {
	if c.snapshots == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	if err := c.snapshots.Save(saveCtx, job); err != nil {
		c.logger.WithField("job_id", job.ID).WithError(err).Warn("Failed to mirror import snapshot")
	}
}

func (c *Controller) publish(eventType string, job models.ImportJob) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishImportEvent(context.Background(), eventType, job); err != nil {
		c.logger.WithFields(logrus.Fields{
			"job_id":    job.ID,
			"eventType": eventType,
		}).WithError(err).Warn("Failed to publish import event")
	}
}
