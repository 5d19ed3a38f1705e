package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"catalog-import-service/internal/events"
	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(catalog Catalog, opts Options) *Controller {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewController(NewRegistry(), importer.NewFileDecoder(), catalog, opts, logger)
}

func runToCompletion(t *testing.T, c *Controller, upload Upload) models.ImportJob {
	t.Helper()
	resp := c.Submit(context.Background(), upload)
	require.False(t, resp.AlreadyActive)
	c.Wait()
	job, err := c.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	return job
}

func TestController_ThreeRowScenario(t *testing.T) {
	catalog := newMemoryCatalog()
	existing := "4006381333931"
	require.NoError(t, catalog.CreateProduct(context.Background(), &models.Product{
		ProductCode: "P-3",
		Title:       "Gomma",
		EAN:         &existing,
		Stock:       1,
		Price:       0.8,
	}, 1))

	content := "CODICE PRODOTTO;TITOLO;PREZZO;STOCK;CATEGORIA\n" +
		"P-1;Penna;1,50;10;Cancelleria\n" +
		"P-2;Matita;;5;Cancelleria\n" +
		"P-3;Gomma;0,80;42;Cancelleria\n"

	c := newTestController(catalog, Options{})
	job := runToCompletion(t, c, csvUpload(content))

	assert.Equal(t, models.ImportStatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Created)
	assert.Equal(t, 1, job.Updated)
	assert.Equal(t, 2, job.CurrentRow)
	assert.Equal(t, 3, job.TotalRows)
	assert.Empty(t, job.Message)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "P-2", job.Errors[0].Key)
	assert.Equal(t, models.RowErrorRequired, job.Errors[0].Code)
	assert.Contains(t, job.Errors[0].Message, "price")
	assert.Equal(t, 1, job.ErrorCount)

	updated, ok := catalog.product("P-3")
	require.True(t, ok)
	assert.Equal(t, 42, updated.Stock)
	assert.Nil(t, updated.EAN, "empty optional columns clear the stored value")

	created, ok := catalog.product("P-1")
	require.True(t, ok)
	assert.Equal(t, 1.5, created.Price)

	_, ok = catalog.product("P-2")
	assert.False(t, ok)
}

func TestController_SecondRunUpdatesEverything(t *testing.T) {
	catalog := newMemoryCatalog()
	c := newTestController(catalog, Options{})
	content := csvRows(25)

	first := runToCompletion(t, c, csvUpload(content))
	assert.Equal(t, 25, first.Created)
	assert.Equal(t, 0, first.Updated)

	second := runToCompletion(t, c, csvUpload(content))
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 25, second.Updated)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 1, catalog.categoryCount(), "category resolved by name is created once")
}

func TestController_SingleActiveJobUnderConcurrentSubmits(t *testing.T) {
	release := make(chan struct{})
	catalog := newMemoryCatalog()
	catalog.beforeUpsert = func(string) { <-release }
	c := newTestController(catalog, Options{})

	var cleanups atomic.Int32
	const submitters = 20
	responses := make([]models.ImportSubmitResponse, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			upload := csvUpload(csvRows(3))
			upload.Cleanup = func() { cleanups.Add(1) }
			responses[i] = c.Submit(context.Background(), upload)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, resp := range responses {
		if !resp.AlreadyActive {
			admitted++
		}
		assert.Equal(t, responses[0].JobID, resp.JobID)
	}
	assert.Equal(t, 1, admitted)

	active := c.Active()
	assert.True(t, active.Active)
	assert.Equal(t, responses[0].JobID, active.JobID)
	require.NotNil(t, active.Status)
	assert.True(t, active.Status.Status.IsActive())

	close(release)
	c.Wait()

	assert.Equal(t, int32(submitters), cleanups.Load(), "every upload is cleaned up exactly once")
	assert.False(t, c.Active().Active)

	next := c.Submit(context.Background(), csvUpload(csvRows(1)))
	assert.False(t, next.AlreadyActive, "slot is free after the job ends")
	c.Wait()
}

func TestController_CancelStopsBeforeNextRow(t *testing.T) {
	entered := make(chan string, 10)
	release := make(chan struct{})
	catalog := newMemoryCatalog()
	catalog.beforeUpsert = func(code string) {
		entered <- code
		<-release
	}
	recorder := &recordingEvents{}
	c := newTestController(catalog, Options{Events: recorder})

	resp := c.Submit(context.Background(), csvUpload(csvRows(5)))
	assert.Equal(t, "P-1", <-entered)

	require.NoError(t, c.Cancel(resp.JobID))

	job, err := c.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusProcessing, job.Status, "cancel only records the intent")

	close(release)
	c.Wait()

	job, err = c.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, job.Status)
	assert.Equal(t, "import cancelled by user", job.Message)
	assert.Equal(t, 1, job.Created, "row already in the store commits")
	assert.Equal(t, 0, job.CurrentRow)
	assert.Less(t, job.Progress, 100)
	assert.LessOrEqual(t, job.Created+job.Updated+len(job.Errors), job.CurrentRow+1)
	assert.Len(t, entered, 0, "no further rows reach the store")

	_, ok := catalog.product("P-2")
	assert.False(t, ok)

	assert.ErrorIs(t, c.Cancel(resp.JobID), ErrJobNotCancellable)
	assert.ErrorIs(t, c.Cancel("missing"), ErrJobNotFound)
	assert.Equal(t, []string{events.ImportStarted, events.ImportCancelled}, recorder.published())
}

func TestController_ProgressIsMonotonic(t *testing.T) {
	snapshots := newRecordingSnapshots()
	c := newTestController(newMemoryCatalog(), Options{Snapshots: snapshots})

	job := runToCompletion(t, c, csvUpload(csvRows(250)))
	assert.Equal(t, models.ImportStatusDone, job.Status)

	history := snapshots.history()
	require.NotEmpty(t, history)
	last := 0
	for _, snap := range history {
		assert.GreaterOrEqual(t, snap.Progress, last)
		if snap.Status != models.ImportStatusDone {
			assert.LessOrEqual(t, snap.Progress, 99)
		}
		assert.LessOrEqual(t, snap.Created+snap.Updated+len(snap.Errors), snap.CurrentRow+1)
		last = snap.Progress
	}
	assert.Equal(t, models.ImportStatusPending, history[0].Status)
	assert.Equal(t, models.ImportStatusDone, history[len(history)-1].Status)
	assert.Equal(t, 100, history[len(history)-1].Progress)
}

func TestController_RowFailuresDoNotAbortTheBatch(t *testing.T) {
	catalog := newMemoryCatalog()
	catalog.failCodes["P-2"] = errStoreDown
	catalog.beforeUpsert = func(code string) {
		if code == "P-4" {
			panic("unexpected nil pointer")
		}
	}
	c := newTestController(catalog, Options{})

	job := runToCompletion(t, c, csvUpload(csvRows(5)))

	assert.Equal(t, models.ImportStatusDone, job.Status)
	assert.Equal(t, 3, job.Created)
	require.Len(t, job.Errors, 2)
	assert.Equal(t, "P-2", job.Errors[0].Key)
	assert.Equal(t, models.RowErrorStore, job.Errors[0].Code)
	assert.Contains(t, job.Errors[0].Message, errStoreDown.Error())
	assert.Equal(t, "P-4", job.Errors[1].Key)
	assert.Equal(t, models.RowErrorPanic, job.Errors[1].Code)
	assert.Equal(t, 5, job.Errors[1].Row)
}

func TestController_MissingKeyUsesRowNumber(t *testing.T) {
	c := newTestController(newMemoryCatalog(), Options{})
	content := "codiceProdotto,titolo,prezzo,stock,categoria\n,Senza codice,1.00,1,Varie\n"

	job := runToCompletion(t, c, csvUpload(content))

	require.Len(t, job.Errors, 1)
	assert.Equal(t, "row 2", job.Errors[0].Key)
	assert.Contains(t, job.Errors[0].Message, "productCode")
}

func TestController_ErrorListIsCapped(t *testing.T) {
	c := newTestController(newMemoryCatalog(), Options{MaxErrors: 2})
	content := "codiceProdotto;titolo\nA;a\nB;b\nC;c\nD;d\nE;e\n"

	job := runToCompletion(t, c, csvUpload(content))

	assert.Equal(t, models.ImportStatusDone, job.Status)
	assert.Len(t, job.Errors, 2)
	assert.Equal(t, 5, job.ErrorCount)
}

func TestController_UndecodableFileFailsTheJob(t *testing.T) {
	recorder := &recordingEvents{}
	c := newTestController(newMemoryCatalog(), Options{Events: recorder})
	upload := csvUpload("this is not a spreadsheet")
	upload.Filename = "products.xlsx"
	upload.Format = models.ImportFormatXLSX

	job := runToCompletion(t, c, upload)

	assert.Equal(t, models.ImportStatusError, job.Status)
	assert.Contains(t, job.Message, "failed to read xlsx file")
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, []string{events.ImportStarted, events.ImportFailed}, recorder.published())
	assert.False(t, c.Active().Active)
}

func TestController_OpenFailureFailsTheJob(t *testing.T) {
	c := newTestController(newMemoryCatalog(), Options{})
	upload := csvUpload("")
	upload.Open = func() (io.ReadSeekCloser, error) { return nil, errors.New("spool file missing") }

	job := runToCompletion(t, c, upload)

	assert.Equal(t, models.ImportStatusError, job.Status)
	assert.Contains(t, job.Message, "spool file missing")
}

func TestController_HeaderOnlyFileCompletes(t *testing.T) {
	c := newTestController(newMemoryCatalog(), Options{})

	job := runToCompletion(t, c, csvUpload("codiceProdotto;titolo;prezzo;stock;categoria\n"))

	assert.Equal(t, models.ImportStatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 0, job.TotalRows)
}

func TestController_StatusFallsBackToSnapshots(t *testing.T) {
	snapshots := newRecordingSnapshots()
	require.NoError(t, snapshots.Save(context.Background(), models.ImportJob{
		ID:       "from-previous-run",
		Status:   models.ImportStatusDone,
		Progress: 100,
	}))
	c := newTestController(newMemoryCatalog(), Options{Snapshots: snapshots})

	job, err := c.Status(context.Background(), "from-previous-run")
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusDone, job.Status)

	_, err = c.Status(context.Background(), "never-seen")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestController_StatusWithoutSnapshotStore(t *testing.T) {
	c := newTestController(newMemoryCatalog(), Options{})

	_, err := c.Status(context.Background(), "never-seen")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestController_StatusReportsInterruptedJobs(t *testing.T) {
	snapshots := newRecordingSnapshots()
	entered := make(chan string, 10)
	release := make(chan struct{})
	catalog := newMemoryCatalog()
	catalog.beforeUpsert = func(code string) {
		entered <- code
		<-release
	}
	first := newTestController(catalog, Options{Snapshots: snapshots})

	resp := first.Submit(context.Background(), csvUpload(csvRows(3)))
	assert.Equal(t, "P-1", <-entered)

	// a second process sharing the snapshot store
	restarted := newTestController(newMemoryCatalog(), Options{Snapshots: snapshots})
	assert.False(t, restarted.Active().Active)

	job, err := restarted.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusError, job.Status)
	assert.Equal(t, "import interrupted by service restart", job.Message)

	live, err := first.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusProcessing, live.Status)

	close(release)
	first.Wait()

	job, err = restarted.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusDone, job.Status)
	assert.Empty(t, job.Message)
}

func TestController_CancelBeforeFirstRow(t *testing.T) {
	opening := make(chan struct{})
	proceed := make(chan struct{})
	upload := csvUpload(csvRows(3))
	open := upload.Open
	upload.Open = func() (io.ReadSeekCloser, error) {
		close(opening)
		<-proceed
		return open()
	}
	catalog := newMemoryCatalog()
	c := newTestController(catalog, Options{})

	resp := c.Submit(context.Background(), upload)
	<-opening
	require.NoError(t, c.Cancel(resp.JobID))
	close(proceed)
	c.Wait()

	job, err := c.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, job.Status)
	assert.Equal(t, "import cancelled by user", job.Message)
	assert.Zero(t, job.Created+job.Updated+len(job.Errors))
	assert.Zero(t, job.ErrorCount)

	_, ok := catalog.product("P-1")
	assert.False(t, ok)
	assert.False(t, c.Active().Active)
}

func TestController_CancelPendingJob(t *testing.T) {
	recorder := &recordingEvents{}
	c := newTestController(newMemoryCatalog(), Options{Events: recorder})

	jobCtx, cancel := context.WithCancel(context.Background())
	id, admitted := c.registry.Admit(&models.ImportJob{
		ID:     "pending-job",
		Status: models.ImportStatusPending,
		Errors: []models.ImportRowError{},
	}, cancel)
	require.True(t, admitted)
	require.NoError(t, c.Cancel(id))

	var opened, cleaned atomic.Bool
	upload := csvUpload(csvRows(3))
	open := upload.Open
	upload.Open = func() (io.ReadSeekCloser, error) {
		opened.Store(true)
		return open()
	}
	upload.Cleanup = func() { cleaned.Store(true) }

	c.wg.Add(1)
	c.run(jobCtx, id, upload)

	job, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Zero(t, job.Progress)
	assert.False(t, opened.Load())
	assert.True(t, cleaned.Load())
	assert.Equal(t, []string{events.ImportCancelled}, recorder.published())

	// the slot is free again
	resp := c.Submit(context.Background(), csvUpload(csvRows(1)))
	assert.False(t, resp.AlreadyActive)
	c.Wait()
}

func TestController_ShutdownCancelsRunningJob(t *testing.T) {
	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	catalog := newMemoryCatalog()
	catalog.beforeUpsert = func(string) {
		entered <- struct{}{}
		<-release
	}
	c := newTestController(catalog, Options{})

	resp := c.Submit(context.Background(), csvUpload(csvRows(10)))
	<-entered

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	job, err := c.Status(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, job.Status)
}

func TestController_ShutdownTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{}, 1)
	catalog := newMemoryCatalog()
	catalog.beforeUpsert = func(string) {
		entered <- struct{}{}
		<-release
	}
	c := newTestController(catalog, Options{})

	c.Submit(context.Background(), csvUpload(csvRows(1)))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)
}

func TestRowProgress(t *testing.T) {
	assert.Equal(t, 0, rowProgress(0, 0))
	assert.Equal(t, 33, rowProgress(0, 3))
	assert.Equal(t, 67, rowProgress(1, 3))
	assert.Equal(t, 99, rowProgress(2, 3))
	assert.Equal(t, 99, rowProgress(998, 1000))
	assert.Equal(t, 1, rowProgress(0, 100))
}
