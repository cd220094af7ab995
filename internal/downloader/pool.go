package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mapgrab/pkg/geotag"
	"mapgrab/pkg/logger"
	"mapgrab/pkg/mapillary"
)

// Job is a single image to download and geotag.
type Job struct {
	Descriptor *mapillary.ImageDescriptor
	Filename   string
}

// Status classifies the outcome of one job.
type Status string

const (
	StatusDownloaded     Status = "downloaded"
	StatusSkipped        Status = "skipped"
	StatusFetchFailed    Status = "fetch_failed"
	StatusMetadataFailed Status = "metadata_failed"
)

// Result is the outcome of one job.
type Result struct {
	Job        Job
	Status     Status
	Error      error
	OutputPath string
	Size       int
	Duration   time.Duration

	// OffsetOmitted marks a success whose capture location did not resolve
	// to a timezone, so the record carries no UTC offset.
	OffsetOmitted bool
}

// ImageDownloader downloads image bytes from a pre-signed URL.
type ImageDownloader interface {
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

// ImageStorage persists finished outputs and answers resumption queries.
type ImageStorage interface {
	IsDownloaded(filename string) bool
	SaveImage(data []byte, filename string) (string, error)
}

// WorkerPool manages concurrent download-and-geotag workers. A failure in
// one job never affects the others; cancellation of the parent context stops
// all workers after their current job.
type WorkerPool struct {
	numWorkers     int
	jpegQuality    int
	jobQueue       chan Job
	resultQueue    chan Result
	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	client         ImageDownloader
	storageManager ImageStorage
	logger         logger.Logger
}

// NewWorkerPool creates a worker pool. jpegQuality 0 keeps the original
// image bytes; 1-100 re-encodes at that quality.
func NewWorkerPool(
	parent context.Context,
	numWorkers int,
	jpegQuality int,
	client ImageDownloader,
	storageManager ImageStorage,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(parent)

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:     numWorkers,
		jpegQuality:    jpegQuality,
		jobQueue:       make(chan Job, numWorkers*2),
		resultQueue:    make(chan Result, numWorkers),
		ctx:            ctx,
		cancel:         cancel,
		client:         client,
		storageManager: storageManager,
		logger:         log,
	}
}

// Start launches all workers.
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for in-flight jobs to finish, and closes
// the result queue.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Info("worker pool stopped")
}

// Submit queues a job. Returns an error when the pool is shutting down.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the channel of job outcomes.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob runs the full pipeline for one image: skip check, byte fetch,
// geotag build, metadata embed, atomic save.
func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	desc := job.Descriptor
	result := Result{Job: job}

	if wp.storageManager.IsDownloaded(job.Filename) {
		wp.logger.DebugWithFields("output already present, skipping", map[string]interface{}{
			"worker_id": workerID,
			"image_id":  desc.ID,
			"filename":  job.Filename,
		})
		result.Status = StatusSkipped
		result.Duration = time.Since(start)
		return result
	}

	data, err := wp.client.DownloadImage(wp.ctx, desc.DownloadURL)
	if err != nil {
		result.Status = StatusFetchFailed
		result.Error = err
		result.Duration = time.Since(start)
		logger.LogDownload(desc.SequenceID, desc.ID, false, err)
		return result
	}

	record, err := geotag.Build(desc)
	if err != nil {
		result.Status = StatusMetadataFailed
		result.Error = err
		result.Duration = time.Since(start)
		logger.LogDownload(desc.SequenceID, desc.ID, false, err)
		return result
	}

	tagged, err := geotag.Embed(data, record, wp.jpegQuality)
	if err != nil {
		result.Status = StatusMetadataFailed
		result.Error = err
		result.Duration = time.Since(start)
		logger.LogDownload(desc.SequenceID, desc.ID, false, err)
		return result
	}

	path, err := wp.storageManager.SaveImage(tagged, job.Filename)
	if err != nil {
		result.Status = StatusMetadataFailed
		result.Error = err
		result.Duration = time.Since(start)
		logger.LogDownload(desc.SequenceID, desc.ID, false, err)
		return result
	}

	result.Status = StatusDownloaded
	result.OutputPath = path
	result.Size = len(tagged)
	result.OffsetOmitted = !record.OffsetResolved()
	result.Duration = time.Since(start)

	if result.OffsetOmitted {
		wp.logger.WarnWithFields("capture location has no resolvable timezone, offset omitted", map[string]interface{}{
			"image_id": desc.ID,
		})
	}
	logger.LogDownload(desc.SequenceID, desc.ID, true, nil)

	return result
}

// QueueSize returns the number of queued jobs.
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}
