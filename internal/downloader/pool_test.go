package downloader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "mapgrab/pkg/errors"
	"mapgrab/pkg/logger"
	"mapgrab/pkg/mapillary"
)

func makeTestJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 64, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

type fakeDownloader struct {
	mu       sync.Mutex
	payload  []byte
	failures map[string]error
	calls    int
}

func (f *fakeDownloader) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failures[url]; ok {
		return nil, err
	}
	return f.payload, nil
}

func (f *fakeDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStorage struct {
	mu       sync.Mutex
	existing map[string]bool
	saved    map[string][]byte
	saveErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		existing: make(map[string]bool),
		saved:    make(map[string][]byte),
	}
}

func (f *fakeStorage) IsDownloaded(filename string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[filename]
}

func (f *fakeStorage) SaveImage(data []byte, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved[filename] = data
	f.existing[filename] = true
	return "/out/" + filename, nil
}

func testJob(id, url, filename string) Job {
	lat := 37.7749
	lon := -122.4194

	return Job{
		Descriptor: &mapillary.ImageDescriptor{
			ID:          id,
			SequenceID:  "seq1",
			DownloadURL: url,
			Latitude:    &lat,
			Longitude:   &lon,
			CapturedAt:  time.Date(2025, 7, 28, 18, 7, 30, 120_000_000, time.UTC),
		},
		Filename: filename,
	}
}

func collectResults(pool *WorkerPool, jobs []Job) map[string]Result {
	pool.Start()

	done := make(chan map[string]Result)
	go func() {
		results := make(map[string]Result)
		for result := range pool.Results() {
			results[result.Job.Descriptor.ID] = result
		}
		done <- results
	}()

	for _, job := range jobs {
		_ = pool.Submit(job)
	}
	pool.Stop()

	return <-done
}

func TestPoolDownloadsAndTags(t *testing.T) {
	client := &fakeDownloader{payload: makeTestJPEG(t)}
	storage := newFakeStorage()
	pool := NewWorkerPool(context.Background(), 2, 0, client, storage, logger.NewTestLogger())

	results := collectResults(pool, []Job{
		testJob("1", "u1", "a.jpg"),
		testJob("2", "u2", "b.jpg"),
	})

	require.Len(t, results, 2)
	for id, result := range results {
		assert.Equal(t, StatusDownloaded, result.Status, "image %s", id)
		assert.NoError(t, result.Error)
		assert.NotEmpty(t, result.OutputPath)
		assert.False(t, result.OffsetOmitted)
	}

	// Saved bytes carry the embedded metadata, not the raw payload.
	assert.NotEqual(t, client.payload, storage.saved["a.jpg"])
	assert.Greater(t, len(storage.saved["a.jpg"]), 0)
}

func TestPoolSkipsExistingOutputs(t *testing.T) {
	client := &fakeDownloader{payload: makeTestJPEG(t)}
	storage := newFakeStorage()
	storage.existing["a.jpg"] = true

	pool := NewWorkerPool(context.Background(), 1, 0, client, storage, logger.NewTestLogger())
	results := collectResults(pool, []Job{testJob("1", "u1", "a.jpg")})

	assert.Equal(t, StatusSkipped, results["1"].Status)
	assert.Equal(t, 0, client.callCount(), "skipped images must not be fetched")
}

func TestPoolIsolatesFailures(t *testing.T) {
	client := &fakeDownloader{
		payload: makeTestJPEG(t),
		failures: map[string]error{
			"u2": errs.New(errs.ErrorTypeNetwork, "connection reset"),
		},
	}
	storage := newFakeStorage()

	pool := NewWorkerPool(context.Background(), 2, 0, client, storage, logger.NewTestLogger())
	results := collectResults(pool, []Job{
		testJob("1", "u1", "a.jpg"),
		testJob("2", "u2", "b.jpg"),
		testJob("3", "u3", "c.jpg"),
	})

	assert.Equal(t, StatusDownloaded, results["1"].Status)
	assert.Equal(t, StatusFetchFailed, results["2"].Status)
	assert.Error(t, results["2"].Error)
	assert.Equal(t, StatusDownloaded, results["3"].Status, "a failing image must not affect the others")
}

func TestPoolReportsMetadataFailures(t *testing.T) {
	client := &fakeDownloader{payload: makeTestJPEG(t)}
	storage := newFakeStorage()

	job := testJob("1", "u1", "a.jpg")
	job.Descriptor.Latitude = nil
	job.Descriptor.Longitude = nil

	pool := NewWorkerPool(context.Background(), 1, 0, client, storage, logger.NewTestLogger())
	results := collectResults(pool, []Job{job})

	assert.Equal(t, StatusMetadataFailed, results["1"].Status)
	typed, ok := errs.AsError(results["1"].Error)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeGeometry, typed.Type)
	assert.Empty(t, storage.saved, "failed images must not be written")
}

func TestPoolReportsUndecodablePayload(t *testing.T) {
	client := &fakeDownloader{payload: []byte("not a jpeg")}
	storage := newFakeStorage()

	pool := NewWorkerPool(context.Background(), 1, 0, client, storage, logger.NewTestLogger())
	results := collectResults(pool, []Job{testJob("1", "u1", "a.jpg")})

	assert.Equal(t, StatusMetadataFailed, results["1"].Status)
	typed, ok := errs.AsError(results["1"].Error)
	require.True(t, ok)
	assert.Equal(t, errs.ErrorTypeEncoding, typed.Type)
}

func TestPoolReportsSaveFailures(t *testing.T) {
	client := &fakeDownloader{payload: makeTestJPEG(t)}
	storage := newFakeStorage()
	storage.saveErr = errs.New(errs.ErrorTypeWrite, "disk full")

	pool := NewWorkerPool(context.Background(), 1, 0, client, storage, logger.NewTestLogger())
	results := collectResults(pool, []Job{testJob("1", "u1", "a.jpg")})

	assert.Equal(t, StatusMetadataFailed, results["1"].Status)
}

func TestPoolSubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeDownloader{payload: makeTestJPEG(t)}
	pool := NewWorkerPool(ctx, 1, 0, client, newFakeStorage(), logger.NewTestLogger())
	cancel()

	// The queue has capacity, so a buffered submit may still succeed; what
	// matters is that a full queue does not block forever once cancelled.
	for i := 0; i < 10; i++ {
		if err := pool.Submit(testJob("1", "u1", "a.jpg")); err != nil {
			return
		}
	}
	t.Fatal("submit never failed after cancellation")
}
