// Package sequence orchestrates the download of Mapillary sequences: it
// resolves image ids to descriptors, fans the images out to a bounded worker
// pool, and aggregates the outcomes into a run summary.
package sequence

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"mapgrab/internal/downloader"
	"mapgrab/pkg/config"
	errs "mapgrab/pkg/errors"
	"mapgrab/pkg/geotag"
	"mapgrab/pkg/logger"
	"mapgrab/pkg/mapillary"
	"mapgrab/pkg/ratelimit"
	"mapgrab/pkg/report"
	"mapgrab/pkg/retry"
	"mapgrab/pkg/storage"
)

// Downloader drives sequence downloads. One instance owns the API client and
// the shared rate limiter, so every request of a run, across all workers,
// honors the same budget.
type Downloader struct {
	client  *mapillary.Client
	limiter *ratelimit.TokenBucket
	config  *config.Config
	logger  logger.Logger
}

// Options adjusts a single run.
type Options struct {
	// Only restricts the run to these image ids. Empty means the whole
	// sequence.
	Only []string
}

// New creates a Downloader from configuration.
func New(cfg *config.Config) *Downloader {
	log := logger.GetLogger()

	rpm := cfg.RateLimit.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	limiter := ratelimit.NewTokenBucket(rpm, time.Minute)
	limiter.SetPenaltyBounds(cfg.RateLimit.MaxPenaltyDelay, cfg.RateLimit.CooldownPeriod)

	client := mapillary.NewClient(mapillary.ClientOptions{
		AccessToken: cfg.Mapillary.AccessToken,
		BaseURL:     cfg.Mapillary.BaseURL,
		UserAgent:   cfg.Mapillary.UserAgent,
		Timeout:     cfg.Download.DownloadTimeout,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		},
		Limiter: limiter,
		Logger:  log,
	})

	return &Downloader{
		client:  client,
		limiter: limiter,
		config:  cfg,
		logger:  log,
	}
}

// Client exposes the underlying API client, mainly for discovery commands.
func (d *Downloader) Client() *mapillary.Client {
	return d.client
}

// DownloadSequence downloads all images of a sequence into a timestamped
// directory under the configured base directory. Images whose outputs
// already exist as well-formed files are skipped. Individual failures are
// recorded in the summary and never abort the run; only cancellation and
// run-level failures (an unreachable sequence listing, an unwritable output
// directory) return an error.
func (d *Downloader) DownloadSequence(ctx context.Context, sequenceID string, opts Options) (*report.RunSummary, error) {
	ids, err := d.client.FetchImageIDs(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errs.New(errs.ErrorTypeNotFound, "sequence %s has no images", sequenceID)
	}

	if len(opts.Only) > 0 {
		ids = filterIDs(ids, opts.Only)
		if len(ids) == 0 {
			return nil, errs.New(errs.ErrorTypeNotFound, "no images of sequence %s match the requested subset", sequenceID)
		}
	}

	descriptors, fetchFailures := d.fetchDescriptors(ctx, ids)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(descriptors) == 0 {
		return nil, errs.New(errs.ErrorTypeNetwork, "could not fetch metadata for any image of sequence %s", sequenceID)
	}

	earliest := descriptors[0].CapturedAt
	for _, desc := range descriptors[1:] {
		if desc.CapturedAt.Before(earliest) {
			earliest = desc.CapturedAt
		}
	}

	outputDir := filepath.Join(d.config.Output.BaseDirectory, storage.SequenceDirName(earliest, sequenceID))
	manager, err := storage.NewManager(outputDir, d.validateFunc())
	if err != nil {
		return nil, err
	}

	builder := report.NewBuilder(sequenceID, outputDir, len(ids))
	for id, ferr := range fetchFailures {
		builder.AddFetchFailure(id, ferr)
	}

	pool := downloader.NewWorkerPool(
		ctx,
		d.config.Download.ConcurrentDownloads,
		d.config.Download.JPEGQuality,
		d.client,
		manager,
		d.logger,
	)
	pool.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range pool.Results() {
			switch result.Status {
			case downloader.StatusDownloaded:
				builder.AddDownloaded(result.OffsetOmitted)
			case downloader.StatusSkipped:
				builder.AddSkipped()
			case downloader.StatusFetchFailed:
				builder.AddFetchFailure(result.Job.Descriptor.ID, result.Error)
			case downloader.StatusMetadataFailed:
				builder.AddMetadataFailure(result.Job.Descriptor.ID, result.Error)
			}
		}
	}()

	for _, desc := range descriptors {
		job := downloader.Job{
			Descriptor: desc,
			Filename:   storage.FileName(desc.CapturedAt),
		}
		if err := pool.Submit(job); err != nil {
			break
		}
	}

	pool.Stop()
	<-done

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	summary := builder.Finalize()

	if d.config.Output.WriteRunSummary {
		if err := summary.Save(filepath.Join(outputDir, report.SummaryFileName)); err != nil {
			d.logger.WithError(err).Warn("failed to write run summary")
		}
	}

	d.logger.InfoWithFields("sequence download finished", map[string]interface{}{
		"sequence_id": sequenceID,
		"output_dir":  outputDir,
		"downloaded":  summary.Downloaded,
		"skipped":     summary.Skipped,
		"failed":      summary.FetchFailed + summary.MetadataFailed,
	})

	return summary, nil
}

// fetchDescriptors resolves image ids to descriptors, keeping per-image
// failures separate so one bad record never sinks the run.
func (d *Downloader) fetchDescriptors(ctx context.Context, ids []string) ([]*mapillary.ImageDescriptor, map[string]error) {
	descriptors := make([]*mapillary.ImageDescriptor, 0, len(ids))
	failures := make(map[string]error)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		img, err := d.client.FetchImage(ctx, id)
		if err != nil {
			failures[id] = err
			continue
		}
		descriptors = append(descriptors, img.ToDescriptor())
	}

	return descriptors, failures
}

// validateFunc decides how existing outputs are judged during resumption.
// With overwrite enabled nothing counts as downloaded, so every image is
// rewritten.
func (d *Downloader) validateFunc() storage.ValidateFunc {
	if d.config.Output.OverwriteExisting {
		return func(string) bool { return false }
	}
	return func(path string) bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		return geotag.HasGeoTag(data)
	}
}

// SequenceInfo summarizes one sequence discovered from a creator's uploads.
type SequenceInfo struct {
	ID         string
	ImageCount int
	Earliest   time.Time
	Spherical  bool
}

// DiscoverSequences lists the sequences a user has uploaded, optionally
// filtered by camera type ("spherical" or "flat"). Sequences are ordered by
// earliest capture time.
func (d *Downloader) DiscoverSequences(ctx context.Context, username, cameraType string) ([]SequenceInfo, error) {
	images, err := d.client.FetchCreatorImages(ctx, username)
	if err != nil {
		return nil, err
	}

	bySequence := make(map[string]*SequenceInfo)
	for i := range images {
		img := &images[i]
		if img.SequenceID == "" {
			continue
		}

		spherical := img.IsSpherical()
		switch cameraType {
		case "spherical":
			if !spherical {
				continue
			}
		case "flat":
			if spherical {
				continue
			}
		}

		captured := time.UnixMilli(img.CapturedAt).UTC()
		info, ok := bySequence[img.SequenceID]
		if !ok {
			bySequence[img.SequenceID] = &SequenceInfo{
				ID:         img.SequenceID,
				ImageCount: 1,
				Earliest:   captured,
				Spherical:  spherical,
			}
			continue
		}
		info.ImageCount++
		if captured.Before(info.Earliest) {
			info.Earliest = captured
		}
	}

	sequences := make([]SequenceInfo, 0, len(bySequence))
	for _, info := range bySequence {
		sequences = append(sequences, *info)
	}
	sort.Slice(sequences, func(i, j int) bool {
		return sequences[i].Earliest.Before(sequences[j].Earliest)
	})

	return sequences, nil
}

func filterIDs(ids, only []string) []string {
	allowed := make(map[string]bool, len(only))
	for _, id := range only {
		allowed[id] = true
	}

	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if allowed[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
