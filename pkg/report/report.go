// Package report builds and persists the structured summary of a download
// run: per-category counts, per-image failures, and timing. The summary is
// written next to the downloaded images so a later run (or a human) can see
// exactly what happened and which images still need a retry.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	errs "mapgrab/pkg/errors"
)

// SummaryFileName is the filename of the run summary inside a sequence
// directory.
const SummaryFileName = "run-summary.json"

// Failure records one image that could not be completed, with the error
// category from the taxonomy and a human-readable reason.
type Failure struct {
	ImageID  string `json:"image_id"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// RunSummary is the machine-readable outcome of one download run.
type RunSummary struct {
	SequenceID string `json:"sequence_id"`
	OutputDir  string `json:"output_dir"`

	Total          int `json:"total"`
	Downloaded     int `json:"downloaded"`
	Skipped        int `json:"skipped"`
	FetchFailed    int `json:"fetch_failed"`
	MetadataFailed int `json:"metadata_failed"`

	// Images completed without a UTC offset because their coordinate did
	// not resolve to a timezone. These count as successes, degraded.
	TimezoneOmitted int `json:"timezone_omitted"`

	Failures []Failure `json:"failures"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Builder accumulates results from concurrent workers into a RunSummary.
type Builder struct {
	summary RunSummary
	mu      sync.Mutex
}

// NewBuilder starts a summary for one sequence run.
func NewBuilder(sequenceID, outputDir string, total int) *Builder {
	return &Builder{
		summary: RunSummary{
			SequenceID: sequenceID,
			OutputDir:  outputDir,
			Total:      total,
			Failures:   []Failure{},
			StartedAt:  time.Now().UTC(),
		},
	}
}

// AddDownloaded records one completed image. degraded marks a success
// without a resolved UTC offset.
func (b *Builder) AddDownloaded(degraded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.Downloaded++
	if degraded {
		b.summary.TimezoneOmitted++
	}
}

// AddSkipped records one image skipped because its output already existed.
func (b *Builder) AddSkipped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.Skipped++
}

// AddFetchFailure records an image whose metadata or bytes could not be
// fetched.
func (b *Builder) AddFetchFailure(imageID string, err error) {
	b.addFailure(imageID, err, false)
}

// AddMetadataFailure records an image whose bytes arrived but whose geotag
// could not be built or embedded.
func (b *Builder) AddMetadataFailure(imageID string, err error) {
	b.addFailure(imageID, err, true)
}

func (b *Builder) addFailure(imageID string, err error, metadata bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if metadata {
		b.summary.MetadataFailed++
	} else {
		b.summary.FetchFailed++
	}

	category := string(errs.ErrorTypeUnknown)
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
		if typed, ok := errs.AsError(err); ok {
			category = string(typed.Type)
		}
	}

	b.summary.Failures = append(b.summary.Failures, Failure{
		ImageID:  imageID,
		Category: category,
		Reason:   reason,
	})
}

// Finalize stamps the end time and returns the completed summary. Failures
// are sorted by image id so the output is stable regardless of worker
// scheduling.
func (b *Builder) Finalize() *RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.summary.FinishedAt = time.Now().UTC()
	b.summary.DurationMS = b.summary.FinishedAt.Sub(b.summary.StartedAt).Milliseconds()
	sort.Slice(b.summary.Failures, func(i, j int) bool {
		return b.summary.Failures[i].ImageID < b.summary.Failures[j].ImageID
	})

	out := b.summary
	return &out
}

// Save writes the summary to path atomically.
func (s *RunSummary) Save(path string) error {
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return errs.New(errs.ErrorTypeWrite, "failed to create summary file: %v", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.New(errs.ErrorTypeWrite, "failed to encode summary: %v", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.New(errs.ErrorTypeWrite, "failed to sync summary file: %v", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.New(errs.ErrorTypeWrite, "failed to close summary file: %v", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errs.New(errs.ErrorTypeWrite, "failed to replace summary file: %v", err)
	}

	return nil
}

// Load reads a previously saved summary. A missing file returns nil without
// error.
func Load(path string) (*RunSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.ErrorTypeWrite, "failed to open summary file: %v", err)
	}
	defer file.Close()

	var summary RunSummary
	if err := json.NewDecoder(file).Decode(&summary); err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "failed to decode summary: %v", err)
	}

	return &summary, nil
}

// FailedIDs returns the ids of all failed images, for feeding a retry run.
func (s *RunSummary) FailedIDs() []string {
	ids := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		ids = append(ids, f.ImageID)
	}
	return ids
}

// String renders a one-line human summary.
func (s *RunSummary) String() string {
	return fmt.Sprintf("%d downloaded, %d skipped, %d failed (%d fetch, %d metadata), %d without UTC offset",
		s.Downloaded, s.Skipped, s.FetchFailed+s.MetadataFailed, s.FetchFailed, s.MetadataFailed, s.TimezoneOmitted)
}
