package report

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "mapgrab/pkg/errors"
)

func TestBuilderCounts(t *testing.T) {
	b := NewBuilder("seq1", "/tmp/out", 5)

	b.AddDownloaded(false)
	b.AddDownloaded(true)
	b.AddSkipped()
	b.AddFetchFailure("img3", errs.NewHTTP(errs.ErrorTypeServerError, 502, "bad gateway"))
	b.AddMetadataFailure("img4", errs.New(errs.ErrorTypeGeometry, "no coordinates"))

	summary := b.Finalize()

	assert.Equal(t, "seq1", summary.SequenceID)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.FetchFailed)
	assert.Equal(t, 1, summary.MetadataFailed)
	assert.Equal(t, 1, summary.TimezoneOmitted)

	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "img3", summary.Failures[0].ImageID)
	assert.Equal(t, "server_error", summary.Failures[0].Category)
	assert.Equal(t, "img4", summary.Failures[1].ImageID)
	assert.Equal(t, "geometry", summary.Failures[1].Category)

	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestBuilderSortsFailures(t *testing.T) {
	b := NewBuilder("seq1", "", 3)
	b.AddFetchFailure("zzz", errs.New(errs.ErrorTypeNetwork, "x"))
	b.AddFetchFailure("aaa", errs.New(errs.ErrorTypeNetwork, "x"))
	b.AddFetchFailure("mmm", errs.New(errs.ErrorTypeNetwork, "x"))

	summary := b.Finalize()
	assert.Equal(t, []string{"aaa", "mmm", "zzz"}, summary.FailedIDs())
}

func TestBuilderUncategorizedFailure(t *testing.T) {
	b := NewBuilder("seq1", "", 1)
	b.AddFetchFailure("img1", os.ErrDeadlineExceeded)

	summary := b.Finalize()
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "unknown", summary.Failures[0].Category)
}

func TestBuilderConcurrentUpdates(t *testing.T) {
	b := NewBuilder("seq1", "", 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.AddDownloaded(false)
			} else {
				b.AddSkipped()
			}
		}(i)
	}
	wg.Wait()

	summary := b.Finalize()
	assert.Equal(t, 50, summary.Downloaded)
	assert.Equal(t, 50, summary.Skipped)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SummaryFileName)

	b := NewBuilder("seq1", dir, 2)
	b.AddDownloaded(false)
	b.AddFetchFailure("img2", errs.New(errs.ErrorTypeNetwork, "timeout"))
	summary := b.Finalize()

	require.NoError(t, summary.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, summary.SequenceID, loaded.SequenceID)
	assert.Equal(t, summary.Downloaded, loaded.Downloaded)
	assert.Equal(t, summary.FailedIDs(), loaded.FailedIDs())
}

func TestLoadMissingFile(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SummaryFileName)

	summary := NewBuilder("seq1", dir, 0).Finalize()
	require.NoError(t, summary.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), entry.Name())
	}
}

func TestSummaryString(t *testing.T) {
	b := NewBuilder("seq1", "", 3)
	b.AddDownloaded(true)
	b.AddSkipped()
	b.AddFetchFailure("x", errs.New(errs.ErrorTypeNetwork, "timeout"))

	s := b.Finalize().String()
	assert.Contains(t, s, "1 downloaded")
	assert.Contains(t, s, "1 skipped")
	assert.Contains(t, s, "1 without UTC offset")
}
