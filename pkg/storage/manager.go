package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	errs "mapgrab/pkg/errors"
)

// ValidateFunc reports whether an existing file is a well-formed output.
// Files that fail validation are treated as absent and re-downloaded.
type ValidateFunc func(path string) bool

// Manager handles output files for one sequence directory: naming, duplicate
// detection for resumption, and atomic writes.
type Manager struct {
	outputDir string
	validate  ValidateFunc
	written   map[string]bool
	mu        sync.RWMutex
}

// NewManager creates a storage manager rooted at outputDir, creating the
// directory if needed and scanning it for already-downloaded files.
func NewManager(outputDir string, validate ValidateFunc) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errs.New(errs.ErrorTypeWrite, "failed to create output directory: %v", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		validate:  validate,
		written:   make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, err
	}

	return manager, nil
}

// scanExistingFiles records the well-formed outputs already present. A file
// that exists but fails validation is a partial or foreign file and is left
// out of the map, so it gets rewritten.
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return errs.New(errs.ErrorTypeWrite, "failed to read output directory: %v", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		if m.validate != nil && !m.validate(filepath.Join(m.outputDir, entry.Name())) {
			continue
		}
		m.written[entry.Name()] = true
	}

	return nil
}

// IsDownloaded checks if a well-formed output with the given filename
// already exists.
func (m *Manager) IsDownloaded(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.written[filename]
}

// SaveImage writes the image bytes under the given filename. The write goes
// to a temporary file first and is renamed into place, so a crash never
// leaves a partial file under the final name.
func (m *Manager) SaveImage(data []byte, filename string) (string, error) {
	path := filepath.Join(m.outputDir, filename)
	tempFile := path + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return "", errs.New(errs.ErrorTypeWrite, "failed to write %s: %v", filename, err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return "", errs.New(errs.ErrorTypeWrite, "failed to finalize %s: %v", filename, err)
	}

	m.mu.Lock()
	m.written[filename] = true
	m.mu.Unlock()

	return path, nil
}

// OutputDir returns the output directory path.
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// DownloadedCount returns the number of well-formed outputs present.
func (m *Manager) DownloadedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.written)
}

// FileName derives the output filename for a capture instant: the UTC
// timestamp to the second plus the millisecond remainder, e.g.
// 20250728_180730_120.jpg. Capture times are unique within a sequence, so
// the name doubles as the resumption key.
func FileName(captured time.Time) string {
	utc := captured.UTC()
	return fmt.Sprintf("%s_%03d.jpg", utc.Format("20060102_150405"), utc.Nanosecond()/int(time.Millisecond))
}

// SequenceDirName derives the directory name for a sequence from its
// earliest capture instant, e.g. 20250728_180730_abc123.
func SequenceDirName(earliest time.Time, sequenceID string) string {
	return fmt.Sprintf("%s_%s", earliest.UTC().Format("20060102_150405"), sequenceID)
}
