package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
)

const filePrefix = "history_"

// FileRecorder stores records as JSON arrays, one file per UTC day.
type FileRecorder struct {
	dataDir string
	clock   clock.Clock
	mutex   sync.RWMutex
}

// NewFileRecorder creates dataDir when needed
func NewFileRecorder(dataDir string, clk clock.Clock) (*FileRecorder, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileRecorder{dataDir: dataDir, clock: clock.OrReal(clk)}, nil
}

func (f *FileRecorder) pathFor(day time.Time) string {
	return filepath.Join(f.dataDir, filePrefix+day.Format("2006-01-02")+".json")
}

// Record appends one outcome to the file of its day
func (f *FileRecorder) Record(_ context.Context, rec Record) error {
	if err := prepare(&rec, f.clock); err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := f.pathFor(rec.CreatedAt)
	records, err := readRecords(path)
	if err != nil && !os.IsNotExist(err) {
		klog.V(2).InfoS("Failed to read existing history file, starting a new one", "file", path, "err", err)
	}
	records = append(records, rec)

	if err := writeRecords(path, records); err != nil {
		return err
	}

	klog.V(3).InfoS("Stored history record to file", "file", path, "id", rec.ID, "kind", rec.Kind)
	return nil
}

// Recent returns the newest records first
func (f *FileRecorder) Recent(_ context.Context, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	files, err := f.listFiles()
	if err != nil {
		return nil, err
	}

	var out []Record
	// Newest day first.
	for i := len(files) - 1; i >= 0 && len(out) < limit; i-- {
		records, err := readRecords(files[i])
		if err != nil {
			klog.V(2).InfoS("Skipping unreadable history file", "file", files[i], "err", err)
			continue
		}
		sort.SliceStable(records, func(a, b int) bool {
			return records[a].CreatedAt.After(records[b].CreatedAt)
		})
		for _, rec := range records {
			if kind != "" && rec.Kind != kind {
				continue
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Cleanup drops records older than retention, removing emptied files
func (f *FileRecorder) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	cutoff := f.clock.Now().Add(-retention).UTC()
	files, err := f.listFiles()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, path := range files {
		records, err := readRecords(path)
		if err != nil {
			klog.V(2).InfoS("Skipping unreadable history file", "file", path, "err", err)
			continue
		}

		kept := records[:0]
		for _, rec := range records {
			if rec.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, rec)
		}

		switch {
		case len(kept) == len(records):
		case len(kept) == 0:
			if err := os.Remove(path); err != nil {
				return deleted, fmt.Errorf("failed to remove history file: %w", err)
			}
		default:
			if err := writeRecords(path, kept); err != nil {
				return deleted, err
			}
		}
	}

	klog.V(2).InfoS("Cleaned up old history records", "cutoff", cutoff, "rowsDeleted", deleted)
	return deleted, nil
}

// Close is a no-op; files are written synchronously
func (f *FileRecorder) Close() error {
	return nil
}

// listFiles returns the day files sorted oldest first.
func (f *FileRecorder) listFiles() ([]string, error) {
	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list history directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		files = append(files, filepath.Join(f.dataDir, name))
	}
	sort.Strings(files)
	return files, nil
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	return records, nil
}

func writeRecords(path string, records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}
	return nil
}
