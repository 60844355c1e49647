package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

const snapshotFileName = "schedule.json"

// SnapshotFile persists the last good schedule so a restart can serve it before the first
// refresh completes.
type SnapshotFile struct {
	fs   afero.Fs
	path string
}

func NewSnapshotFile(fsys afero.Fs, dir string) *SnapshotFile {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &SnapshotFile{fs: fsys, path: filepath.Join(dir, snapshotFileName)}
}

func (f *SnapshotFile) Path() string {
	return f.path
}

// Save writes snap atomically through a temporary file.
func (f *SnapshotFile) Save(snap *Snapshot) error {
	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot. A missing file yields (nil, nil).
func (f *SnapshotFile) Load() (*Snapshot, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
