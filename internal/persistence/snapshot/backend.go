package snapshot

import (
	"errors"
	"os"
	"path/filepath"
)

// Backend is the durable substrate: one blob, loaded once at startup and replaced on flush.
type Backend interface {
	// Load returns ok=false when nothing has been saved yet.
	Load() (snap SnapshotV1, ok bool, err error)
	Save(snap SnapshotV1) error
	Close() error
}

const FileName = "nations.snap.zst"

// FileBackend keeps the blob in a single file under Dir.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) *FileBackend { return &FileBackend{Dir: dir} }

func (b *FileBackend) Path() string { return filepath.Join(b.Dir, FileName) }

func (b *FileBackend) Load() (SnapshotV1, bool, error) {
	snap, err := ReadSnapshot(b.Path())
	if errors.Is(err, os.ErrNotExist) {
		return SnapshotV1{}, false, nil
	}
	if err != nil {
		return SnapshotV1{}, false, err
	}
	return snap, true, nil
}

func (b *FileBackend) Save(snap SnapshotV1) error { return WriteSnapshot(b.Path(), snap) }

func (b *FileBackend) Close() error { return nil }
