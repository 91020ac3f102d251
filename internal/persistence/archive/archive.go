package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"nationcraft.ai/internal/persistence/snapshot"
)

// Meta is written next to every archived blob.
type Meta struct {
	Seq       uint64 `json:"seq"`
	ServerID  string `json:"server_id"`
	Nations   int    `json:"nations"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// Archiver keeps periodic copies of the flushed blob under <dataDir>/archives/v_<seq>/.
// A flush is archived when its version has advanced at least Every past the last archive;
// only the newest Keep archives are retained.
type Archiver struct {
	Dir   string
	Every uint64
	Keep  int

	last uint64
	now  func() time.Time
}

func New(dataDir string, every uint64, keep int) *Archiver {
	a := &Archiver{
		Dir:   filepath.Join(dataDir, "archives"),
		Every: every,
		Keep:  keep,
		now:   time.Now,
	}
	if list, err := a.List(); err == nil && len(list) > 0 {
		a.last = list[len(list)-1].Seq
	}
	return a
}

// Maybe archives snap if it is due. It returns the archived blob path.
func (a *Archiver) Maybe(snap snapshot.SnapshotV1) (path string, archived bool, err error) {
	if a == nil || a.Every == 0 {
		return "", false, nil
	}
	seq := snap.Header.Seq
	if a.last != 0 && seq < a.last+a.Every {
		return "", false, nil
	}
	path, err = a.Archive(snap)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Archive writes snap unconditionally and prunes old archives.
func (a *Archiver) Archive(snap snapshot.SnapshotV1) (string, error) {
	seq := snap.Header.Seq
	dir := filepath.Join(a.Dir, fmt.Sprintf("v_%012d", seq))
	dst := filepath.Join(dir, snapshot.FileName)
	if err := snapshot.WriteSnapshot(dst, snap); err != nil {
		return "", err
	}
	meta := Meta{
		Seq:       seq,
		ServerID:  snap.Header.ServerID,
		Nations:   len(snap.Nations),
		Snapshot:  snapshot.FileName,
		CreatedAt: a.now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	a.last = seq
	if err := a.prune(); err != nil {
		return dst, err
	}
	return dst, nil
}

// List returns the archives on disk, oldest first.
func (a *Archiver) List() ([]Meta, error) {
	entries, err := os.ReadDir(a.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, e := range entries {
		seq, ok := parseDir(e)
		if !ok {
			continue
		}
		m := Meta{Seq: seq, Snapshot: snapshot.FileName}
		if b, err := os.ReadFile(filepath.Join(a.Dir, e.Name(), "meta.json")); err == nil {
			_ = json.Unmarshal(b, &m)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Path is the blob location of the archive for seq.
func (a *Archiver) Path(seq uint64) string {
	return filepath.Join(a.Dir, fmt.Sprintf("v_%012d", seq), snapshot.FileName)
}

func (a *Archiver) prune() error {
	if a.Keep <= 0 {
		return nil
	}
	list, err := a.List()
	if err != nil {
		return err
	}
	for len(list) > a.Keep {
		if err := os.RemoveAll(filepath.Dir(a.Path(list[0].Seq))); err != nil {
			return err
		}
		list = list[1:]
	}
	return nil
}

func parseDir(e os.DirEntry) (uint64, bool) {
	if !e.IsDir() || !strings.HasPrefix(e.Name(), "v_") {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), "v_"), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
