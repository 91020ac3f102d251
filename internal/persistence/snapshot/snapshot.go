package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
)

const Version = 1

var (
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
	ErrDigestMissing  = errors.New("snapshot digest missing")
	ErrUnknownVersion = errors.New("snapshot version unsupported")
)

type Header struct {
	Version  int    `json:"version"`
	ServerID string `json:"server_id"`
	Seq      uint64 `json:"seq"`
	SavedAt  string `json:"saved_at,omitempty"`
	Nations  int    `json:"nations"`
	Digest   string `json:"digest"`
}

// SnapshotV1 is the persisted schema: an ordered list of nation records.
// The identity -> nation index is derived at load time and never stored.
type SnapshotV1 struct {
	Header  Header     `json:"header"`
	Nations []NationV1 `json:"nations"`
}

// NationV1 keeps ids and enums as strings so a single bad entry can be skipped on load.
type NationV1 struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Color       string            `json:"color"`
	Description string            `json:"description"`
	Members     []MemberV1        `json:"members"`
	Diplomacy   map[string]string `json:"diplomacy,omitempty"`
	Invites     []string          `json:"invites,omitempty"`
}

type MemberV1 struct {
	ID   string `json:"id"`
	Rank string `json:"rank"`
}

// Marshal produces the blob layout: zstd( header-json "\n" gob(snapshot) ).
// The header digest is blake3 over the gob body.
func Marshal(snap SnapshotV1) ([]byte, error) {
	var body bytes.Buffer
	snap.Header.Digest = ""
	if err := gob.NewEncoder(&body).Encode(&snap); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	sum := blake3.Sum256(body.Bytes())
	snap.Header.Version = Version
	snap.Header.Nations = len(snap.Nations)
	snap.Header.Digest = hex.EncodeToString(sum[:])

	var out bytes.Buffer
	enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if _, err := bw.Write(body.Bytes()); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func Unmarshal(b []byte) (SnapshotV1, error) {
	return decode(bytes.NewReader(b))
}

func decode(r io.Reader) (SnapshotV1, error) {
	var snap SnapshotV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	hb, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return snap, err
	}
	// Every version this package writes carries a digest.
	if hdr.Version < 1 || hdr.Version > Version {
		return snap, fmt.Errorf("%w: %d", ErrUnknownVersion, hdr.Version)
	}
	if hdr.Digest == "" {
		return snap, ErrDigestMissing
	}
	sum := blake3.Sum256(body)
	if hdr.Digest != hex.EncodeToString(sum[:]) {
		return snap, ErrDigestMismatch
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	snap.Header = hdr
	return snap, nil
}

// WriteSnapshot writes atomically: a reader never observes a half-written file.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := Marshal(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotV1{}, err
	}
	defer f.Close()
	return decode(f)
}
