package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClient_PutFileSignsRequest(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "backups", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "/archives/v 1/nations.snap.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	if gotPath != "/backups/archives/v 1/nations.snap.zst" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody != "payload" {
		t.Fatalf("body=%q", gotBody)
	}
	// sha256("payload")
	if gotHash != "239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5" {
		t.Fatalf("payload hash=%q", gotHash)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260506/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("authorization=%q", gotAuth)
	}
}

func TestClient_PutFileErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := filepath.Join(t.TempDir(), "blob")
	_ = os.WriteFile(local, []byte("x"), 0o644)
	err = c.PutFile(context.Background(), "k", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("want 403 error, got %v", err)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "example.com", Bucket: "b"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("want ErrConfig, got %v", err)
	}
}

type flakyUploader struct {
	mu    sync.Mutex
	fails int
	calls int
	keys  []string
}

func (f *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("temporary")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_RetriesAndKeysRelativeToDataDir(t *testing.T) {
	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "archives", "v_000000000010", "nations.snap.zst")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	up := &flakyUploader{fails: 2}
	m := NewMirror(up, dataDir, "/srv1/", 1, 4, nil)
	m.backoff = time.Millisecond
	m.Enqueue(local)
	m.Enqueue(filepath.Join(t.TempDir(), "outside"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "srv1/archives/v_000000000010/nations.snap.zst" {
		t.Fatalf("unexpected keys: %v", up.keys)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || st.EnqueuedTotal != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("nil mirror stats: %+v", st)
	}
}
