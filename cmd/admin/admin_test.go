package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"nationcraft.ai/internal/persistence/archive"
	persistlog "nationcraft.ai/internal/persistence/log"
	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/protocol"
	"nationcraft.ai/internal/sim/world"
	"nationcraft.ai/internal/transport/ws"
)

const (
	nationID = "6f1c1f5e-3d0a-4c8b-9a51-2f6d1d0c9b11"
	leaderID = "0b6f1f0e-5d7a-4c2b-8a11-9f6d1d0c9b22"
)

func fixture(seq uint64, name string) snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, ServerID: "t", Seq: seq, Nations: 1},
		Nations: []snapshot.NationV1{{
			ID:      nationID,
			Name:    name,
			Color:   "BLUE",
			Members: []snapshot.MemberV1{{ID: leaderID, Rank: "LEADER"}},
		}},
	}
}

func TestRun_Usage(t *testing.T) {
	if err := run(nil, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v", err)
	}
	if err := run([]string{"rollback"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v", err)
	}
}

func TestDumpAndVerify(t *testing.T) {
	dir := t.TempDir()
	if err := snapshot.NewFileBackend(dir).Save(fixture(7, "Rome")); err != nil {
		t.Fatalf("save: %v", err)
	}

	var out bytes.Buffer
	if err := run([]string{"dump", "-data", dir, "-json"}, &out); err != nil {
		t.Fatalf("dump: %v", err)
	}
	var got snapshot.SnapshotV1
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode dump: %v", err)
	}
	if got.Header.Seq != 7 || len(got.Nations) != 1 || got.Nations[0].Name != "Rome" {
		t.Fatalf("dump=%+v", got)
	}

	out.Reset()
	if err := run([]string{"dump", "-data", dir}, &out); err != nil {
		t.Fatalf("litter dump: %v", err)
	}
	if !strings.Contains(out.String(), `"Rome"`) {
		t.Fatalf("litter dump missing name: %s", out.String())
	}

	out.Reset()
	if err := run([]string{"verify", "-data", dir}, &out); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out.String(), "seq=7 ") || !strings.HasSuffix(out.String(), "ok\n") {
		t.Fatalf("verify out=%q", out.String())
	}
}

func TestDump_MissingBlob(t *testing.T) {
	if err := run([]string{"dump", "-data", t.TempDir()}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for missing blob")
	}
}

func TestArchivesAndRestore(t *testing.T) {
	dir := t.TempDir()
	arch := archive.New(dir, 1, 0)
	if _, err := arch.Archive(fixture(5, "Rome")); err != nil {
		t.Fatalf("archive: %v", err)
	}
	be := snapshot.NewFileBackend(dir)
	if err := be.Save(fixture(9, "Carthage")); err != nil {
		t.Fatalf("save: %v", err)
	}

	var out bytes.Buffer
	if err := run([]string{"archives", "-data", dir}, &out); err != nil {
		t.Fatalf("archives: %v", err)
	}
	if !strings.Contains(out.String(), "seq=5 nations=1") {
		t.Fatalf("archives out=%q", out.String())
	}

	if err := run([]string{"restore", "-data", dir}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Fatalf("restore without seq: %v", err)
	}
	if err := run([]string{"restore", "-data", dir, "-seq", "6"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("restore of missing archive should fail")
	}

	out.Reset()
	if err := run([]string{"restore", "-data", dir, "-seq", "5"}, &out); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap, ok, err := be.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if snap.Header.Seq != 5 || snap.Nations[0].Name != "Rome" {
		t.Fatalf("restored=%+v", snap)
	}
}

func TestAudit_FromLog(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewAuditLogger(dir)
	now := time.Now().UTC()
	entries := []world.AuditEntry{
		{Version: 1, Time: now, Requester: "a", Op: "CREATE_NATION", Nation: "n1", Code: protocol.CodeOK},
		{Version: 1, Time: now, Requester: "b", Op: "JOIN", Nation: "n1", Code: protocol.ErrNoInvite},
		{Version: 2, Time: now, Requester: "a", Op: "SET_DIPLOMACY", Nation: "n1", Target: "n2", Code: protocol.CodeOK},
	}
	for _, e := range entries {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := func(args ...string) []world.AuditEntry {
		t.Helper()
		var out bytes.Buffer
		if err := run(append([]string{"audit", "-source", "log", "-data", dir}, args...), &out); err != nil {
			t.Fatalf("audit %v: %v", args, err)
		}
		var got []world.AuditEntry
		dec := json.NewDecoder(&out)
		for dec.More() {
			var e world.AuditEntry
			if err := dec.Decode(&e); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got = append(got, e)
		}
		return got
	}

	if got := lines(); len(got) != 3 || got[0].Op != "SET_DIPLOMACY" {
		t.Fatalf("all=%+v", got)
	}
	if got := lines("-requester", "a"); len(got) != 2 {
		t.Fatalf("requester filter=%+v", got)
	}
	if got := lines("-rejected"); len(got) != 1 || got[0].Requester != "b" {
		t.Fatalf("rejected filter=%+v", got)
	}
	if got := lines("-nation", "n2"); len(got) != 1 || got[0].Target != "n2" {
		t.Fatalf("nation filter=%+v", got)
	}
	if got := lines("-op", "join"); len(got) != 1 {
		t.Fatalf("op filter=%+v", got)
	}
	if got := lines("-limit", "1"); len(got) != 1 {
		t.Fatalf("limit=%+v", got)
	}
}

func TestToken(t *testing.T) {
	id := uuid.New()
	var out bytes.Buffer
	if err := run([]string{"token", "-secret", "s3cret", "-identity", id.String(), "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	var tok string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "token="); ok {
			tok = v
		}
	}
	got, err := ws.NewAuthenticator("s3cret").Identify(tok, "")
	if err != nil || got != id {
		t.Fatalf("identify: got=%s err=%v", got, err)
	}

	if err := run([]string{"token", "-secret", ""}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without a secret")
	}
}

func TestStateAndFlush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/v1/state":
			_, _ = w.Write([]byte(`{"nations":2}`))
		case r.Method == http.MethodPost && r.URL.Path == "/admin/v1/flush":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := run([]string{"state", "-url", srv.URL + "/"}, &out); err != nil {
		t.Fatalf("state: %v", err)
	}
	if out.String() != "{\"nations\":2}\n" {
		t.Fatalf("state out=%q", out.String())
	}
	out.Reset()
	if err := run([]string{"flush", "-url", srv.URL}, &out); err != nil {
		t.Fatalf("flush: %v", err)
	}

	bad := httptest.NewServer(http.NotFoundHandler())
	defer bad.Close()
	if err := run([]string{"state", "-url", bad.URL}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error on 404")
	}
}
