package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"nationcraft.ai/internal/persistence/indexdb"
	"nationcraft.ai/internal/persistence/r2s3"
	"nationcraft.ai/internal/sim/world"
	"nationcraft.ai/internal/transport/ws"
)

type httpDeps struct {
	serverID string
	index    *indexdb.SQLiteIndex
	mirror   *r2s3.Mirror
	ws       *ws.Server
	admin    bool
}

func newMux(w *world.World, d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, d.serverID, w.Metrics(), d.index, d.mirror)
	})
	if d.admin {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				ServerID string         `json:"server_id"`
				Metrics  world.Metrics  `json:"metrics"`
				Index    *indexdb.Stats `json:"index,omitempty"`
				Mirror   *r2s3.Stats    `json:"mirror,omitempty"`
			}{
				ServerID: d.serverID,
				Metrics:  w.Metrics(),
			}
			if d.index != nil {
				s := d.index.Stats()
				resp.Index = &s
			}
			if d.mirror != nil {
				s := d.mirror.Stats()
				resp.Mirror = &s
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/flush", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			version, err := w.RequestFlush(ctx)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "version": version, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "version": version})
		})
	}
	if d.ws != nil {
		mux.HandleFunc("/v1/ws", d.ws.Handler())
	}
	return mux
}

func writeMetrics(out io.Writer, serverID string, m world.Metrics, idx *indexdb.SQLiteIndex, mirror *r2s3.Mirror) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(out, "# HELP %s %s\n# TYPE %s gauge\n%s{server=%q} %v\n", name, help, name, name, serverID, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(out, "# HELP %s %s\n# TYPE %s counter\n%s{server=%q} %d\n", name, help, name, name, serverID, v)
	}
	dirty := 0
	if m.Dirty {
		dirty = 1
	}
	gauge("nationcraft_store_version", "Mutation counter of the nation store.", m.Version)
	gauge("nationcraft_store_dirty", "1 when the store has unflushed mutations.", dirty)
	gauge("nationcraft_nations", "Current number of nations.", m.Nations)
	gauge("nationcraft_members", "Identities that belong to a nation.", m.Members)
	gauge("nationcraft_clients", "Connected sessions.", m.Clients)

	fmt.Fprintf(out, "# HELP nationcraft_queue_depth Channel backlog depth.\n# TYPE nationcraft_queue_depth gauge\n")
	fmt.Fprintf(out, "nationcraft_queue_depth{server=%q,queue=%q} %d\n", serverID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(out, "nationcraft_queue_depth{server=%q,queue=%q} %d\n", serverID, "connect", m.QueueDepths.Connect)
	fmt.Fprintf(out, "nationcraft_queue_depth{server=%q,queue=%q} %d\n", serverID, "leave", m.QueueDepths.Leave)

	counter("nationcraft_mutations_total", "Accepted mutations.", m.Mutations)
	counter("nationcraft_rejections_total", "Rejected requests.", m.Rejections)
	counter("nationcraft_broadcasts_total", "Snapshot broadcasts.", m.Broadcasts)
	counter("nationcraft_dropped_frames_total", "Frames dropped on full client queues.", m.DroppedFrames)
	counter("nationcraft_flushes_total", "Snapshots handed to the persister.", m.Flushes)
	counter("nationcraft_flush_failures_total", "Flushes deferred by backpressure or timeout.", m.FlushFailures)

	if idx != nil {
		s := idx.Stats()
		gauge("nationcraft_index_queue_depth", "Pending index writes.", s.QueueDepth)
		counter("nationcraft_index_dropped_total", "Index rows dropped on a full queue.", s.DropAuditTotal+s.DropFlushTotal)
		counter("nationcraft_index_write_failures_total", "Failed index transactions.", s.WriteFailTotal)
	}
	if mirror != nil {
		s := mirror.Stats()
		gauge("nationcraft_mirror_queue_depth", "Pending mirror uploads.", s.QueueDepth)
		counter("nationcraft_mirror_upload_success_total", "Successful mirror uploads.", s.UploadSuccessTotal)
		counter("nationcraft_mirror_upload_fail_total", "Mirror uploads that failed after retry.", s.UploadFailTotal)
		counter("nationcraft_mirror_dropped_total", "Mirror files dropped on a saturated queue.", s.DroppedTotal)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
