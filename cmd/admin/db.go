package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"nationcraft.ai/internal/config"
	"nationcraft.ai/internal/persistence/indexdb"
	persistlog "nationcraft.ai/internal/persistence/log"
	"nationcraft.ai/internal/sim/world"
)

// auditCmd queries the sqlite index, or scans the JSONL audit log with -source log.
func auditCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default <data>/index/nations.sqlite)")
	source := fs.String("source", "db", "db|log")
	requester := fs.String("requester", "", "filter by requester identity")
	nation := fs.String("nation", "", "filter by nation id (either side)")
	op := fs.String("op", "", "filter by operation, e.g. SET_DIPLOMACY")
	rejected := fs.Bool("rejected", false, "only rejected requests")
	limit := fs.Int("limit", 50, "max rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := indexdb.AuditQuery{
		Requester: strings.TrimSpace(*requester),
		Nation:    strings.TrimSpace(*nation),
		Op:        strings.ToUpper(strings.TrimSpace(*op)),
		Rejected:  *rejected,
		Limit:     *limit,
	}

	var rows []world.AuditEntry
	switch *source {
	case "log":
		var err error
		if rows, err = scanAuditLog(*dataDir, q); err != nil {
			return err
		}
	case "db":
		path := *dbPath
		if path == "" {
			cfg := config.Defaults()
			cfg.DataDir = *dataDir
			path = cfg.IndexPath()
		}
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			return err
		}
		defer idx.Close()
		if rows, err = idx.QueryAudits(context.Background(), q); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: -source must be db or log", errUsage)
	}
	for _, e := range rows {
		if err := printJSONLine(out, e); err != nil {
			return err
		}
	}
	return nil
}

// scanAuditLog applies q to the log files, newest entries first.
func scanAuditLog(dataDir string, q indexdb.AuditQuery) ([]world.AuditEntry, error) {
	var all []world.AuditEntry
	err := persistlog.ReadAudits(dataDir, func(e world.AuditEntry) error {
		if matches(e, q) {
			all = append(all, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	out := make([]world.AuditEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func matches(e world.AuditEntry, q indexdb.AuditQuery) bool {
	if q.Requester != "" && e.Requester != q.Requester {
		return false
	}
	if q.Nation != "" && e.Nation != q.Nation && e.Target != q.Nation {
		return false
	}
	if q.Op != "" && e.Op != q.Op {
		return false
	}
	if q.Rejected && e.Accepted() {
		return false
	}
	return true
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONLine(out io.Writer, v any) error { return json.NewEncoder(out).Encode(v) }
