package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/persistence/archive"
	persistlog "nationcraft.ai/internal/persistence/log"
	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/nation/store"
	"nationcraft.ai/internal/sim/world"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

type result struct {
	From, To uint64
	Applied  int
	Nations  int
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory (audit logs and archives)")
	seq := fs.Uint64("seq", 0, "start from this archive sequence")
	snapPath := fs.String("snapshot", "", "start from this blob instead of an archive")
	expect := fs.String("expect", "", "blob to compare against; replay stops at its sequence")
	toVersion := fs.Uint64("to_version", 0, "stop after this store version (inclusive)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	start := *snapPath
	if start == "" {
		if *seq == 0 {
			return errors.New("need -seq or -snapshot")
		}
		start = archive.New(*dataDir, 0, 0).Path(*seq)
	}
	base, err := snapshot.ReadSnapshot(start)
	if err != nil {
		return fmt.Errorf("read start blob: %w", err)
	}

	var want *snapshot.SnapshotV1
	if *expect != "" {
		s, err := snapshot.ReadSnapshot(*expect)
		if err != nil {
			return fmt.Errorf("read expected blob: %w", err)
		}
		want = &s
		if *toVersion == 0 || *toVersion > s.Header.Seq {
			*toVersion = s.Header.Seq
		}
	}

	w, res, err := replay(base, *dataDir, *toVersion)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replayed %d entries: version %d -> %d, nations=%d\n", res.Applied, res.From, res.To, res.Nations)
	if want == nil {
		return nil
	}
	if res.To != want.Header.Seq {
		return fmt.Errorf("audit log ends at version %d, expected blob is at %d", res.To, want.Header.Seq)
	}
	if diff := compare(w.Store().Export(), want.Nations); len(diff) > 0 {
		for _, d := range diff {
			fmt.Fprintln(out, "mismatch:", d)
		}
		return fmt.Errorf("%d nation(s) differ from %s", len(diff), *expect)
	}
	fmt.Fprintln(out, "replay ok")
	return nil
}

// replay applies the accepted audit entries recorded after base. Created nations reuse
// the recorded ids so later entries resolve.
func replay(base snapshot.SnapshotV1, dataDir string, toVersion uint64) (*world.World, result, error) {
	st, _ := store.Load(base.Nations)
	st.ResumeVersion(base.Header.Seq)
	res := result{From: st.Version()}

	var nextID uuid.UUID
	st.SetIDSource(func() uuid.UUID {
		id := nextID
		nextID = uuid.New()
		return id
	})

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	w := world.New(world.Config{ID: base.Header.ServerID}, st, logrus.NewEntry(quiet))

	errStop := errors.New("stop")
	err := persistlog.ReadAudits(dataDir, func(e world.AuditEntry) error {
		if !e.Accepted() || e.Version <= base.Header.Seq {
			return nil
		}
		if toVersion != 0 && e.Version > toVersion {
			return errStop
		}
		req, err := e.Request()
		if err != nil {
			return err
		}
		if id, err := uuid.Parse(e.Nation); err == nil {
			nextID = id
		}
		if o := w.Apply(req); !o.OK() {
			return fmt.Errorf("v%d %s by %s was accepted live but replays as %s", e.Version, e.Op, e.Requester, o.Code)
		}
		if got := w.Store().Version(); got != e.Version {
			return fmt.Errorf("v%d %s: replay reached version %d", e.Version, e.Op, got)
		}
		res.Applied++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, res, err
	}
	res.To = w.Store().Version()
	res.Nations = w.Store().Len()
	return w, res, nil
}

// compare matches records by id. Map and slice order is normalized through JSON.
func compare(got, want []snapshot.NationV1) []string {
	index := func(recs []snapshot.NationV1) map[string]string {
		m := make(map[string]string, len(recs))
		for _, r := range recs {
			slices.Sort(r.Invites)
			b, _ := json.Marshal(r)
			m[r.ID] = string(b)
		}
		return m
	}
	g, wnt := index(got), index(want)
	var diff []string
	for id, wj := range wnt {
		gj, ok := g[id]
		switch {
		case !ok:
			diff = append(diff, fmt.Sprintf("%s missing after replay", id))
		case gj != wj:
			diff = append(diff, fmt.Sprintf("%s\n  replay: %s\n  expect: %s", id, gj, wj))
		}
	}
	for id := range g {
		if _, ok := wnt[id]; !ok {
			diff = append(diff, fmt.Sprintf("%s only exists after replay", id))
		}
	}
	slices.Sort(diff)
	return diff
}
