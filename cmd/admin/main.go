package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sanity-io/litter"
	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/config"
	"nationcraft.ai/internal/persistence/archive"
	"nationcraft.ai/internal/persistence/kvstore"
	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/nation/store"
	"nationcraft.ai/internal/transport/ws"
)

var errUsage = errors.New("usage: admin <dump|verify|audit|archives|restore|token|state|flush> [flags]")

func main() {
	_ = config.LoadDotEnv(".env")
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmds := map[string]func([]string, io.Writer) error{
		"dump":     dumpCmd,
		"verify":   verifyCmd,
		"audit":    auditCmd,
		"archives": archivesCmd,
		"restore":  restoreCmd,
		"token":    tokenCmd,
		"state":    stateCmd,
		"flush":    flushCmd,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		return fmt.Errorf("%w (unknown command %q)", errUsage, args[0])
	}
	return cmd(args[1:], out)
}

type blobFlags struct {
	dataDir *string
	backend *string
	blob    *string
}

func addBlobFlags(fs *flag.FlagSet) blobFlags {
	return blobFlags{
		dataDir: fs.String("data", "./data", "runtime data directory"),
		backend: fs.String("backend", config.BackendFile, "persistence backend: file|badger"),
		blob:    fs.String("blob", "", "read this blob file instead of the live backend"),
	}
}

func (f blobFlags) open() (snapshot.Backend, error) {
	if *f.backend == config.BackendBadger {
		log := logrus.New()
		log.SetLevel(logrus.ErrorLevel)
		return kvstore.OpenBadger(filepath.Join(*f.dataDir, "badger"), logrus.NewEntry(log))
	}
	return snapshot.NewFileBackend(*f.dataDir), nil
}

func (f blobFlags) load() (snapshot.SnapshotV1, error) {
	if p := strings.TrimSpace(*f.blob); p != "" {
		return snapshot.ReadSnapshot(p)
	}
	be, err := f.open()
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	defer be.Close()
	snap, ok, err := be.Load()
	if err != nil {
		return snap, err
	}
	if !ok {
		return snap, fmt.Errorf("no %s blob under %s", *f.backend, *f.dataDir)
	}
	return snap, nil
}

func dumpCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	bf := addBlobFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON instead of a Go-literal dump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := bf.load()
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(out, snap)
	}
	opts := litter.Options{StripPackageNames: true, HidePrivateFields: true, Separator: " "}
	_, err = fmt.Fprintln(out, opts.Sdump(snap))
	return err
}

// verifyCmd loads the blob the way the server does and reports what a start would repair.
func verifyCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	bf := addBlobFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := bf.load()
	if err != nil {
		return err
	}
	st, stats := store.Load(snap.Nations)
	fmt.Fprintf(out, "seq=%d saved_at=%s nations=%d skipped_nations=%d skipped_entries=%d repaired_leaders=%d dropped_relations=%d\n",
		snap.Header.Seq, snap.Header.SavedAt, stats.Nations, stats.SkippedNations, stats.SkippedEntries,
		stats.RepairedLeaders, stats.DroppedRelations)
	if err := st.CheckInvariants(); err != nil {
		return fmt.Errorf("invariants violated after load: %w", err)
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func archivesCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("archives", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := archive.New(*dataDir, 0, 0).List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "no archives")
		return nil
	}
	for _, m := range list {
		fmt.Fprintf(out, "seq=%d nations=%d created_at=%s server=%s\n", m.Seq, m.Nations, m.CreatedAt, m.ServerID)
	}
	return nil
}

// restoreCmd replaces the live blob with an archived one. Run it only while the server is stopped.
func restoreCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	bf := addBlobFlags(fs)
	seq := fs.Uint64("seq", 0, "archive sequence to restore (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *seq == 0 {
		return fmt.Errorf("%w: restore -seq <n>", errUsage)
	}
	arch := archive.New(*bf.dataDir, 0, 0)
	snap, err := snapshot.ReadSnapshot(arch.Path(*seq))
	if err != nil {
		return fmt.Errorf("read archive %d: %w", *seq, err)
	}
	if _, stats := store.Load(snap.Nations); stats.SkippedNations > 0 {
		fmt.Fprintf(out, "warning: %d nation(s) in the archive will be skipped on load\n", stats.SkippedNations)
	}
	snap.Header.SavedAt = time.Now().UTC().Format(time.RFC3339)

	be, err := bf.open()
	if err != nil {
		return err
	}
	defer be.Close()
	if err := be.Save(snap); err != nil {
		return err
	}
	fmt.Fprintf(out, "restored seq=%d nations=%d into %s backend\n", *seq, len(snap.Nations), *bf.backend)
	return nil
}

func tokenCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("NC_AUTH_SECRET"), "signing secret (default NC_AUTH_SECRET)")
	identity := fs.String("identity", "", "identity uuid (default: a new one)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	auth := ws.NewAuthenticator(*secret)
	if auth.DevMode() {
		return errors.New("no secret: pass -secret or set NC_AUTH_SECRET")
	}
	id := uuid.New()
	if *identity != "" {
		var err error
		if id, err = uuid.Parse(*identity); err != nil {
			return fmt.Errorf("bad -identity: %w", err)
		}
	}
	tok, err := auth.IssueToken(id, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "identity=%s\ntoken=%s\n", id, tok)
	return nil
}
