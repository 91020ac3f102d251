package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"nationcraft.ai/internal/config"
	"nationcraft.ai/internal/notify/discord"
	"nationcraft.ai/internal/persistence/archive"
	"nationcraft.ai/internal/persistence/indexdb"
	"nationcraft.ai/internal/persistence/kvstore"
	persistlog "nationcraft.ai/internal/persistence/log"
	"nationcraft.ai/internal/persistence/r2s3"
	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/nation/store"
	"nationcraft.ai/internal/sim/world"
	"nationcraft.ai/internal/tracing"
	"nationcraft.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		envPath    = flag.String("env", ".env", "dotenv file loaded before the environment overlay")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		backend    = flag.String("backend", "", "persistence backend: file|badger (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite audit index")
		checkInv   = flag.Bool("check_invariants", false, "verify store invariants after every mutation")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logger.WithField("component", "server")

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.WithError(err).Fatal("load env")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Listen = *addr
		case "data":
			cfg.DataDir = *dataDir
		case "backend":
			cfg.Backend = *backend
		case "disable_db":
			cfg.Index.Enabled = !*disableDB
		case "check_invariants":
			cfg.CheckInvariants = *checkInv
		}
	})
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		log.Warnf("unknown log level %q; using info", cfg.LogLevel)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.WithError(err).Fatal("create data dir")
	}

	shutdownTracing, err := tracing.Setup(context.Background(), "nationcraft-server", cfg.Tracing)
	if err != nil {
		log.WithError(err).Fatal("tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	be, err := openBackend(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open backend")
	}
	defer be.Close()

	st, stats, err := loadStore(be)
	if err != nil {
		log.WithError(err).Fatal("load nations")
	}
	log.WithFields(logrus.Fields{
		"backend":           cfg.Backend,
		"nations":           stats.Nations,
		"skipped_nations":   stats.SkippedNations,
		"skipped_entries":   stats.SkippedEntries,
		"repaired_leaders":  stats.RepairedLeaders,
		"dropped_relations": stats.DroppedRelations,
	}).Info("nations loaded")

	var idx *indexdb.SQLiteIndex
	if cfg.Index.Enabled {
		idx, err = indexdb.OpenSQLite(cfg.IndexPath())
		if err != nil {
			log.WithError(err).Fatal("open index")
		}
		defer idx.Close()
	}

	var mirror *r2s3.Mirror
	if cfg.Mirror.Enabled() {
		client, err := r2s3.New(r2s3.Config{
			Endpoint:        cfg.Mirror.Endpoint,
			Bucket:          cfg.Mirror.Bucket,
			Region:          cfg.Mirror.Region,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
		})
		if err != nil {
			log.WithError(err).Fatal("init mirror")
		}
		mirror = r2s3.NewMirror(client, cfg.DataDir, cfg.Mirror.Prefix, 2, 64, log)
	}

	w := world.New(world.Config{
		ID:              cfg.ServerID,
		FlushEvery:      cfg.FlushEvery,
		InboxSize:       cfg.InboxSize,
		CheckInvariants: cfg.CheckInvariants,
	}, st, log)

	audits := world.AuditLoggers{}
	if cfg.AuditLog {
		al := persistlog.NewAuditLogger(cfg.DataDir)
		defer al.Close()
		audits = append(audits, al)
	}
	if idx != nil {
		audits = append(audits, idx)
	}
	if len(audits) > 0 {
		w.SetAuditLogger(audits)
	}

	if cfg.Discord.WebhookURL != "" {
		poster, err := discord.NewWebhookPoster(cfg.Discord.WebhookURL)
		if err != nil {
			log.WithError(err).Fatal("discord webhook")
		}
		ann := discord.NewAnnouncer(poster, cfg.Discord.Username, log)
		defer ann.Close()
		w.AddListener(ann)
	}

	p := &persister{
		backend:     be,
		backendName: cfg.Backend,
		archiver:    archive.New(cfg.DataDir, cfg.Archive.Every, cfg.Archive.Keep),
		index:       idx,
		mirror:      mirror,
		log:         log.WithField("component", "persist"),
	}
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	acks := w.TrackSaves()
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		p.run(snapCh, acks)
	}()

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("world stopped")
		}
	}()

	auth := ws.NewAuthenticator(cfg.AuthSecret)
	if auth.DevMode() {
		log.Warn("no auth secret configured; identities are trusted as claimed")
	}
	mux := newMux(w, httpDeps{
		serverID: cfg.ServerID,
		index:    idx,
		mirror:   mirror,
		ws: ws.NewServer(w, ws.Options{
			Auth:              auth,
			OutboundQueue:     cfg.OutboundQueue,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, log),
		admin: envBool("NC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{"addr": cfg.Listen, "data": filepath.Clean(cfg.DataDir)}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("ListenAndServe")
		cancel()
	}

	// The world's final flush lands in snapCh; drain it before closing the backend.
	<-worldDone
	close(snapCh)
	<-persistDone
	mirror.Close()
	log.Info("shutdown complete")
}

func openBackend(cfg config.Config, log *logrus.Entry) (snapshot.Backend, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return kvstore.OpenBadger(filepath.Join(cfg.DataDir, "badger"), log)
	default:
		return snapshot.NewFileBackend(cfg.DataDir), nil
	}
}

func loadStore(be snapshot.Backend) (*store.Store, store.LoadStats, error) {
	snap, ok, err := be.Load()
	if err != nil {
		return nil, store.LoadStats{}, err
	}
	if !ok {
		return store.New(), store.LoadStats{}, nil
	}
	st, stats := store.Load(snap.Nations)
	st.ResumeVersion(snap.Header.Seq)
	return st, stats, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
