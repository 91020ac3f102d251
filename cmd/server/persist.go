package main

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"nationcraft.ai/internal/persistence/archive"
	"nationcraft.ai/internal/persistence/indexdb"
	"nationcraft.ai/internal/persistence/r2s3"
	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/world"
)

// persister consumes the world's snapshot sink. Every step after the backend write is best effort.
type persister struct {
	backend     snapshot.Backend
	backendName string
	archiver    *archive.Archiver
	index       *indexdb.SQLiteIndex
	mirror      *r2s3.Mirror
	log         *logrus.Entry
}

// run saves every snapshot from ch and reports each result on acks (when non-nil).
func (p *persister) run(ch <-chan snapshot.SnapshotV1, acks chan<- world.SaveAck) {
	for snap := range ch {
		err := p.handle(snap)
		if acks == nil {
			continue
		}
		select {
		case acks <- world.SaveAck{Seq: snap.Header.Seq, Err: err}:
		default:
			p.log.WithField("seq", snap.Header.Seq).Warn("save ack dropped")
		}
	}
}

func (p *persister) handle(snap snapshot.SnapshotV1) error {
	_, span := otel.Tracer("nationcraft.ai/cmd/server").Start(context.Background(), "persist.flush")
	span.SetAttributes(
		attribute.Int64("nation.seq", int64(snap.Header.Seq)),
		attribute.String("persist.backend", p.backendName),
	)
	defer span.End()

	log := p.log.WithFields(logrus.Fields{"seq": snap.Header.Seq, "nations": len(snap.Nations)})
	if err := p.backend.Save(snap); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "save")
		log.WithError(err).Error("flush failed")
		return err
	}
	log.Debug("flushed")
	p.index.RecordFlush(indexdb.NewFlushRecord(p.backendName, snap))

	path, ok, err := p.archiver.Maybe(snap)
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Error("archive")
		return nil
	}
	if ok {
		span.SetAttributes(attribute.String("archive.path", path))
		log.WithField("path", path).Info("archived")
		p.mirror.Enqueue(path)
		p.mirror.Enqueue(filepath.Join(filepath.Dir(path), "meta.json"))
	}
	return nil
}
