package r2s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Stats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
	EnqueuedTotal      uint64 `json:"enqueued_total"`
	DroppedTotal       uint64 `json:"dropped_total"`
	UploadSuccessTotal uint64 `json:"upload_success_total"`
	UploadFailTotal    uint64 `json:"upload_fail_total"`
	LastSuccessUnix    int64  `json:"last_success_unix"`
	LastErrorUnix      int64  `json:"last_error_unix"`
}

// Uploader is the subset of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

// Mirror copies files under dataDir to object storage in the background,
// keyed by their path relative to dataDir.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	log     *logrus.Entry

	jobs        chan string
	enqueueWait time.Duration
	backoff     time.Duration
	wg          sync.WaitGroup

	enqueuedTotal      atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queueCapacity int, log *logrus.Entry) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Mirror{
		up:          up,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:         log.WithField("component", "mirror"),
		jobs:        make(chan string, queueCapacity),
		enqueueWait: 25 * time.Millisecond,
		backoff:     200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload, waiting briefly when the queue is full.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.log.WithFields(logrus.Fields{"local": localPath, "dropped_total": dropped}).Warn("mirror queue saturated, dropping")
	}
}

// Close drains pending uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
		LastSuccessUnix:    m.lastSuccessUnix.Load(),
		LastErrorUnix:      m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.log.WithError(err).WithField("local", localPath).Warn("mirror skip")
		return
	}
	log := m.log.WithFields(logrus.Fields{"key": key, "local": localPath})
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		log.WithError(err).Error("mirror upload failed")
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	log.Debug("mirror uploaded")
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}
