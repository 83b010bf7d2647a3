package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"launchpadScope/internal/model"
	"launchpadScope/internal/observability"
)

// ArchiveConfig tunes the archive queue.
type ArchiveConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (c *ArchiveConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

type archiveItem struct {
	event     model.Event
	decodeErr *model.DecodeError
	snapshot  *model.BondedCurveSnapshot
}

type archiveBatch struct {
	events    []model.Event
	decodeErr []model.DecodeError
	snapshots []model.BondedCurveSnapshot
}

func (b *archiveBatch) add(item archiveItem) {
	switch {
	case item.event != nil:
		b.events = append(b.events, item.event)
	case item.decodeErr != nil:
		b.decodeErr = append(b.decodeErr, *item.decodeErr)
	case item.snapshot != nil:
		b.snapshots = append(b.snapshots, *item.snapshot)
	}
}

func (b *archiveBatch) len() int {
	return len(b.events) + len(b.decodeErr) + len(b.snapshots)
}

// Archiver writes records to sinks from a background goroutine. Enqueueing
// never blocks; records are dropped when the queue is full.
type Archiver struct {
	cfg     ArchiveConfig
	sinks   []Sink
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan archiveItem
	done   chan struct{}
}

func NewArchiver(cfg ArchiveConfig, logger *zap.Logger, metrics *observability.Metrics, sinks ...Sink) *Archiver {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		cfg:     cfg,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan archiveItem, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Archiver) Event(ev model.Event) {
	a.enqueue(archiveItem{event: ev})
}

func (a *Archiver) DecodeError(e model.DecodeError) {
	a.enqueue(archiveItem{decodeErr: &e})
}

func (a *Archiver) Snapshot(s model.BondedCurveSnapshot) {
	a.enqueue(archiveItem{snapshot: &s})
}

func (a *Archiver) enqueue(item archiveItem) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- item:
	default:
		a.metrics.Dropped()
	}
}

func (a *Archiver) loop() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	var batch archiveBatch
	for {
		select {
		case item, ok := <-a.queue:
			if !ok {
				a.flush(&batch)
				return
			}
			batch.add(item)
			if batch.len() >= a.cfg.BatchSize {
				a.flush(&batch)
			}
		case <-ticker.C:
			a.flush(&batch)
		}
	}
}

func (a *Archiver) flush(batch *archiveBatch) {
	if batch.len() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	for _, sink := range a.sinks {
		if err := a.write(ctx, sink, batch); err != nil {
			a.logger.Error("archive write failed", zap.Error(err), zap.Int("records", batch.len()))
		}
	}
	*batch = archiveBatch{}
}

func (a *Archiver) write(ctx context.Context, sink Sink, batch *archiveBatch) error {
	var errs []error
	if len(batch.events) > 0 {
		errs = append(errs, sink.PutEvents(ctx, batch.events))
	}
	if len(batch.decodeErr) > 0 {
		errs = append(errs, sink.PutDecodeErrors(ctx, batch.decodeErr))
	}
	if len(batch.snapshots) > 0 {
		errs = append(errs, sink.PutSnapshots(ctx, batch.snapshots))
	}
	return errors.Join(errs...)
}

// Close flushes queued records and closes the sinks.
func (a *Archiver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done

	var errs []error
	for _, sink := range a.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
