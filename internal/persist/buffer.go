// Package persist accumulates records and flushes them as immutable
// newline-delimited JSON segments on a size or age trigger.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/clock/system"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/metrics"
)

// Flush triggers.
const (
	TriggerSize  = "size"
	TriggerAge   = "age"
	TriggerClose = "close"
)

const (
	defaultMaxRecords   = 500
	defaultMaxAge       = 30 * time.Second
	defaultFlushTimeout = 30 * time.Second
	defaultContentType  = "application/x-ndjson"
	minTickInterval     = 10 * time.Millisecond
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("persist: buffer closed")

// Config controls batching and segment naming.
//   - RunID: segment directory under Prefix (required).
//   - MaxRecords: flush once this many records are pending (default 500).
//   - MaxAge: flush pending records once this long has passed since the last flush (default 30s).
//   - Topic: publish a notification per segment when set and a publisher is wired.
//   - FlushTimeout: bound for ticker-driven flushes (default 30s).
type Config struct {
	RunID        string
	Prefix       string
	MaxRecords   int
	MaxAge       time.Duration
	Topic        string
	ContentType  string
	FlushTimeout time.Duration
}

// Stats summarizes what the buffer has written.
type Stats struct {
	Records  int
	Segments int
	Pending  int
}

// Buffer is safe for concurrent Append. Each Append is atomic: its records
// always land in the same segment.
type Buffer struct {
	cfg       Config
	store     crawler.BlobStore
	manifest  crawler.SegmentManifest
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	pending    []crawler.Record
	lastFlush  time.Time
	seq        int
	stats      Stats
	closed     bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New builds a Buffer and starts its age ticker. manifest, publisher and
// hasher are optional; clock defaults to the system clock.
func New(
	cfg Config,
	store crawler.BlobStore,
	manifest crawler.SegmentManifest,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Buffer, error) {
	if store == nil {
		return nil, errors.New("persist: blob store is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, errors.New("persist: run id is required")
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffer{
		cfg:       cfg,
		store:     store,
		manifest:  manifest,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		logger:    logger.Named("persist"),
		pending:   make([]crawler.Record, 0, cfg.MaxRecords),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		lastFlush: clock.Now(),
	}
	go b.run()
	return b, nil
}

// Append adds records and flushes when a threshold is crossed. A flush
// failure keeps the records pending and is returned to the caller.
func (b *Buffer) Append(ctx context.Context, records ...crawler.Record) error {
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending = append(b.pending, records...)

	switch {
	case len(b.pending) >= b.cfg.MaxRecords:
		return b.flushLocked(ctx, TriggerSize)
	case b.clock.Now().Sub(b.lastFlush) >= b.cfg.MaxAge:
		return b.flushLocked(ctx, TriggerAge)
	}
	return nil
}

// Close stops the ticker and writes whatever is pending. Further appends
// fail with ErrClosed. Safe to call more than once.
func (b *Buffer) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	err := b.flushLocked(ctx, TriggerClose)
	b.closed = true
	if err != nil {
		b.logger.Error("final flush failed, records lost",
			zap.Int("pending", len(b.pending)),
			zap.Error(err),
		)
	}
	return err
}

// Stats returns a snapshot of what has been written so far.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.pending)
	return s
}

func (b *Buffer) run() {
	defer close(b.doneCh)
	interval := max(b.cfg.MaxAge/2, minTickInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flushIfAged()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Buffer) flushIfAged() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.pending) == 0 || b.clock.Now().Sub(b.lastFlush) < b.cfg.MaxAge {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
	defer cancel()
	if err := b.flushLocked(ctx, TriggerAge); err != nil {
		b.logger.Warn("timed flush failed, will retry", zap.Error(err))
	}
}

// SegmentPath names segment seq of a run.
func SegmentPath(prefix, runID string, seq int) string {
	name := fmt.Sprintf("%s/part-%05d.jsonl", runID, seq)
	if p := strings.Trim(prefix, "/"); p != "" {
		return p + "/" + name
	}
	return name
}

func (b *Buffer) flushLocked(ctx context.Context, trigger string) error {
	if len(b.pending) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	info := crawler.SegmentInfo{
		RunID:    b.cfg.RunID,
		Sequence: b.seq,
		Records:  len(b.pending),
		MinID:    math.MaxInt64,
		MaxID:    math.MinInt64,
	}
	counts := map[crawler.RecordType]int{}
	for _, rec := range b.pending {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", rec.ID, err)
		}
		info.MinID = min(info.MinID, rec.ID)
		info.MaxID = max(info.MaxID, rec.ID)
		counts[rec.Type]++
	}
	data := buf.Bytes()
	info.Bytes = len(data)
	if b.hasher != nil {
		digest, err := b.hasher.Hash(data)
		if err != nil {
			return fmt.Errorf("hash segment: %w", err)
		}
		info.Hash = digest
	}

	path := SegmentPath(b.cfg.Prefix, b.cfg.RunID, b.seq)
	uri, err := b.store.PutObject(ctx, path, b.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write segment %s: %w", path, err)
	}
	info.URI = uri
	info.FlushedAt = b.clock.Now()
	b.lastFlush = info.FlushedAt

	b.seq++
	b.stats.Segments++
	b.stats.Records += info.Records
	b.pending = make([]crawler.Record, 0, b.cfg.MaxRecords)

	metrics.ObserveSegment(trigger)
	for typ, n := range counts {
		metrics.ObserveRecords(string(typ), n)
	}
	b.logger.Info("segment flushed",
		zap.String("uri", uri),
		zap.String("trigger", trigger),
		zap.Int("records", info.Records),
		zap.Int64("min_id", info.MinID),
		zap.Int64("max_id", info.MaxID),
		zap.Int("total_records", b.stats.Records),
	)
	b.announce(ctx, info)
	return nil
}

// announce records the segment in the manifest and publishes it. The segment
// is already durable, so failures here are logged only.
func (b *Buffer) announce(ctx context.Context, info crawler.SegmentInfo) {
	if b.manifest != nil {
		if err := b.manifest.RecordSegment(ctx, info); err != nil {
			b.logger.Warn("manifest write failed", zap.String("uri", info.URI), zap.Error(err))
		}
	}
	if b.publisher != nil && b.cfg.Topic != "" {
		if _, err := b.publisher.Publish(ctx, b.cfg.Topic, info); err != nil {
			b.logger.Warn("segment notification failed", zap.String("uri", info.URI), zap.Error(err))
		}
	}
}
