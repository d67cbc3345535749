package attachment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskattach/internal/logger"
	"taskattach/internal/repository"
	"taskattach/internal/storage"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepGrace keeps the sweeper away from uploads that have stored
// their blob but not yet committed the record
const DefaultSweepGrace = time.Hour

type keyLister interface {
	ListAll(ctx context.Context) ([]*repository.Attachment, error)
}

// Sweeper reconciles blobs with attachment records. Blobs nobody references
// are deleted once they are older than the grace period; records whose blob
// is gone are only reported.
type Sweeper struct {
	blobs   storage.BlobStore
	records keyLister
	grace   time.Duration
	dryRun  bool
	now     func() time.Time
	log     *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

type SweepOptions struct {
	Grace  time.Duration
	DryRun bool
}

// SweepReport summarizes one reconciliation pass
type SweepReport struct {
	Blobs        int      `json:"blobs"`
	Records      int      `json:"records"`
	Orphans      []string `json:"orphans"`
	Deleted      []string `json:"deleted"`
	Failed       []string `json:"failed"`
	MissingBlobs []string `json:"missing_blobs"`
}

func NewSweeper(blobs storage.BlobStore, records keyLister, opts SweepOptions) *Sweeper {
	if opts.Grace <= 0 {
		opts.Grace = DefaultSweepGrace
	}
	return &Sweeper{
		blobs:   blobs,
		records: records,
		grace:   opts.Grace,
		dryRun:  opts.DryRun,
		now:     time.Now,
		log:     logger.Named("sweeper"),
	}
}

// Sweep runs one pass. Blobs are listed before records so a blob committed
// in between is never mistaken for an orphan.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	keys, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	rows, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	report := &SweepReport{Blobs: len(keys), Records: len(rows)}

	referenced := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		referenced[r.StorageKey] = struct{}{}
	}
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}

	cutoff := s.now().Add(-s.grace)
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		created, ok := KeyTime(key)
		if !ok || created.After(cutoff) {
			continue
		}
		report.Orphans = append(report.Orphans, key)
		if s.dryRun {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			report.Failed = append(report.Failed, key)
			s.log.Warn("Failed to delete orphaned blob", zap.String("storage_key", key), zap.Error(err))
			continue
		}
		report.Deleted = append(report.Deleted, key)
	}

	for _, r := range rows {
		if _, ok := present[r.StorageKey]; ok {
			continue
		}
		report.MissingBlobs = append(report.MissingBlobs, r.StorageKey)
		s.log.Warn("Attachment record has no blob",
			zap.Int("attachment_id", r.ID),
			zap.Int("task_id", r.TaskID),
			zap.String("storage_key", r.StorageKey),
			zap.Bool("consistency_warning", true),
		)
	}

	s.log.Info("Sweep finished",
		zap.Int("blobs", report.Blobs),
		zap.Int("records", report.Records),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("missing_blobs", len(report.MissingBlobs)),
		zap.Bool("dry_run", s.dryRun),
	)
	return report, nil
}

// Start schedules Sweep with a standard five field cron expression.
// Overlapping runs are skipped.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	clog := cronLogger{s.log.Sugar()}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.SkipIfStillRunning(clog)))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("Scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("Sweeper scheduled", zap.String("schedule", schedule), zap.Duration("grace", s.grace))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// cronLogger sends scheduler output through zap. Routine wake and run
// notices are debug level.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
