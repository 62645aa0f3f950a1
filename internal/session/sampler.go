package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/hub"
	"github.com/user/termharness/internal/resource"
)

const (
	defaultSampleInterval = 5 * time.Second
	defaultSampleKeep     = 1000
)

// UsageStore persists usage samples. *db.UsageRepo implements it.
type UsageStore interface {
	Insert(ctx context.Context, sample *db.UsageSample) error
	Prune(ctx context.Context, keep int) (int64, error)
}

// UsagePublisher receives usage snapshots. *hub.Hub implements it.
type UsagePublisher interface {
	BroadcastUsage(msg hub.UsageMessage)
}

type SamplerConfig struct {
	Tracker *resource.Tracker
	// Manager supplies the live session count; optional.
	Manager   *Manager
	Store     UsageStore
	Publisher UsagePublisher
	Logger    *slog.Logger
	Interval  time.Duration
	// Keep bounds how many samples stay in the store.
	Keep int
}

// Sampler periodically snapshots tracker usage, stores it and publishes it.
type Sampler struct {
	tracker   *resource.Tracker
	manager   *Manager
	store     UsageStore
	publisher UsagePublisher
	logger    *slog.Logger
	interval  time.Duration
	keep      int
}

func NewSampler(cfg SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultSampleKeep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		tracker:   cfg.Tracker,
		manager:   cfg.Manager,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    logger,
		interval:  interval,
		keep:      keep,
	}
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample takes one snapshot. Store and publish failures are logged.
func (s *Sampler) Sample(ctx context.Context) db.UsageSample {
	usage := s.tracker.CurrentUsage()
	live := 0
	if s.manager != nil {
		live = s.manager.LiveCount()
	}
	sample := db.UsageSample{
		TraceBytes:      usage.TraceBytes,
		OutputBytes:     usage.OutputBytes,
		ActiveProcesses: int(usage.ActiveProcesses),
		LiveSessions:    live,
		SampledAt:       time.Now().UTC(),
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, &sample); err != nil {
			s.logger.Warn("failed to store usage sample", "error", err)
		} else if removed, err := s.store.Prune(ctx, s.keep); err != nil {
			s.logger.Warn("failed to prune usage samples", "error", err)
		} else if removed > 0 {
			s.logger.Debug("pruned usage samples", "removed", removed)
		}
	}
	if s.publisher != nil {
		s.publisher.BroadcastUsage(hub.UsageMessage{
			TraceBytes:      usage.TraceBytes,
			OutputBytes:     usage.OutputBytes,
			ActiveProcesses: usage.ActiveProcesses,
			LiveSessions:    live,
			Ts:              sample.SampledAt.UnixMilli(),
		})
	}
	s.logger.Debug("usage sampled", "usage", usage.String(), "sessions", live)
	return sample
}
