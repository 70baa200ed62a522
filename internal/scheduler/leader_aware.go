package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/leadership"
)

// LeaderAwareService wraps the horizon maintainer and only runs it on the
// instance currently holding the leadership lease. Without this, every
// replica would extend and prune the same timelines concurrently.
type LeaderAwareService struct {
	maintainer *Service
	election   *leadership.Election
	logger     zerolog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool
}

// NewLeaderAware creates a leader-aware wrapper around the maintainer.
func NewLeaderAware(maintainer *Service, election *leadership.Election, logger zerolog.Logger) *LeaderAwareService {
	return &LeaderAwareService{
		maintainer: maintainer,
		election:   election,
		logger:     logger.With().Str("component", "leader_aware_horizon").Logger(),
	}
}

// Start begins leader election and manages the maintainer's lifecycle based
// on leadership changes.
func (l *LeaderAwareService) Start(ctx context.Context) error {
	l.ctx = ctx

	if err := l.election.Start(ctx); err != nil {
		return err
	}

	go l.monitorLeadership()
	return nil
}

// Stop stops the maintainer if running and releases leadership.
func (l *LeaderAwareService) Stop() error {
	if l.running && l.cancelFunc != nil {
		l.cancelFunc()
		l.running = false
	}
	return l.election.Stop()
}

// IsLeader reports whether this instance currently holds the lease.
func (l *LeaderAwareService) IsLeader() bool {
	return l.election.IsLeader()
}

func (l *LeaderAwareService) monitorLeadership() {
	leaderCh := l.election.LeaderCh()

	if l.election.IsLeader() {
		l.startMaintainer()
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting horizon maintenance")
				l.startMaintainer()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping horizon maintenance")
				l.stopMaintainer()
			}
		}
	}
}

func (l *LeaderAwareService) startMaintainer() {
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelFunc = cancel
	l.running = true

	go func() {
		if err := l.maintainer.Run(ctx); err != nil && err != context.Canceled {
			l.logger.Error().Err(err).Msg("horizon maintainer error")
		}
		l.running = false
	}()
}

func (l *LeaderAwareService) stopMaintainer() {
	if !l.running {
		return
	}
	if l.cancelFunc != nil {
		l.cancelFunc()
		l.cancelFunc = nil
	}
	// Give the loop a moment to observe cancellation.
	time.Sleep(100 * time.Millisecond)
	l.running = false
}
