// Package scheduler promotes due scheduled campaigns to sending and hands them to the send queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// FailureRecorder moves a claimed campaign to failed when its job cannot be dispatched.
type FailureRecorder interface {
	MarkFailed(ctx context.Context, id int64, cause error)
}

// CampaignScheduler periodically claims due campaigns and publishes a job for each. It never waits
// for a send to finish.
type CampaignScheduler struct {
	campaigns  repository.CampaignRepositoryInterface
	logs       repository.DeliveryLogRepositoryInterface
	queue      queue.Queue
	failures   FailureRecorder
	lock       TickLock
	log        *zap.Logger
	interval   time.Duration
	stuckAfter time.Duration
	now        func() time.Time
}

type Option func(*CampaignScheduler)

func WithTickLock(l TickLock) Option { return func(s *CampaignScheduler) { s.lock = l } }

func WithClock(now func() time.Time) Option { return func(s *CampaignScheduler) { s.now = now } }

// WithStuckAfter sets how long a campaign may sit in sending with no log activity before it is reported.
func WithStuckAfter(d time.Duration) Option { return func(s *CampaignScheduler) { s.stuckAfter = d } }

func NewCampaignScheduler(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.DeliveryLogRepositoryInterface,
	q queue.Queue,
	failures FailureRecorder,
	log *zap.Logger,
	interval time.Duration,
	opts ...Option,
) *CampaignScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &CampaignScheduler{
		campaigns:  campaigns,
		logs:       logs,
		queue:      q,
		failures:   failures,
		log:        log.Named("scheduler"),
		interval:   interval,
		stuckAfter: 15 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// Stop cancels the loop and waits for the current scan to return.
func (s *CampaignScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// RunOnce performs a single scan.
func (s *CampaignScheduler) RunOnce(ctx context.Context) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			s.log.Warn("tick lock unavailable, scanning anyway", zap.Error(err))
		} else if !ok {
			s.log.Debug("another instance holds the tick lock")
			return
		}
	}
	metrics.SchedulerTicks.Inc()

	s.dispatchDue(ctx)
	s.reportStuck(ctx)
}

func (s *CampaignScheduler) dispatchDue(ctx context.Context) {
	now := s.now()
	due, err := s.campaigns.ListDue(ctx, now)
	if err != nil {
		s.log.Error("list due campaigns failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info("due campaigns found", zap.Int("count", len(due)))

	for _, c := range due {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, c, now)
	}
}

func (s *CampaignScheduler) dispatch(ctx context.Context, c *model.Campaign, now time.Time) {
	log := s.log.With(zap.Int64("campaign_id", c.ID))

	claimed, err := s.campaigns.MarkSending(ctx, c.ID, now)
	if err != nil {
		metrics.SchedulerClaims.WithLabelValues("error").Inc()
		log.Error("claim failed", zap.Error(err))
		return
	}
	if !claimed {
		metrics.SchedulerClaims.WithLabelValues("skipped").Inc()
		return
	}
	metrics.SchedulerClaims.WithLabelValues("claimed").Inc()

	job := queue.CampaignJob{CampaignID: c.ID, RequestedBy: "scheduler"}
	if err := s.queue.Publish(queue.CampaignSendsTopic, job); err != nil {
		s.failures.MarkFailed(context.WithoutCancel(ctx), c.ID, fmt.Errorf("dispatch send job: %w", err))
		return
	}
	log.Info("campaign dispatched")
}

// reportStuck logs campaigns that have been sending longer than stuckAfter with no recent log
// entry. Nothing is changed; recovery is an operator decision.
func (s *CampaignScheduler) reportStuck(ctx context.Context) {
	threshold := s.now().Add(-s.stuckAfter)
	candidates, err := s.campaigns.ListStuck(ctx, threshold)
	if err != nil {
		s.log.Error("list stuck campaigns failed", zap.Error(err))
		return
	}

	stuck := 0
	for _, c := range candidates {
		last, err := s.logs.LastActivity(ctx, c.ID)
		if err != nil {
			s.log.Error("read last activity failed", zap.Int64("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if last != nil && last.After(threshold) {
			continue
		}
		stuck++
		fields := []zap.Field{zap.Int64("campaign_id", c.ID), zap.Timep("sending_started_at", c.SendingStartedAt)}
		if last != nil {
			fields = append(fields, zap.Time("last_activity", *last))
		}
		s.log.Warn("campaign appears stuck in sending", fields...)
	}
	metrics.StuckCampaigns.Set(float64(stuck))
}
