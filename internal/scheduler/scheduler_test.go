package scheduler_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/scheduler"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	clock     *clock
	campaigns *repository.MemoryCampaignRepository
	logs      *repository.MemoryDeliveryLogRepository
	mailer    *mailer.MockMailer
	queue     *queue.InMemoryQueue
	svc       *service.CampaignService
	orch      *service.SendOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     &clock{now: t0},
		campaigns: repository.NewMemoryCampaignRepository(),
		logs:      repository.NewMemoryDeliveryLogRepository(),
		mailer:    mailer.NewMockMailer(),
		queue:     queue.NewInMemoryQueue(zap.NewNop()),
	}
	candidates := repository.NewMemoryCandidateSource(
		model.Candidate{ID: 1, Email: "one@teams.org", Status: model.CandidateApproved, CreatedAt: t0},
		model.Candidate{ID: 2, Email: "two@teams.org", Status: model.CandidateApproved, CreatedAt: t0},
	)
	h.svc = &service.CampaignService{CampaignRepo: h.campaigns, LogRepo: h.logs, Candidates: candidates, Now: h.clock.Now}
	h.orch = &service.SendOrchestrator{
		CampaignRepo: h.campaigns,
		LogRepo:      h.logs,
		Candidates:   candidates,
		Mailer:       h.mailer,
		Workers:      2,
		Now:          h.clock.Now,
	}
	return h
}

func (h *harness) subscribe(t *testing.T) {
	t.Helper()
	require.NoError(t, queue.StartCampaignSendSubscriber(context.Background(), h.queue, h.campaigns, h.orch.RunJob, zap.NewNop()))
}

func (h *harness) scheduler(opts ...scheduler.Option) *scheduler.CampaignScheduler {
	opts = append([]scheduler.Option{scheduler.WithClock(h.clock.Now)}, opts...)
	return scheduler.NewCampaignScheduler(h.campaigns, h.logs, h.queue, h.orch, zap.NewNop(), time.Hour, opts...)
}

func (h *harness) scheduled(t *testing.T, at time.Time) *model.Campaign {
	t.Helper()
	c, err := h.svc.CreateCampaign(context.Background(), service.CreateCampaignInput{
		Name:        "Reminder",
		Subject:     "Deadline tomorrow",
		Body:        "Submit your project.",
		Targeting:   model.Targeting{Mode: model.TargetCategory, Category: model.CategoryApprovedTeams},
		ScheduledAt: &at,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, c.Status)
	return c
}

func TestSchedulerSendsDueCampaignExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t)
	c := h.scheduled(t, t0.Add(time.Minute))
	s := h.scheduler()

	s.RunOnce(context.Background())
	require.NoError(t, h.queue.Close(context.Background()))
	assert.Empty(t, h.mailer.Sent(), "not due yet")

	h.queue = queue.NewInMemoryQueue(zap.NewNop())
	h.subscribe(t)
	s = h.scheduler()
	h.clock.Set(t0.Add(2 * time.Minute))

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	require.NoError(t, h.queue.Close(context.Background()))

	assert.Len(t, h.mailer.Sent(), 2)
	got, err := h.campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, 2, got.SentCount)
}

func TestConcurrentSchedulersSendOnce(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t)
	h.scheduled(t, t0.Add(time.Minute))
	h.clock.Set(t0.Add(2 * time.Minute))

	a, b := h.scheduler(), h.scheduler()
	var wg sync.WaitGroup
	for _, s := range []*scheduler.CampaignScheduler{a, b, a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, h.queue.Close(context.Background()))

	assert.Len(t, h.mailer.Sent(), 2)
	stats, err := h.logs.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestSchedulerMarksFailedWhenDispatchFails(t *testing.T) {
	h := newHarness(t)
	c := h.scheduled(t, t0.Add(time.Minute))
	h.clock.Set(t0.Add(2 * time.Minute))

	h.scheduler().RunOnce(context.Background())

	got, err := h.campaigns.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "dispatch send job")
}

type fixedLock struct {
	ok  bool
	err error
}

func (l fixedLock) Acquire(context.Context) (bool, error) { return l.ok, l.err }

func TestSchedulerSkipsTickWhenLockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	c := h.scheduled(t, t0.Add(time.Minute))
	h.clock.Set(t0.Add(2 * time.Minute))

	h.scheduler(scheduler.WithTickLock(fixedLock{ok: false})).RunOnce(context.Background())

	got, _ := h.campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.StatusScheduled, got.Status)
}

func TestSchedulerScansWhenLockErrors(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t)
	c := h.scheduled(t, t0.Add(time.Minute))
	h.clock.Set(t0.Add(2 * time.Minute))

	h.scheduler(scheduler.WithTickLock(fixedLock{err: errors.New("redis down")})).RunOnce(context.Background())
	require.NoError(t, h.queue.Close(context.Background()))

	got, _ := h.campaigns.GetByID(context.Background(), c.ID)
	assert.Equal(t, model.StatusSent, got.Status)
}

func TestSchedulerReportsStuckCampaigns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stuck, err := h.svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "n", Subject: "s", Body: "b",
		Targeting: model.Targeting{Mode: model.TargetCategory, Category: model.CategoryAllTeams},
	})
	require.NoError(t, err)
	_, err = h.campaigns.MarkSending(ctx, stuck.ID, t0)
	require.NoError(t, err)

	active, err := h.svc.CreateCampaign(ctx, service.CreateCampaignInput{
		Name: "n", Subject: "s", Body: "b",
		Targeting: model.Targeting{Mode: model.TargetCategory, Category: model.CategoryAllTeams},
	})
	require.NoError(t, err)
	_, err = h.campaigns.MarkSending(ctx, active.ID, t0)
	require.NoError(t, err)

	later := t0.Add(time.Hour)
	require.NoError(t, h.logs.Append(ctx, &model.DeliveryLogEntry{
		CampaignID: &active.ID, ToEmail: "one@teams.org", Subject: "s",
		Category: model.CategoryMassMailing, Status: model.DeliverySent, CreatedAt: later.Add(-time.Minute),
	}))

	h.clock.Set(later)
	h.scheduler(scheduler.WithStuckAfter(15*time.Minute)).RunOnce(ctx)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StuckCampaigns))
	got, _ := h.campaigns.GetByID(ctx, stuck.ID)
	assert.Equal(t, model.StatusSending, got.Status, "report only")
}

func TestSchedulerStartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	h.subscribe(t)
	h.scheduled(t, t0.Add(time.Minute))
	h.clock.Set(t0.Add(2 * time.Minute))

	s := scheduler.NewCampaignScheduler(h.campaigns, h.logs, h.queue, h.orch, zap.NewNop(), 5*time.Millisecond,
		scheduler.WithClock(h.clock.Now))
	stop := s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	stop()
	require.NoError(t, h.queue.Close(context.Background()))

	assert.Len(t, h.mailer.Sent(), 2)
}

func TestRedisTickLock(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := context.Background()
	key := "campaign-mailer:test:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, key)

	first := scheduler.NewRedisTickLock(client, key, time.Second)
	second := scheduler.NewRedisTickLock(client, key, time.Second)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	owner, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, first.Owner(), owner)
}
