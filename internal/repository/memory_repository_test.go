package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

func newCampaign(status model.CampaignStatus) *model.Campaign {
	return &model.Campaign{
		Name:      "Launch",
		Subject:   "Hello",
		Body:      "Body",
		Targeting: model.Targeting{Mode: model.TargetCategory, Category: model.CategoryAllTeams},
		Status:    status,
	}
}

func TestMemoryCampaignMarkSendingExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := newCampaign(model.StatusScheduled)
	require.NoError(t, repo.Create(ctx, c))

	const racers = 32
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkSending(ctx, c.ID, time.Now())
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSending, got.Status)
	assert.NotNil(t, got.SendingStartedAt)
}

func TestMemoryCampaignFinalizeOnlyFromSending(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := newCampaign(model.StatusDraft)
	require.NoError(t, repo.Create(ctx, c))

	ok, err := repo.Finalize(ctx, c.ID, model.SendCounters{Total: 1, Sent: 1}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "draft cannot be finalized")

	ok, _ = repo.MarkSending(ctx, c.ID, time.Now())
	require.True(t, ok)

	ok, err = repo.Finalize(ctx, c.ID, model.SendCounters{Total: 3, Sent: 2, Failed: 1}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Finalize(ctx, c.ID, model.SendCounters{Total: 9, Sent: 9}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second finalize is a no-op")

	got, _ := repo.GetByID(ctx, c.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, 3, got.TotalRecipients)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.NotNil(t, got.SentAt)

	ok, _ = repo.MarkSending(ctx, c.ID, time.Now())
	assert.False(t, ok, "sent campaigns are never claimed again")
}

func TestMemoryCampaignClaimRunOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := newCampaign(model.StatusScheduled)
	require.NoError(t, repo.Create(ctx, c))

	ok, err := repo.ClaimRun(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "only sending campaigns can be run")

	_, _ = repo.MarkSending(ctx, c.ID, time.Now())

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := repo.ClaimRun(ctx, c.ID, time.Now()); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RunStartedAt)
}

func TestMemoryCampaignMarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := newCampaign(model.StatusDraft)
	require.NoError(t, repo.Create(ctx, c))

	ok, _ := repo.MarkFailed(ctx, c.ID, "boom")
	assert.False(t, ok)

	_, _ = repo.MarkSending(ctx, c.ID, time.Now())
	ok, _ = repo.MarkFailed(ctx, c.ID, "boom")
	assert.True(t, ok)

	got, _ := repo.GetByID(ctx, c.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.FailureReason)
}

func TestMemoryCampaignDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()

	draft := newCampaign(model.StatusDraft)
	sending := newCampaign(model.StatusScheduled)
	require.NoError(t, repo.Create(ctx, draft))
	require.NoError(t, repo.Create(ctx, sending))
	_, _ = repo.MarkSending(ctx, sending.ID, time.Now())

	require.NoError(t, repo.Delete(ctx, draft.ID))
	_, err := repo.GetByID(ctx, draft.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	err = repo.Delete(ctx, sending.ID)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	err = repo.Delete(ctx, 999)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestMemoryCampaignClearAllKeepsSending(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()

	for _, st := range []model.CampaignStatus{model.StatusDraft, model.StatusScheduled} {
		require.NoError(t, repo.Create(ctx, newCampaign(st)))
	}
	inFlight := newCampaign(model.StatusDraft)
	require.NoError(t, repo.Create(ctx, inFlight))
	_, _ = repo.MarkSending(ctx, inFlight.ID, time.Now())

	n, err := repo.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, total, err := repo.ListCampaigns(ctx, 0, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, inFlight.ID, items[0].ID)
}

func TestMemoryCampaignListDue(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newCampaign(model.StatusScheduled)
	due.ScheduledAt = &past
	later := newCampaign(model.StatusScheduled)
	later.ScheduledAt = &future
	draft := newCampaign(model.StatusDraft)
	draft.ScheduledAt = &past

	for _, c := range []*model.Campaign{due, later, draft} {
		require.NoError(t, repo.Create(ctx, c))
	}

	got, err := repo.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestMemoryCampaignReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository()
	c := newCampaign(model.StatusDraft)
	c.Targeting = model.Targeting{Mode: model.TargetCustom, Emails: []string{"a@b.com"}}
	require.NoError(t, repo.Create(ctx, c))

	got, _ := repo.GetByID(ctx, c.ID)
	got.Status = model.StatusSent
	got.Targeting.Emails[0] = "mutated@b.com"

	again, _ := repo.GetByID(ctx, c.ID)
	assert.Equal(t, model.StatusDraft, again.Status)
	assert.Equal(t, []string{"a@b.com"}, again.Targeting.Emails)
}

func int64Ptr(v int64) *int64 { return &v }

func TestMemoryDeliveryLogListAndStats(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryDeliveryLogRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []model.DeliveryLogEntry{
		{CampaignID: int64Ptr(1), ToEmail: "a@x.com", Subject: "Launch", Category: model.CategoryMassMailing, Status: model.DeliverySent},
		{CampaignID: int64Ptr(1), ToEmail: "b@x.com", Subject: "Launch", Category: model.CategoryMassMailing, Status: model.DeliveryFailed, ErrorMessage: "rejected"},
		{CampaignID: int64Ptr(2), ToEmail: "c@y.com", Subject: "Other", Category: model.CategoryMassMailing, Status: model.DeliverySent},
		{ToEmail: "d@y.com", Subject: "Direct note", Category: model.CategoryCustom, Status: model.DeliverySent},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Append(ctx, &entries[i]))
		assert.NotZero(t, entries[i].ID)
	}

	items, total, err := repo.ListPaged(ctx, 0, 2, model.DeliveryLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, items, 2)
	assert.Equal(t, "d@y.com", items[0].ToEmail, "newest first")

	items, total, _ = repo.ListPaged(ctx, 0, 10, model.DeliveryLogFilter{Search: "X.COM"})
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	_, total, _ = repo.ListPaged(ctx, 0, 10, model.DeliveryLogFilter{Status: model.DeliveryFailed})
	assert.Equal(t, 1, total)

	_, total, _ = repo.ListPaged(ctx, 0, 10, model.DeliveryLogFilter{Category: model.CategoryCustom})
	assert.Equal(t, 1, total)

	_, total, _ = repo.ListPaged(ctx, 0, 10, model.DeliveryLogFilter{CampaignID: int64Ptr(1)})
	assert.Equal(t, 2, total)

	stats, err := repo.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 3, stats.ByCategory[model.CategoryMassMailing])
	assert.Equal(t, 1, stats.ByCategory[model.CategoryCustom])

	stats, _ = repo.Stats(ctx, int64Ptr(1))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)

	last, err := repo.LastActivity(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(base.Add(time.Second)))

	last, _ = repo.LastActivity(ctx, 42)
	assert.Nil(t, last)

	n, err := repo.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	stats, _ = repo.Stats(ctx, nil)
	assert.Equal(t, 0, stats.Total)
	assert.Contains(t, stats.ByCategory, model.CategoryCustom)
}

func TestMemoryCandidateSourceQuery(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := repository.NewMemoryCandidateSource(
		model.Candidate{ID: 1, Email: "old@x.com", Status: model.CandidateApproved, SeasonID: int64Ptr(1), CreatedAt: base},
		model.Candidate{ID: 2, Email: "new@x.com", Status: model.CandidatePending, SeasonID: int64Ptr(2), CreatedAt: base.Add(time.Hour)},
		model.Candidate{ID: 3, Email: "tie@x.com", Status: model.CandidateApproved, CreatedAt: base.Add(time.Hour)},
	)

	all, err := src.Query(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{all[0].ID, all[1].ID, all[2].ID})

	approved, _ := src.Query(ctx, model.CandidateApproved, nil)
	assert.Len(t, approved, 2)

	season, _ := src.Query(ctx, "", int64Ptr(2))
	require.Len(t, season, 1)
	assert.Equal(t, "new@x.com", season[0].Email)
}
