package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// MemoryCampaignRepository keeps campaigns in process. Transitions hold the write lock for the
// check and the update together, which gives the same at-most-once claim as the SQL version.
type MemoryCampaignRepository struct {
	mu        sync.RWMutex
	nextID    int64
	campaigns map[int64]*model.Campaign
}

func NewMemoryCampaignRepository() *MemoryCampaignRepository {
	return &MemoryCampaignRepository{campaigns: make(map[int64]*model.Campaign)}
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Targeting.Emails = append([]string(nil), c.Targeting.Emails...)
	return &cp
}

func (r *MemoryCampaignRepository) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	r.nextID++
	c.ID = r.nextID
	r.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *MemoryCampaignRepository) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (r *MemoryCampaignRepository) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	matched := r.filter(func(c *model.Campaign) bool {
		return status == "" || string(c.Status) == status
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, offset, limit), len(matched), nil
}

func (r *MemoryCampaignRepository) ListDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	due := r.filter(func(c *model.Campaign) bool {
		return c.Status == model.StatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	})
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(*due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (r *MemoryCampaignRepository) ListStuck(_ context.Context, startedBefore time.Time) ([]*model.Campaign, error) {
	stuck := r.filter(func(c *model.Campaign) bool {
		return c.Status == model.StatusSending && c.SendingStartedAt != nil && c.SendingStartedAt.Before(startedBefore)
	})
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].ID < stuck[j].ID })
	return stuck, nil
}

func (r *MemoryCampaignRepository) filter(keep func(*model.Campaign) bool) []*model.Campaign {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if keep(c) {
			out = append(out, cloneCampaign(c))
		}
	}
	return out
}

func (r *MemoryCampaignRepository) MarkSending(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(id, func(c *model.Campaign) bool {
		if !c.Status.Sendable() {
			return false
		}
		c.Status = model.StatusSending
		c.SendingStartedAt = &at
		return true
	}), nil
}

func (r *MemoryCampaignRepository) ClaimRun(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.transition(id, func(c *model.Campaign) bool {
		if c.Status != model.StatusSending || c.RunStartedAt != nil {
			return false
		}
		c.RunStartedAt = &at
		return true
	}), nil
}

func (r *MemoryCampaignRepository) Finalize(_ context.Context, id int64, counters model.SendCounters, at time.Time) (bool, error) {
	return r.transition(id, func(c *model.Campaign) bool {
		if c.Status != model.StatusSending {
			return false
		}
		c.Status = model.StatusSent
		c.TotalRecipients = counters.Total
		c.SentCount = counters.Sent
		c.FailedCount = counters.Failed
		c.SentAt = &at
		return true
	}), nil
}

func (r *MemoryCampaignRepository) MarkFailed(_ context.Context, id int64, reason string) (bool, error) {
	return r.transition(id, func(c *model.Campaign) bool {
		if c.Status != model.StatusSending {
			return false
		}
		c.Status = model.StatusFailed
		c.FailureReason = reason
		return true
	}), nil
}

func (r *MemoryCampaignRepository) transition(id int64, apply func(*model.Campaign) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return false
	}
	return apply(c)
}

func (r *MemoryCampaignRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if !c.Status.Deletable() {
		return appErrors.NewInvalidState(id, string(c.Status), "delete")
	}
	delete(r.campaigns, id)
	return nil
}

func (r *MemoryCampaignRepository) ClearAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, c := range r.campaigns {
		if c.Status == model.StatusSending {
			continue
		}
		delete(r.campaigns, id)
		n++
	}
	return n, nil
}

var _ CampaignRepositoryInterface = (*MemoryCampaignRepository)(nil)

// MemoryDeliveryLogRepository is an append-only slice guarded by a mutex.
type MemoryDeliveryLogRepository struct {
	mu      sync.RWMutex
	nextID  int64
	entries []model.DeliveryLogEntry
}

func NewMemoryDeliveryLogRepository() *MemoryDeliveryLogRepository {
	return &MemoryDeliveryLogRepository{}
}

func (r *MemoryDeliveryLogRepository) Append(_ context.Context, e *model.DeliveryLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.nextID++
	e.ID = r.nextID
	r.entries = append(r.entries, *e)
	return nil
}

func (r *MemoryDeliveryLogRepository) ListPaged(_ context.Context, offset, limit int, f model.DeliveryLogFilter) ([]*model.DeliveryLogEntry, int, error) {
	r.mu.RLock()
	matched := []*model.DeliveryLogEntry{}
	for i := range r.entries {
		if matchesLogFilter(&r.entries[i], f) {
			e := r.entries[i]
			matched = append(matched, &e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, offset, limit), len(matched), nil
}

func matchesLogFilter(e *model.DeliveryLogEntry, f model.DeliveryLogFilter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.CampaignID != nil && (e.CampaignID == nil || *e.CampaignID != *f.CampaignID) {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		return strings.Contains(strings.ToLower(e.ToEmail), s) || strings.Contains(strings.ToLower(e.Subject), s)
	}
	return true
}

func (r *MemoryDeliveryLogRepository) Stats(_ context.Context, campaignID *int64) (*model.DeliveryStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.NewDeliveryStats()
	for i := range r.entries {
		e := &r.entries[i]
		if campaignID != nil && (e.CampaignID == nil || *e.CampaignID != *campaignID) {
			continue
		}
		addToStats(stats, e.Category, e.Status, 1)
	}
	return stats, nil
}

func (r *MemoryDeliveryLogRepository) LastActivity(_ context.Context, campaignID int64) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	for i := range r.entries {
		e := &r.entries[i]
		if e.CampaignID == nil || *e.CampaignID != campaignID {
			continue
		}
		if last == nil || e.CreatedAt.After(*last) {
			t := e.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (r *MemoryDeliveryLogRepository) Clear(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.entries))
	r.entries = nil
	return n, nil
}

var _ DeliveryLogRepositoryInterface = (*MemoryDeliveryLogRepository)(nil)

// MemoryCandidateSource serves a fixed candidate list, used by the memory storage driver and tests.
type MemoryCandidateSource struct {
	mu         sync.RWMutex
	candidates []model.Candidate
}

func NewMemoryCandidateSource(candidates ...model.Candidate) *MemoryCandidateSource {
	return &MemoryCandidateSource{candidates: append([]model.Candidate(nil), candidates...)}
}

// Add registers more candidates; resolution always sees the current list.
func (s *MemoryCandidateSource) Add(candidates ...model.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidates...)
}

func (s *MemoryCandidateSource) Query(_ context.Context, status model.CandidateStatus, seasonID *int64) ([]model.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Candidate{}
	for _, c := range s.candidates {
		if status != "" && c.Status != status {
			continue
		}
		if seasonID != nil && (c.SeasonID == nil || *c.SeasonID != *seasonID) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
