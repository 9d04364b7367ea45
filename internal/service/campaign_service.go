// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/recipient"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LogRepo      repository.DeliveryLogRepositoryInterface
	Candidates   recipient.CandidateSource
	Log          *zap.Logger
	Now          func() time.Time
}

type CreateCampaignInput struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Subject     string          `json:"subject" validate:"required,max=255"`
	Body        string          `json:"body" validate:"required"`
	Targeting   model.Targeting `json:"targeting" validate:"-"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedBy   string          `json:"-"`
}

// CampaignDetails is a campaign plus the stats of its delivery log entries.
type CampaignDetails struct {
	*model.Campaign
	Stats *model.DeliveryStats `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// CreateCampaign stores a new campaign. A scheduled_at in the future makes it scheduled; anything
// else, including a timestamp already in the past, makes it a draft.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Subject = strings.TrimSpace(in.Subject)
	if strings.TrimSpace(in.Body) == "" {
		in.Body = "" // whitespace-only counts as empty; otherwise the body is kept verbatim
	}
	targeting, err := normalizeTargeting(in.Targeting, true)
	if err := mergeValidation(validateStruct(in), err); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		Name:      in.Name,
		Subject:   in.Subject,
		Body:      in.Body,
		Targeting: targeting,
		Status:    model.StatusDraft,
		CreatedBy: in.CreatedBy,
		CreatedAt: s.now(),
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		if at.After(c.CreatedAt) {
			c.Status = model.StatusScheduled
		}
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger().Info("campaign created",
		zap.Int64("campaign_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.String("mode", string(c.Targeting.Mode)),
		zap.String("created_by", c.CreatedBy),
	)
	return c, nil
}

// normalizeTargeting validates the variant and clears the fields the mode does not use.
// requireLimit rejects a non-positive limit up front instead of at send time.
func normalizeTargeting(t model.Targeting, requireLimit bool) (model.Targeting, *appErrors.ValidationError) {
	var verr *appErrors.ValidationError
	var ve *appErrors.ValidationError
	if err := validateStruct(t); errors.As(err, &ve) {
		for field, msg := range ve.Fields {
			verr = addField(verr, "targeting."+field, msg)
		}
	}

	switch t.Mode {
	case model.TargetCustom:
		supplied := false
		for _, e := range t.Emails {
			if strings.TrimSpace(e) != "" {
				supplied = true
				break
			}
		}
		if !supplied {
			verr = addField(verr, "targeting.emails", "at least one address is required")
		}
		return model.Targeting{Mode: model.TargetCustom, Emails: t.Emails}, verr
	case model.TargetCategory, model.TargetLimit:
		if t.Category == "" {
			verr = addField(verr, "targeting.category", "is required")
		}
		if t.Mode == model.TargetLimit && requireLimit && t.Limit <= 0 {
			verr = addField(verr, "targeting.limit", "must be a positive integer")
		}
		out := model.Targeting{Mode: t.Mode, Category: t.Category, SeasonID: t.SeasonID}
		if t.Mode == model.TargetLimit {
			out.Limit = t.Limit
		}
		return out, verr
	}
	return t, verr
}

func mergeValidation(err error, extra *appErrors.ValidationError) error {
	if extra == nil {
		return err
	}
	if err == nil {
		return extra
	}
	var ve *appErrors.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for k, v := range extra.Fields {
		ve.Fields[k] = v
	}
	return ve
}

// ListCampaigns fetches campaigns with pagination, newest first.
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	page, pageSize = clampPage(page, pageSize)
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id int64) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.LogRepo.Stats(ctx, &id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// DeleteCampaign removes a draft or scheduled campaign. Its delivery log entries, if any, stay.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id int64) error {
	if err := s.CampaignRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger().Info("campaign deleted", zap.Int64("campaign_id", id))
	return nil
}

// ClearCampaigns bulk-deletes every campaign that is not mid-send.
func (s *CampaignService) ClearCampaigns(ctx context.Context) (int64, error) {
	n, err := s.CampaignRepo.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	s.logger().Warn("campaigns cleared", zap.Int64("deleted", n))
	return n, nil
}

// PreviewRecipients resolves targeting against the current candidates without sending anything.
func (s *CampaignService) PreviewRecipients(ctx context.Context, t model.Targeting) (*recipient.Resolution, error) {
	targeting, verr := normalizeTargeting(t, false)
	if verr != nil {
		return nil, verr
	}
	return recipient.Resolve(ctx, targeting, s.Candidates)
}

// TeamEmail is one selectable team address.
type TeamEmail struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ListTeamEmails lists team addresses, newest registration first. status is "", "approved" or "pending".
func (s *CampaignService) ListTeamEmails(ctx context.Context, status string, seasonID *int64) ([]TeamEmail, error) {
	cs := model.CandidateStatus(status)
	switch cs {
	case "", model.CandidateApproved, model.CandidatePending:
	default:
		return nil, appErrors.NewValidationError("status", "must be approved or pending")
	}

	candidates, err := s.Candidates.Query(ctx, cs, seasonID)
	if err != nil {
		return nil, fmt.Errorf("query teams: %w", err)
	}
	out := make([]TeamEmail, len(candidates))
	for i, c := range candidates {
		out[i] = TeamEmail{ID: c.ID, Email: c.Email, Name: c.Name}
	}
	return out, nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func pagination(page, pageSize, total int) map[string]int {
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}
