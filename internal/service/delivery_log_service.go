package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type DeliveryLogService struct {
	LogRepo repository.DeliveryLogRepositoryInterface
	Log     *zap.Logger
}

type DeliveryLogPage struct {
	Items      []*model.DeliveryLogEntry `json:"items"`
	Pagination map[string]int            `json:"pagination"`
}

// ListLogs pages through the delivery log, newest entry first. pageSize is clamped to 1..100.
func (s *DeliveryLogService) ListLogs(ctx context.Context, page, pageSize int, filter model.DeliveryLogFilter) (*DeliveryLogPage, error) {
	page, pageSize = clampPage(page, pageSize)
	items, total, err := s.LogRepo.ListPaged(ctx, (page-1)*pageSize, pageSize, filter)
	if err != nil {
		return nil, err
	}
	return &DeliveryLogPage{Items: items, Pagination: pagination(page, pageSize, total)}, nil
}

// Stats aggregates over every entry, or over one campaign's entries when campaignID is set.
func (s *DeliveryLogService) Stats(ctx context.Context, campaignID *int64) (*model.DeliveryStats, error) {
	return s.LogRepo.Stats(ctx, campaignID)
}

// ClearLogs irreversibly deletes the whole log.
func (s *DeliveryLogService) ClearLogs(ctx context.Context) (int64, error) {
	n, err := s.LogRepo.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if s.Log != nil {
		s.Log.Warn("delivery log cleared", zap.Int64("deleted", n))
	}
	return n, nil
}
