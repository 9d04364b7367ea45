package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// CampaignRepositoryInterface is the campaign store. MarkSending, ClaimRun, Finalize and MarkFailed are
// conditional transitions: they report false, without error, when the campaign is not in the
// required source status.
type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListStuck(ctx context.Context, startedBefore time.Time) ([]*model.Campaign, error)

	MarkSending(ctx context.Context, id int64, at time.Time) (bool, error)
	// ClaimRun admits exactly one executor of a sending campaign, so a redelivered job cannot start a second run.
	ClaimRun(ctx context.Context, id int64, at time.Time) (bool, error)
	Finalize(ctx context.Context, id int64, counters model.SendCounters, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)

	Delete(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) (int64, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, body, target_mode, target_category, target_season_id,
    recipients_limit, custom_emails, status, scheduled_at, total_recipients, sent_count, failed_count,
    failure_reason, created_by, created_at, sending_started_at, run_started_at, sent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c      model.Campaign
		emails []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.Body,
		&c.Targeting.Mode, &c.Targeting.Category, &c.Targeting.SeasonID,
		&c.Targeting.Limit, &emails, &c.Status, &c.ScheduledAt,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.FailureReason, &c.CreatedBy, &c.CreatedAt, &c.SendingStartedAt, &c.RunStartedAt, &c.SentAt,
	)
	if err != nil {
		return nil, err
	}
	if len(emails) > 0 {
		if err := json.Unmarshal(emails, &c.Targeting.Emails); err != nil {
			return nil, fmt.Errorf("decode custom_emails for campaign %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	emails := c.Targeting.Emails
	if emails == nil {
		emails = []string{}
	}
	emailsJSON, err := json.Marshal(emails)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO campaigns (name, subject, body, target_mode, target_category, target_season_id,
            recipients_limit, custom_emails, status, scheduled_at, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.Name, c.Subject, c.Body, c.Targeting.Mode, c.Targeting.Category, c.Targeting.SeasonID,
		c.Targeting.Limit, string(emailsJSON), c.Status, c.ScheduledAt, c.CreatedBy, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		cond := fmt.Sprintf(" AND status=$%d", argPos)
		query += cond
		countQuery += cond
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status='scheduled' AND scheduled_at <= $1
        ORDER BY scheduled_at, id`
	return r.list(ctx, query, now)
}

func (r *CampaignRepository) ListStuck(ctx context.Context, startedBefore time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status='sending' AND sending_started_at < $1
        ORDER BY sending_started_at, id`
	return r.list(ctx, query, startedBefore)
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ====================== Lifecycle transitions ======================

// MarkSending is a single conditional UPDATE, so two processes racing on the same id
// get exactly one affected row between them.
func (r *CampaignRepository) MarkSending(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE campaigns SET status='sending', sending_started_at=$2
        WHERE id=$1 AND status IN ('draft', 'scheduled')`
	return r.execTransition(ctx, query, id, at)
}

func (r *CampaignRepository) ClaimRun(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE campaigns SET run_started_at=$2
        WHERE id=$1 AND status='sending' AND run_started_at IS NULL`
	return r.execTransition(ctx, query, id, at)
}

func (r *CampaignRepository) Finalize(ctx context.Context, id int64, counters model.SendCounters, at time.Time) (bool, error) {
	query := `UPDATE campaigns
        SET status='sent', total_recipients=$2, sent_count=$3, failed_count=$4, sent_at=$5
        WHERE id=$1 AND status='sending'`
	return r.execTransition(ctx, query, id, counters.Total, counters.Sent, counters.Failed, at)
}

func (r *CampaignRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	query := `UPDATE campaigns SET status='failed', failure_reason=$2 WHERE id=$1 AND status='sending'`
	return r.execTransition(ctx, query, id, reason)
}

func (r *CampaignRepository) execTransition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) Delete(ctx context.Context, id int64) error {
	ok, err := r.execTransition(ctx, `DELETE FROM campaigns WHERE id=$1 AND status IN ('draft', 'scheduled')`, id)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	var status string
	err = r.DB.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return err
	}
	return appErrors.NewInvalidState(id, status, "delete")
}

// ClearAll removes every campaign except those mid-send, which still have to finalize.
func (r *CampaignRepository) ClearAll(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE status <> 'sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
