package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// DeliveryLogRepositoryInterface is the append-only delivery log.
type DeliveryLogRepositoryInterface interface {
	Append(ctx context.Context, e *model.DeliveryLogEntry) error
	ListPaged(ctx context.Context, offset, limit int, f model.DeliveryLogFilter) ([]*model.DeliveryLogEntry, int, error)
	Stats(ctx context.Context, campaignID *int64) (*model.DeliveryStats, error)
	LastActivity(ctx context.Context, campaignID int64) (*time.Time, error)
	Clear(ctx context.Context) (int64, error)
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

const logColumns = `id, campaign_id, batch_id, candidate_id, to_email, subject, body_preview,
    category, status, error_message, sent_by, created_at`

// Append inserts a new entry and fills in its ID. There is no update path.
func (r *DeliveryLogRepository) Append(ctx context.Context, e *model.DeliveryLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO email_logs
        (campaign_id, batch_id, candidate_id, to_email, subject, body_preview, category, status, error_message, sent_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		e.CampaignID, e.BatchID, e.CandidateID, e.ToEmail, e.Subject, e.BodyPreview,
		e.Category, e.Status, e.ErrorMessage, e.SentBy, e.CreatedAt,
	).Scan(&e.ID)
}

func (r *DeliveryLogRepository) ListPaged(ctx context.Context, offset, limit int, f model.DeliveryLogFilter) ([]*model.DeliveryLogEntry, int, error) {
	where, args := logFilterClause(f)

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	argPos := len(args) + 1
	query := `SELECT ` + logColumns + ` FROM email_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []*model.DeliveryLogEntry{}
	for rows.Next() {
		var e model.DeliveryLogEntry
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.BatchID, &e.CandidateID, &e.ToEmail, &e.Subject, &e.BodyPreview,
			&e.Category, &e.Status, &e.ErrorMessage, &e.SentBy, &e.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func logFilterClause(f model.DeliveryLogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Category != "" {
		add("category=$%d", f.Category)
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.CampaignID != nil {
		add("campaign_id=$%d", *f.CampaignID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		conds = append(conds, fmt.Sprintf("(to_email ILIKE $%d OR subject ILIKE $%d)", len(args), len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *DeliveryLogRepository) Stats(ctx context.Context, campaignID *int64) (*model.DeliveryStats, error) {
	query := `SELECT category, status, COUNT(*) FROM email_logs`
	args := []any{}
	if campaignID != nil {
		query += ` WHERE campaign_id=$1`
		args = append(args, *campaignID)
	}
	query += ` GROUP BY category, status`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := model.NewDeliveryStats()
	for rows.Next() {
		var (
			category model.DeliveryCategory
			status   model.DeliveryStatus
			count    int
		)
		if err := rows.Scan(&category, &status, &count); err != nil {
			return nil, err
		}
		addToStats(stats, category, status, count)
	}
	return stats, rows.Err()
}

func addToStats(stats *model.DeliveryStats, category model.DeliveryCategory, status model.DeliveryStatus, n int) {
	stats.Total += n
	stats.ByCategory[category] += n
	switch status {
	case model.DeliverySent:
		stats.Sent += n
	case model.DeliveryFailed:
		stats.Failed += n
	}
	stats.Pending = stats.Total - stats.Sent - stats.Failed
}

func (r *DeliveryLogRepository) LastActivity(ctx context.Context, campaignID int64) (*time.Time, error) {
	var last sql.NullTime
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(created_at) FROM email_logs WHERE campaign_id=$1`, campaignID).Scan(&last)
	if err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

func (r *DeliveryLogRepository) Clear(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM email_logs`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
