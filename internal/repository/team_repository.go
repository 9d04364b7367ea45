package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

// TeamRepository is the read-only candidate source backed by the teams table.
type TeamRepository struct {
	DB *sql.DB
}

// Query returns teams matching the filters, newest registration first.
func (r *TeamRepository) Query(ctx context.Context, status model.CandidateStatus, seasonID *int64) ([]model.Candidate, error) {
	query := `SELECT id, name, email, status, season_id, created_at FROM teams WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if seasonID != nil {
		args = append(args, *seasonID)
		query += fmt.Sprintf(" AND season_id=$%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := []model.Candidate{}
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Status, &c.SeasonID, &c.CreatedAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
