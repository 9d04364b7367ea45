// internal/model/candidate.go
package model

import "time"

type CandidateStatus string

const (
	CandidateApproved CandidateStatus = "approved"
	CandidatePending  CandidateStatus = "pending"
)

// Candidate is a registered team as seen by recipient resolution.
type Candidate struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Email     string          `db:"email" json:"email"`
	Status    CandidateStatus `db:"status" json:"status"`
	SeasonID  *int64          `db:"season_id" json:"season_id,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
