// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusSending   CampaignStatus = "sending"
	StatusSent      CampaignStatus = "sent"
	StatusFailed    CampaignStatus = "failed"
)

// Deletable reports whether a campaign in this status may still be removed.
func (s CampaignStatus) Deletable() bool {
	return s == StatusDraft || s == StatusScheduled
}

// Sendable reports whether a campaign in this status may be claimed for sending.
func (s CampaignStatus) Sendable() bool {
	return s == StatusDraft || s == StatusScheduled
}

// TargetMode selects which shape of Targeting is in effect.
type TargetMode string

const (
	TargetCategory TargetMode = "category"
	TargetLimit    TargetMode = "limit"
	TargetCustom   TargetMode = "custom"
)

// Category is the candidate population a category or limit campaign draws from.
type Category string

const (
	CategoryAllTeams      Category = "all_teams"
	CategoryApprovedTeams Category = "approved_teams"
	CategoryPendingTeams  Category = "pending_teams"
)

// CandidateStatus maps the category to the team status filter of the candidate source.
// An empty status means no status filter.
func (c Category) CandidateStatus() CandidateStatus {
	switch c {
	case CategoryApprovedTeams:
		return CandidateApproved
	case CategoryPendingTeams:
		return CandidatePending
	}
	return ""
}

// Targeting is a tagged variant: Mode decides which of the remaining fields are meaningful.
//
//	category: Category, SeasonID
//	limit:    Category, SeasonID, Limit
//	custom:   Emails
type Targeting struct {
	Mode     TargetMode `json:"mode" validate:"required,oneof=category limit custom"`
	Category Category   `json:"category,omitempty" validate:"omitempty,oneof=all_teams approved_teams pending_teams"`
	SeasonID *int64     `json:"season_id,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Emails   []string   `json:"emails,omitempty"`
}

type Campaign struct {
	ID               int64          `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Subject          string         `db:"subject" json:"subject"`
	Body             string         `db:"body" json:"body"`
	Targeting        Targeting      `json:"targeting"`
	Status           CampaignStatus `db:"status" json:"status"`
	ScheduledAt      *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TotalRecipients  int            `db:"total_recipients" json:"total_recipients"`
	SentCount        int            `db:"sent_count" json:"sent_count"`
	FailedCount      int            `db:"failed_count" json:"failed_count"`
	FailureReason    string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedBy        string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	SendingStartedAt *time.Time     `db:"sending_started_at" json:"sending_started_at,omitempty"`
	RunStartedAt     *time.Time     `db:"run_started_at" json:"run_started_at,omitempty"`
	SentAt           *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
}

// SendCounters are the result counters written by finalize.
type SendCounters struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
