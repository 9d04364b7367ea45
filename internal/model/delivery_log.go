// internal/model/delivery_log.go
package model

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryCategory tags whether an entry came from a campaign or an ad-hoc send.
type DeliveryCategory string

const (
	CategoryMassMailing DeliveryCategory = "mass_mailing"
	CategoryCustom      DeliveryCategory = "custom"
)

const BodyPreviewLength = 500

// DeliveryLogEntry records one delivery attempt. Entries are written once and never updated.
// CampaignID is a plain id: entries outlive the campaign row.
type DeliveryLogEntry struct {
	ID           int64            `db:"id" json:"id"`
	CampaignID   *int64           `db:"campaign_id" json:"campaign_id,omitempty"`
	BatchID      string           `db:"batch_id" json:"batch_id"`
	CandidateID  *int64           `db:"candidate_id" json:"candidate_id,omitempty"`
	ToEmail      string           `db:"to_email" json:"to_email"`
	Subject      string           `db:"subject" json:"subject"`
	BodyPreview  string           `db:"body_preview" json:"body_preview,omitempty"`
	Category     DeliveryCategory `db:"category" json:"category"`
	Status       DeliveryStatus   `db:"status" json:"status"`
	ErrorMessage string           `db:"error_message" json:"error_message,omitempty"`
	SentBy       string           `db:"sent_by" json:"sent_by,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

type DeliveryLogFilter struct {
	Category   DeliveryCategory
	Status     DeliveryStatus
	Search     string
	CampaignID *int64
}

type DeliveryStats struct {
	Total      int                      `json:"total"`
	Sent       int                      `json:"sent"`
	Failed     int                      `json:"failed"`
	Pending    int                      `json:"pending"`
	ByCategory map[DeliveryCategory]int `json:"by_category"`
}

// NewDeliveryStats returns zeroed stats with every category present.
func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{
		ByCategory: map[DeliveryCategory]int{
			CategoryMassMailing: 0,
			CategoryCustom:      0,
		},
	}
}

// Preview truncates a body to the stored preview length without splitting a rune.
func Preview(body string) string {
	r := []rune(body)
	if len(r) <= BodyPreviewLength {
		return body
	}
	return string(r[:BodyPreviewLength])
}
