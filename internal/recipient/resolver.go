// Package recipient turns a campaign's targeting into the concrete list of addresses to mail.
package recipient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// CandidateSource is the read-only view of registered teams.
type CandidateSource interface {
	Query(ctx context.Context, status model.CandidateStatus, seasonID *int64) ([]model.Candidate, error)
}

// Recipient is one resolved address. Name and CandidateID are empty for custom addresses.
type Recipient struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	CandidateID *int64 `json:"candidate_id,omitempty"`
}

// Resolution is the outcome of resolving a targeting.
// TotalAvailable counts unique valid addresses before any limit was applied.
type Resolution struct {
	Recipients     []Recipient `json:"recipients"`
	TotalAvailable int         `json:"total_available"`
}

// Emails returns the resolved addresses in order.
func (r *Resolution) Emails() []string {
	out := make([]string, len(r.Recipients))
	for i, rc := range r.Recipients {
		out[i] = rc.Email
	}
	return out
}

// Resolve materializes targeting against src. It has no side effects and, for a given snapshot of
// src, always returns the same ordered list with no address repeated (case-insensitively).
func Resolve(ctx context.Context, t model.Targeting, src CandidateSource) (*Resolution, error) {
	switch t.Mode {
	case model.TargetCustom:
		return resolveCustom(t.Emails)
	case model.TargetCategory:
		candidates, err := query(ctx, t, src)
		if err != nil {
			return nil, err
		}
		recipients := fromCandidates(candidates)
		return &Resolution{Recipients: recipients, TotalAvailable: len(recipients)}, nil
	case model.TargetLimit:
		if t.Limit <= 0 {
			return nil, fmt.Errorf("%w: limit must be positive, got %d", appErrors.ErrNoRecipients, t.Limit)
		}
		candidates, err := query(ctx, t, src)
		if err != nil {
			return nil, err
		}
		sortNewestFirst(candidates)
		recipients := fromCandidates(candidates)
		total := len(recipients)
		if len(recipients) > t.Limit {
			recipients = recipients[:t.Limit]
		}
		return &Resolution{Recipients: recipients, TotalAvailable: total}, nil
	}
	return nil, appErrors.NewValidationError("targeting.mode", fmt.Sprintf("unknown mode %q", t.Mode))
}

// CustomAddresses applies the custom-list rules to a caller-supplied list.
func CustomAddresses(emails []string) ([]string, error) {
	res, err := resolveCustom(emails)
	if err != nil {
		return nil, err
	}
	return res.Emails(), nil
}

func resolveCustom(emails []string) (*Resolution, error) {
	seen := make(map[string]struct{}, len(emails))
	recipients := []Recipient{}
	for _, raw := range emails {
		addr, ok := normalize(raw)
		if !ok {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, Recipient{Email: addr})
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no valid addresses in custom list", appErrors.ErrNoRecipients)
	}
	return &Resolution{Recipients: recipients, TotalAvailable: len(recipients)}, nil
}

func query(ctx context.Context, t model.Targeting, src CandidateSource) ([]model.Candidate, error) {
	candidates, err := src.Query(ctx, t.Category.CandidateStatus(), t.SeasonID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	return candidates, nil
}

func sortNewestFirst(candidates []model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
}

// fromCandidates keeps source order, drops malformed addresses and keeps the first of any duplicates.
func fromCandidates(candidates []model.Candidate) []Recipient {
	seen := make(map[string]struct{}, len(candidates))
	out := []Recipient{}
	for _, c := range candidates {
		addr, ok := normalize(c.Email)
		if !ok {
			continue
		}
		key := strings.ToLower(addr)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		id := c.ID
		out = append(out, Recipient{Email: addr, Name: c.Name, CandidateID: &id})
	}
	return out
}

func normalize(raw string) (string, bool) {
	addr := strings.TrimSpace(raw)
	if addr == "" || !strings.Contains(addr, "@") {
		return "", false
	}
	return addr, true
}
