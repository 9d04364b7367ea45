package controller

import (
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type EmailController struct {
	LogService      *service.DeliveryLogService
	CampaignService *service.CampaignService
	Orchestrator    *service.SendOrchestrator
	Log             *zap.Logger
}

func (c *EmailController) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.DeliveryLogFilter{
		Category: model.DeliveryCategory(q.Get("category")),
		Status:   model.DeliveryStatus(q.Get("status")),
		Search:   q.Get("search"),
	}
	campaignID, err := optionalID(q, "campaign_id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	filter.CampaignID = campaignID

	page, err := c.LogService.ListLogs(r.Context(), queryInt(r, "page"), queryInt(r, "page_size"), filter)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       page.Items,
		"pagination": page.Pagination,
	})
}

func (c *EmailController) Stats(w http.ResponseWriter, r *http.Request) {
	campaignID, err := optionalID(r.URL.Query(), "campaign_id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	stats, err := c.LogService.Stats(r.Context(), campaignID)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *EmailController) ClearLogs(w http.ResponseWriter, r *http.Request) {
	n, err := c.LogService.ClearLogs(r.Context())
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (c *EmailController) SendCustom(w http.ResponseWriter, r *http.Request) {
	var in service.CustomEmailInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, c.Log, err)
		return
	}
	in.SentBy = auth.Subject(r.Context())

	result, err := c.Orchestrator.SendCustomEmail(r.Context(), in)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *EmailController) PreviewRecipients(w http.ResponseWriter, r *http.Request) {
	var t model.Targeting
	if err := decodeBody(r, &t); err != nil {
		writeError(w, c.Log, err)
		return
	}
	res, err := c.CampaignService.PreviewRecipients(r.Context(), t)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_available": res.TotalAvailable,
		"selected_count":  len(res.Recipients),
		"recipients":      res.Recipients,
	})
}

// TeamEmails lists selectable team addresses, filtered by ?status and ?season_id.
func (c *EmailController) TeamEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seasonID, err := optionalID(q, "season_id")
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	teams, err := c.CampaignService.ListTeamEmails(r.Context(), q.Get("status"), seasonID)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func optionalID(q url.Values, key string) (*int64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, appErrors.NewValidationError(key, "must be an integer")
	}
	return &id, nil
}
