// internal/controller/campaign_controller.go
package controller

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Orchestrator    *service.SendOrchestrator
	Log             *zap.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, c.Log, err)
		return
	}
	in.CreatedBy = auth.Subject(r.Context())

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), in)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(),
		queryInt(r, "page"), queryInt(r, "page_size"), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// SendCampaign runs the send synchronously and returns its counters.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	result, err := c.Orchestrator.SendCampaign(r.Context(), id, auth.Subject(r.Context()))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := c.CampaignService.DeleteCampaign(r.Context(), id); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) ClearCampaigns(w http.ResponseWriter, r *http.Request) {
	n, err := c.CampaignService.ClearCampaigns(r.Context())
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
