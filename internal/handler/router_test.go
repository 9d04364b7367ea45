package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type api struct {
	t          *testing.T
	srv        *httptest.Server
	mailer     *mailer.MockMailer
	superToken string
	adminToken string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zap.NewNop()
	campaigns := repository.NewMemoryCampaignRepository()
	logs := repository.NewMemoryDeliveryLogRepository()
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candidates := repository.NewMemoryCandidateSource(
		model.Candidate{ID: 1, Name: "Red", Email: "red@teams.org", Status: model.CandidateApproved, CreatedAt: created},
		model.Candidate{ID: 2, Name: "Blue", Email: "blue@teams.org", Status: model.CandidateApproved, CreatedAt: created.Add(time.Hour)},
		model.Candidate{ID: 3, Name: "Green", Email: "green@teams.org", Status: model.CandidatePending, CreatedAt: created.Add(2 * time.Hour)},
	)
	mock := mailer.NewMockMailer()

	campaignSvc := &service.CampaignService{CampaignRepo: campaigns, LogRepo: logs, Candidates: candidates, Log: log}
	orch := &service.SendOrchestrator{
		CampaignRepo: campaigns, LogRepo: logs, Candidates: candidates, Mailer: mock, Workers: 3, Log: log,
	}
	authn := auth.NewAuthenticator(config.AuthConfig{JWTSecret: "router-test"})

	router := handler.NewRouter(handler.RouterDeps{
		Campaigns: &controller.CampaignController{CampaignService: campaignSvc, Orchestrator: orch, Log: log},
		Emails: &controller.EmailController{
			LogService:      &service.DeliveryLogService{LogRepo: logs, Log: log},
			CampaignService: campaignSvc,
			Orchestrator:    orch,
			Log:             log,
		},
		Auth: authn,
		Log:  log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	superToken, err := authn.Issue("root", auth.RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	adminToken, err := authn.Issue("reader", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	return &api{t: t, srv: srv, mailer: mock, superToken: superToken, adminToken: adminToken}
}

func (a *api) do(method, path, token string, body any) (*http.Response, map[string]any) {
	a.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (a *api) createCampaign(body map[string]any) int64 {
	a.t.Helper()
	resp, out := a.do(http.MethodPost, "/api/v1/campaigns", a.superToken, body)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode, out)
	return int64(out["id"].(float64))
}

func approvedCampaign() map[string]any {
	return map[string]any{
		"name":      "Finals",
		"subject":   "Finals schedule",
		"body":      "Finals start at 10:00.",
		"targeting": map[string]any{"mode": "category", "category": "approved_teams"},
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	resp, out := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, _ = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthorization(t *testing.T) {
	a := newAPI(t)

	resp, _ := a.do(http.MethodGet, "/api/v1/campaigns", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(http.MethodGet, "/api/v1/campaigns", a.adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/campaigns"},
		{http.MethodDelete, "/api/v1/campaigns"},
		{http.MethodPost, "/api/v1/campaigns/1/send"},
		{http.MethodDelete, "/api/v1/campaigns/1"},
		{http.MethodDelete, "/api/v1/emails/logs"},
	} {
		resp, _ := a.do(tc.method, tc.path, a.adminToken, approvedCampaign())
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, tc.method+" "+tc.path)
	}
	assert.Empty(t, a.mailer.Sent())
}

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	id := a.createCampaign(approvedCampaign())
	path := "/api/v1/campaigns/" + strconv.FormatInt(id, 10)

	resp, out := a.do(http.MethodGet, "/api/v1/campaigns?page=1&page_size=10", a.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["data"], 1)
	assert.Equal(t, float64(1), out["pagination"].(map[string]any)["total_count"])

	resp, out = a.do(http.MethodPost, path+"/send", a.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["total"])
	assert.Equal(t, float64(2), out["sent"])
	assert.Equal(t, float64(0), out["failed"])

	resp, out = a.do(http.MethodPost, path+"/send", a.superToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, out["error"], "cannot send")

	resp, out = a.do(http.MethodGet, path, a.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sent", out["status"])
	assert.Equal(t, "root", out["created_by"])
	assert.Equal(t, float64(2), out["stats"].(map[string]any)["sent"])

	resp, _ = a.do(http.MethodDelete, path, a.superToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = a.do(http.MethodDelete, "/api/v1/campaigns/9999", a.superToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(http.MethodGet, "/api/v1/campaigns/abc", a.adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	draft := a.createCampaign(approvedCampaign())
	resp, _ = a.do(http.MethodDelete, "/api/v1/campaigns/"+strconv.FormatInt(draft, 10), a.superToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCreateCampaignValidationOverHTTP(t *testing.T) {
	a := newAPI(t)
	body := approvedCampaign()
	body["name"] = ""
	body["targeting"] = map[string]any{"mode": "custom", "emails": []string{}}

	resp, out := a.do(http.MethodPost, "/api/v1/campaigns", a.superToken, body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	fields := out["fields"].(map[string]any)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "targeting.emails")

	resp, _ = a.do(http.MethodPost, "/api/v1/campaigns", a.superToken, map[string]any{"nope": true})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCustomSendLogsAndStatsOverHTTP(t *testing.T) {
	a := newAPI(t)
	a.mailer.FailFor("bounce@x.org", nil)

	resp, out := a.do(http.MethodPost, "/api/v1/emails/send-custom", a.adminToken, map[string]any{
		"to":      []string{"ok@x.org", "bounce@x.org", "OK@x.org"},
		"subject": "Travel info",
		"body":    "Tickets attached.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["total"])
	assert.Equal(t, float64(1), out["failed"])

	resp, _ = a.do(http.MethodPost, "/api/v1/emails/send-custom", a.adminToken, map[string]any{
		"to": []string{"nobody"}, "subject": "s", "body": "b",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, out = a.do(http.MethodGet, "/api/v1/emails/logs?status=failed", a.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := out["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "bounce@x.org", items[0].(map[string]any)["to_email"])

	resp, out = a.do(http.MethodGet, "/api/v1/emails/logs/stats", a.adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["total"])
	assert.Equal(t, float64(2), out["by_category"].(map[string]any)["custom"])

	resp, _ = a.do(http.MethodGet, "/api/v1/emails/logs/stats?campaign_id=x", a.adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, out = a.do(http.MethodDelete, "/api/v1/emails/logs", a.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["deleted"])
}

func TestPreviewRecipientsOverHTTP(t *testing.T) {
	a := newAPI(t)
	resp, out := a.do(http.MethodPost, "/api/v1/emails/recipients/preview", a.adminToken, map[string]any{
		"mode": "limit", "category": "all_teams", "limit": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), out["total_available"])
	assert.Equal(t, float64(2), out["selected_count"])
	recipients := out["recipients"].([]any)
	assert.Equal(t, "green@teams.org", recipients[0].(map[string]any)["email"])
	assert.Equal(t, "Green", recipients[0].(map[string]any)["name"])
	assert.Empty(t, a.mailer.Sent())
}

func TestTeamEmailsOverHTTP(t *testing.T) {
	a := newAPI(t)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/api/v1/teams/emails?status=approved", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+a.adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var teams []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&teams))
	require.Len(t, teams, 2)
	assert.Equal(t, "blue@teams.org", teams[0]["email"])
	assert.Equal(t, "Blue", teams[0]["name"])
	assert.Equal(t, "red@teams.org", teams[1]["email"])

	r, out := a.do(http.MethodGet, "/api/v1/teams/emails?status=banned", a.adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, r.StatusCode)
	assert.Contains(t, out["fields"], "status")

	r, _ = a.do(http.MethodGet, "/api/v1/teams/emails?season_id=x", a.adminToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, r.StatusCode)

	r, _ = a.do(http.MethodGet, "/api/v1/teams/emails", "", nil)
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestClearCampaignsOverHTTP(t *testing.T) {
	a := newAPI(t)
	a.createCampaign(approvedCampaign())
	a.createCampaign(approvedCampaign())

	resp, out := a.do(http.MethodDelete, "/api/v1/campaigns", a.superToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), out["deleted"])
}
