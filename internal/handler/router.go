package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	"github.com/unclebandit/campaign-mailer/internal/controller"
)

type RouterDeps struct {
	Campaigns *controller.CampaignController
	Emails    *controller.EmailController
	Auth      *auth.Authenticator
	Log       *zap.Logger
}

// NewRouter wires every route. Reads need an admin token; anything that creates, sends, deletes or
// clears needs a privileged one.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.Authenticate)

		r.Route("/campaigns", func(r chi.Router) {
			r.With(auth.RequireAdmin).Get("/", d.Campaigns.ListCampaigns)
			r.With(auth.RequirePrivileged).Post("/", d.Campaigns.CreateCampaign)
			r.With(auth.RequirePrivileged).Delete("/", d.Campaigns.ClearCampaigns)

			r.With(auth.RequireAdmin).Get("/{id}", d.Campaigns.GetCampaign)
			r.With(auth.RequirePrivileged).Delete("/{id}", d.Campaigns.DeleteCampaign)
			r.With(auth.RequirePrivileged).Post("/{id}/send", d.Campaigns.SendCampaign)
		})

		r.Route("/emails", func(r chi.Router) {
			r.With(auth.RequireAdmin).Get("/logs", d.Emails.ListLogs)
			r.With(auth.RequireAdmin).Get("/logs/stats", d.Emails.Stats)
			r.With(auth.RequirePrivileged).Delete("/logs", d.Emails.ClearLogs)

			r.With(auth.RequireAdmin).Post("/send-custom", d.Emails.SendCustom)
			r.With(auth.RequireAdmin).Post("/recipients/preview", d.Emails.PreviewRecipients)
		})

		r.With(auth.RequireAdmin).Get("/teams/emails", d.Emails.TeamEmails)
	})

	return r
}

// RequestLogger logs one line per request with the matched route.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
